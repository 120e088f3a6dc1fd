// Package output renders live progress and the final summary of a run.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

const (
	clearLine = "\r\033[2K"
	rule      = "━"
)

// ColorScheme defines the colors used for the console output.
type ColorScheme struct {
	Title  *color.Color
	Accent *color.Color
	Label  *color.Color
	Dim    *color.Color
	Pass   *color.Color
	Warn   *color.Color
	Fail   *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:  color.New(color.Bold),
		Accent: color.New(color.FgCyan),
		Label:  color.New(color.FgMagenta),
		Dim:    color.New(color.Faint),
		Pass:   color.New(color.FgGreen, color.Bold),
		Warn:   color.New(color.FgYellow, color.Bold),
		Fail:   color.New(color.FgRed, color.Bold),
	}
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Accent, s.Label, s.Dim, s.Pass, s.Warn, s.Fail}
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer   io.Writer
	Quiet    bool
	NoColor  bool
	ForceTTY bool
}

// Console prints a run to a terminal or a plain stream. On a terminal the
// progress line is rewritten in place; otherwise one line is printed per
// update.
type Console struct {
	w      io.Writer
	isTTY  bool
	quiet  bool
	colors *ColorScheme

	mu         sync.Mutex
	liveActive bool
}

// NewConsole creates a console writer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || IsTerminal(cfg.Writer)

	colors := DefaultColorScheme()
	if cfg.NoColor || !isTTY || os.Getenv("NO_COLOR") != "" {
		colors = NoColorScheme()
	} else {
		for _, c := range colors.all() {
			c.EnableColor()
		}
	}

	return &Console{
		w:      cfg.Writer,
		isTTY:  isTTY,
		quiet:  cfg.Quiet,
		colors: colors,
	}
}

// IsTTY reports whether progress lines are rewritten in place.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run banner.
func (c *Console) PrintHeader(name string, schedule *executor.Schedule, steps []string) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(rule, 56)
	c.writeln(c.colors.Accent.Sprint(line))
	c.writeln(c.colors.Title.Sprintf("%s [%s]", name, schedule.Type()))
	c.writeln(c.colors.Accent.Sprint(line))

	if len(schedule.Stages) > 0 {
		parts := make([]string, len(schedule.Stages))
		for i, st := range schedule.Stages {
			parts[i] = fmt.Sprintf("%s→%d", formatDuration(st.Duration), st.Target)
		}
		c.writeln(fmt.Sprintf("Stages:   %s", strings.Join(parts, ", ")))
	} else {
		c.writeln(fmt.Sprintf("VUs:      %d for %s", schedule.VUs, formatDuration(schedule.Duration)))
	}
	c.writeln(fmt.Sprintf("Duration: %s (max %d VUs)", formatDuration(schedule.TotalDuration()), schedule.MaxVUs()))
	c.writeln(fmt.Sprintf("Steps:    %s", strings.Join(steps, " → ")))
	c.writeln("")
}

// Progress prints the live status line.
func (c *Console) Progress(snap *metrics.RunMetrics, stats *executor.Stats) {
	if c.quiet || snap == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.progressLine(snap, stats)
	if c.isTTY {
		c.write(clearLine + line)
		c.liveActive = true
		return
	}
	c.writeln(line)
}

func (c *Console) progressLine(snap *metrics.RunMetrics, stats *executor.Stats) string {
	stage := ""
	total := time.Duration(0)
	if stats != nil {
		total = stats.TotalDuration
		if stats.TotalStages > 0 && stats.CurrentStage >= 0 {
			stage = fmt.Sprintf(" (%d/%d)", stats.CurrentStage+1, stats.TotalStages)
		}
	}

	checks := snap.ChecksTotal()
	checkColor := c.colors.Pass
	if checks.Failed > 0 {
		checkColor = c.colors.Warn
	}

	return fmt.Sprintf("[%s / %s] %s%s | VUs: %s/%d | iters: %s (%d aborted) | reqs: %s (%.1f/s) | checks: %s | p95: %s",
		formatDuration(snap.Elapsed),
		formatDuration(total),
		c.colors.Label.Sprint(snap.Phase),
		stage,
		c.colors.Accent.Sprint(snap.ActiveVUs),
		snap.TargetVUs,
		formatNumber(snap.Iterations.Completed),
		snap.Iterations.Aborted,
		formatNumber(snap.Requests.Total),
		snap.RPS,
		checkColor.Sprintf("%.1f%%", checks.PassRate()*100),
		formatDurationShort(snap.Latency.P95))
}

// PrintSummary prints the final result.
func (c *Console) PrintSummary(name string, result *metrics.RunMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveActive {
		c.write(clearLine)
		c.liveActive = false
	}

	if c.quiet {
		c.writeln(c.verdict(result.Passed))
		return
	}

	line := strings.Repeat(rule, 56)
	c.writeln(c.colors.Accent.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(name), c.verdict(result.Passed)))
	c.writeln(c.colors.Accent.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", c.colors.Dim.Sprint(result.RunID)))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Accent.Sprint(formatDuration(result.Elapsed))))
	c.writeln(fmt.Sprintf("Peak VUs:      %s", c.colors.Accent.Sprint(result.PeakVUs)))
	c.writeln(fmt.Sprintf("Iterations:    %s completed, %d aborted",
		c.colors.Accent.Sprint(formatNumber(result.Iterations.Completed)), result.Iterations.Aborted))
	c.writeln(fmt.Sprintf("Requests:      %s (%.1f/s), %d transport errors",
		c.colors.Accent.Sprint(formatNumber(result.Requests.Total)), result.RPS, result.Requests.TransportErrors))
	c.writeln("")

	if len(result.Checks) > 0 {
		c.writeln(c.colors.Title.Sprint("Checks:"))
		names := make([]string, 0, len(result.Checks))
		for n := range result.Checks {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			counts := result.Checks[n]
			c.writeln(fmt.Sprintf("  %s %s %s", c.icon(counts.Failed == 0), n,
				c.colors.Dim.Sprintf("(%.1f%%, ✓ %d / ✗ %d)", counts.PassRate()*100, counts.Passed, counts.Failed)))
		}
		c.writeln("")
	}

	if result.Latency.Count > 0 {
		l := result.Latency
		c.writeln(c.colors.Title.Sprint("Latency:"))
		c.writeln(fmt.Sprintf("  min %s  avg %s  p50 %s  p90 %s  p95 %s  p99 %s  max %s",
			formatDurationShort(l.Min), formatDurationShort(l.Mean), formatDurationShort(l.P50),
			formatDurationShort(l.P90), formatDurationShort(l.P95), formatDurationShort(l.P99),
			formatDurationShort(l.Max)))

		steps := make([]string, 0, len(result.Steps))
		for n := range result.Steps {
			steps = append(steps, n)
		}
		sort.Strings(steps)
		for _, n := range steps {
			s := result.Steps[n]
			c.writeln(fmt.Sprintf("  %-12s p50 %s  p95 %s  (%s reqs)", n,
				formatDurationShort(s.P50), formatDurationShort(s.P95), formatNumber(s.Count)))
		}
		c.writeln("")
	}

	if len(result.Thresholds) > 0 {
		c.writeln(c.colors.Title.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", c.icon(t.Passed), t.Metric, t.Expression, t.Value))
			if !t.Passed && t.Message != "" {
				c.writeln("      " + c.colors.Dim.Sprint(t.Message))
			}
		}
		c.writeln("")
	}

	for _, w := range result.Warnings {
		c.writeln(c.colors.Warn.Sprint("warning: ") + w)
	}
}

func (c *Console) verdict(passed bool) string {
	if passed {
		return c.colors.Pass.Sprint("PASSED")
	}
	return c.colors.Fail.Sprint("FAILED")
}

func (c *Console) icon(ok bool) string {
	if ok {
		return c.colors.Pass.Sprint("✓")
	}
	return c.colors.Fail.Sprint("✗")
}

func (c *Console) write(s string) {
	fmt.Fprint(c.w, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.w, s)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm%02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if n < 0 || len(str) <= 3 {
		return str
	}

	var sb strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		sb.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(str[i : i+3])
	}
	return sb.String()
}
