package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/output"
	"github.com/wesleyorama2/surge/internal/performance/scenario"
)

// exitThresholdsFailed is returned when the run completed but a threshold
// or check failed.
const exitThresholdsFailed = 2

type runOptions struct {
	configFile   string
	url          string
	stages       string
	vus          int
	duration     string
	pause        string
	gracefulStop string
	maxRPS       float64
	quiet        bool
	out          string
	interval     time.Duration
}

func newRunCmd(g *globals) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run a load test from a configuration file, or run the built-in
user-counter scenario against a base URL.

Config file mode:
  surge run --config user-counter.yaml

Quick mode (create, increment, count and delete a user counter):
  surge run --url http://localhost:8080 --stages "30s:200,1m:200,10s:0"
  surge run --url http://localhost:8080 --vus 10 --duration 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadTest(cmd, g, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "path to a YAML or JSON test file")
	f.StringVar(&opts.url, "url", "", "base URL for the built-in user-counter scenario")
	f.StringVar(&opts.stages, "stages", "", `ramping stages as "duration:target,..." (e.g. "30s:10,1m:10,10s:0")`)
	f.IntVar(&opts.vus, "vus", 0, "fixed number of VUs (with --duration)")
	f.StringVar(&opts.duration, "duration", "", "duration of a fixed-VU run")
	f.StringVar(&opts.pause, "pause", "", "constant pause between iterations of a VU in quick mode (default 1s, 0 disables)")
	f.StringVar(&opts.gracefulStop, "graceful-stop", "", "time VUs get to finish their iteration at the end (default 30s)")
	f.Float64Var(&opts.maxRPS, "max-rps", 0, "cap on requests per second across all VUs (0 = unlimited)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "only print PASSED or FAILED")
	f.StringVarP(&opts.out, "out", "o", "", "write the result to a .json, .yaml or .xml (JUnit) file")
	f.DurationVar(&opts.interval, "progress-interval", time.Second, "how often the progress line is refreshed")

	cmd.MarkFlagsMutuallyExclusive("config", "url")
	cmd.MarkFlagsMutuallyExclusive("stages", "vus")
	cmd.MarkFlagsMutuallyExclusive("stages", "duration")

	return cmd
}

func runLoadTest(cmd *cobra.Command, g *globals, opts *runOptions) error {
	var (
		cfg *config.TestConfig
		err error
	)
	switch {
	case opts.configFile != "":
		cfg, err = config.LoadConfig(opts.configFile)
	case opts.url != "":
		cfg, err = buildQuickConfig(opts)
	default:
		return fmt.Errorf("either --config or --url is required")
	}
	if err != nil {
		return err
	}
	if opts.maxRPS > 0 {
		cfg.Settings.MaxRPS = opts.maxRPS
	}
	if opts.out != "" {
		if _, err := output.FormatForPath(opts.out); err != nil {
			return err
		}
	}

	plan, err := cfg.Build()
	if err != nil {
		return err
	}

	logger, err := g.logger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   opts.quiet,
		NoColor: g.noColor(),
	})

	client := httpclient.New(plan.Client)
	defer client.CloseIdleConnections()

	eng := engine.New(engine.Options{
		Sender:     client,
		Thresholds: plan.Thresholds,
		Logger:     logger,
	})

	stepNames := make([]string, len(plan.Scenario.Steps))
	for i, st := range plan.Scenario.Steps {
		stepNames[i] = st.Name
	}
	console.PrintHeader(plan.Name, plan.Schedule, stepNames)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	progressCtx, stopProgress := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reportProgress(progressCtx, eng, console, opts.interval)
	}()

	result, runErr := eng.Run(ctx, plan.Schedule, plan.Scenario)
	stopProgress()
	wg.Wait()

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}

	console.PrintSummary(plan.Name, result)

	if opts.out != "" {
		if err := output.WriteResultFile(opts.out, plan.Name, result); err != nil {
			return err
		}
		logger.Info("result written", zap.String("path", opts.out))
	}

	checks := result.ChecksTotal()
	logger.Debug("run result",
		zap.String("run_id", result.RunID),
		zap.Int64("checksFailed", checks.Failed),
		zap.Bool("passed", result.Passed))

	if !result.Passed {
		return &ExitError{Code: exitThresholdsFailed, Err: fmt.Errorf("thresholds failed")}
	}
	return nil
}

func reportProgress(ctx context.Context, eng *engine.Engine, console *output.Console, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if eng.IsRunning() {
				console.Progress(eng.Snapshot(), eng.Stats())
			}
		}
	}
}

// defaultQuickPause is the think time between iterations of the built-in
// user-counter workload.
const defaultQuickPause = "1s"

// buildQuickConfig builds a config running the built-in user-counter
// scenario. Without --stages or --vus it runs 10 VUs for 30s, and every VU
// pauses 1s between iterations unless --pause says otherwise.
func buildQuickConfig(opts *runOptions) (*config.TestConfig, error) {
	cfg := &config.TestConfig{
		Name:     "user-counter",
		Settings: config.GlobalSettings{BaseURL: strings.TrimRight(opts.url, "/")},
		Schedule: config.ScheduleConfig{
			GracefulStop: opts.gracefulStop,
		},
		Scenario: scenarioConfig(scenario.Canonical("{{baseUrl}}")),
	}

	if opts.stages != "" {
		stages, err := parseStages(opts.stages)
		if err != nil {
			return nil, fmt.Errorf("invalid --stages: %w", err)
		}
		cfg.Schedule.Stages = stages
	} else {
		cfg.Schedule.VUs = opts.vus
		cfg.Schedule.Duration = opts.duration
		if cfg.Schedule.VUs == 0 {
			cfg.Schedule.VUs = 10
		}
		if cfg.Schedule.Duration == "" {
			cfg.Schedule.Duration = "30s"
		}
	}

	pause := opts.pause
	if pause == "" {
		pause = defaultQuickPause
	}
	cfg.Schedule.Pause = &config.PacingConfig{Type: "constant", Duration: pause}

	config.ApplyDefaults(cfg)
	return cfg, nil
}

// scenarioConfig converts a scenario back to its config form.
func scenarioConfig(sc *scenario.Scenario) config.ScenarioConfig {
	out := config.ScenarioConfig{Name: sc.Name}
	for _, st := range sc.Steps {
		step := config.StepConfig{
			Name:        st.Name,
			Method:      st.Method,
			URL:         st.URL,
			Headers:     st.Headers,
			Body:        st.Body,
			LoadBearing: st.LoadBearing,
		}
		if st.ThinkTime > 0 {
			step.ThinkTime = st.ThinkTime.String()
		}
		for _, c := range st.Checks {
			step.Checks = append(step.Checks, config.CheckConfig{Name: c.Name, Type: string(c.Type), Value: c.Value, Path: c.Path})
		}
		for _, x := range st.Extract {
			step.Extract = append(step.Extract, config.ExtractConfig{Name: x.Name, Source: x.Source, Path: x.Path, Regex: x.Regex})
		}
		out.Steps = append(out.Steps, step)
	}
	return out
}

// parseStages parses stages from CLI format "30s:10,2m:10,30s:0".
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	for i, part := range strings.Split(stagesStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		durStr, targetStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("stage %d: expected duration:target, got %q", i+1, part)
		}
		if _, err := config.ParseDurationString(durStr); err != nil {
			return nil, fmt.Errorf("stage %d: %w", i+1, err)
		}
		target, err := strconv.Atoi(strings.TrimSpace(targetStr))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target %q", i+1, targetStr)
		}

		stages = append(stages, config.StageConfig{Duration: strings.TrimSpace(durStr), Target: target})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("no stages given")
	}
	return stages, nil
}

// describeSchedule is a one-line summary used by validate.
func describeSchedule(s *executor.Schedule) string {
	if s.Type() == executor.TypeConstantVUs {
		return fmt.Sprintf("%d VUs for %s", s.VUs, s.Duration)
	}
	return fmt.Sprintf("%d stages over %s, up to %d VUs", len(s.Stages), s.TotalDuration(), s.MaxVUs())
}
