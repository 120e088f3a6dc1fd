package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/logging"
)

var version = "0.1.0"

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// globals holds the persistent flags, resolved through viper so that
// SURGE_LOG_LEVEL, SURGE_LOG_FORMAT and SURGE_NO_COLOR work as well.
type globals struct {
	v *viper.Viper
}

func newGlobals(flags *pflag.FlagSet) *globals {
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.Bool("no-color", false, "disable colored output")

	v := viper.New()
	v.SetEnvPrefix("SURGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)

	return &globals{v: v}
}

func (g *globals) logger() (*zap.Logger, error) {
	return logging.New(g.v.GetString("log-level"), logging.Format(g.v.GetString("log-format")))
}

func (g *globals) noColor() bool {
	return g.v.GetBool("no-color")
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "surge",
		Short:   "Staged virtual-user load generator",
		Version: version,
		Long: `Surge drives a pool of virtual users through a multi-step HTTP scenario,
ramping the number of concurrent users along a list of stages, and reports
per-check pass/fail counts when the schedule ends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	g := newGlobals(root.PersistentFlags())

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newValidateCmd(g))
	root.AddCommand(newMockCmd(g))

	return root
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context, which stops a run gracefully.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
