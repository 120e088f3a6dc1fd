package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/performance/config"
)

func newValidateCmd(g *globals) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a test file without running it",
		Long: `Validate parses a test file, checks the schedule, scenario and thresholds,
and compiles every check and extractor. No request is sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}

			plan, err := cfg.Build()
			if err != nil {
				var verrs *config.ValidationErrors
				if errors.As(err, &verrs) {
					out := cmd.ErrOrStderr()
					for _, e := range verrs.Errors {
						fmt.Fprintf(out, "  %s: %s\n", e.Field, e.Message)
					}
					return fmt.Errorf("%s: %d validation errors", configFile, len(verrs.Errors))
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is valid\n", configFile)
			fmt.Fprintf(out, "  name:     %s\n", plan.Name)
			fmt.Fprintf(out, "  schedule: %s\n", describeSchedule(plan.Schedule))
			fmt.Fprintf(out, "  steps:    %d\n", len(plan.Scenario.Steps))
			if t := plan.Thresholds; t != nil {
				n := len(t.HTTPReqDuration) + len(t.HTTPReqFailed) + len(t.HTTPReqs) + len(t.Checks) + len(t.Iterations)
				fmt.Fprintf(out, "  thresholds: %d\n", n)
			}

			if logger, err := g.logger(); err == nil {
				logger.Debug("config validated")
				_ = logger.Sync()
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to a YAML or JSON test file")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
