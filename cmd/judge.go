package cmd

import (
	"github.com/spf13/cobra"

	"github.com/signalnine/verdict/internal/report"
	"github.com/signalnine/verdict/internal/result"
	"github.com/signalnine/verdict/internal/runner"
)

var flagJudgeFormat string

func newJudgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "judge [run]",
		Short: "Judge a stored run again without executing anything",
		Long: "Re-runs both judges over the step output and logs recorded in a run, " +
			"for example after the semantic judge service was unavailable. " +
			"The run's reports and summary are rewritten.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			runDir, err := result.ResolveRunDir(cfg.Results.Dir, firstArg(args))
			if err != nil {
				return err
			}
			out, err := runner.New(cfg, log).Rejudge(cmd.Context(), runDir)
			if out != nil {
				if rerr := report.Render(out.Summary, out.Reports, flagJudgeFormat, cmd.OutOrStdout()); rerr != nil {
					return rerr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&flagJudgeFormat, "format", "table", "output format (table, markdown, json)")
	return cmd
}
