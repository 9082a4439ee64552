package cmd

import (
	"github.com/spf13/cobra"

	"github.com/signalnine/verdict/internal/report"
	"github.com/signalnine/verdict/internal/result"
)

var flagFormat string

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [run]",
		Short: "Print the results of a stored run (default: latest)",
		Long:  "The run is a run directory path, a run timestamp, or \"latest\".",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			runDir, err := result.ResolveRunDir(cfg.Results.Dir, firstArg(args))
			if err != nil {
				return err
			}
			return report.Generate(runDir, flagFormat, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
