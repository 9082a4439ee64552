package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/signalnine/verdict/internal/report"
	"github.com/signalnine/verdict/internal/runner"
)

var (
	flagIDs          []string
	flagSuites       []string
	flagSkipSemantic bool
	flagMetricsFile  string
	flagRunFormat    string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute tests, judge them and store the results",
		Args:  cobra.NoArgs,
		RunE:  runTests,
	}
	cmd.Flags().StringSliceVar(&flagIDs, "id", nil, "run only these test ids (dependencies are added)")
	cmd.Flags().StringSliceVar(&flagSuites, "suite", nil, `run only these suites ("e2e/*" matches nested suites)`)
	cmd.Flags().BoolVar(&flagSkipSemantic, "skip-semantic", false, "judge deterministically only")
	cmd.Flags().StringVar(&flagMetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	cmd.Flags().StringVar(&flagRunFormat, "format", "table", "output format (table, markdown, json)")
	return cmd
}

func runTests(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := runner.New(cfg, log).Run(ctx, runner.Options{
		IDs:          flagIDs,
		Suites:       flagSuites,
		SkipSemantic: flagSkipSemantic,
		MetricsFile:  flagMetricsFile,
	})
	if out != nil {
		w := cmd.OutOrStdout()
		if flagRunFormat != report.FormatJSON {
			fmt.Fprintf(w, "Run directory: %s\n\n", out.RunDir)
		}
		if rerr := report.Render(out.Summary, out.Reports, flagRunFormat, w); rerr != nil {
			return rerr
		}
	}
	return err
}
