package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalnine/verdict/internal/resolver"
	"github.com/signalnine/verdict/internal/testcase"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and every test definition",
		Long: "Load the config and all test definitions without running anything. " +
			"Reports invalid files, duplicate ids, unknown dependencies and dependency cycles. " +
			"Runs tolerate the last two; validate does not.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			cases, loadErrs, err := testcase.LoadDir(cfg.TestsDir, cfg.Execution.DefaultTimeout)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			problems := 0
			for _, le := range loadErrs {
				fmt.Fprintf(w, "invalid: %s\n", le)
				problems++
			}
			for _, warning := range resolver.Resolve(cases, cases).Warnings {
				fmt.Fprintf(w, "dependency: %s\n", warning)
				problems++
			}
			for _, cycle := range resolver.FindCycles(cases) {
				fmt.Fprintf(w, "cycle: %s -> %s\n", strings.Join(cycle, " -> "), cycle[0])
				problems++
			}
			if problems > 0 {
				return fmt.Errorf("%d problem(s) in %s", problems, cfg.TestsDir)
			}
			fmt.Fprintf(w, "%d test definitions OK\n", len(cases))
			return nil
		},
	}
}
