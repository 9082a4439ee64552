package cmd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/signalnine/verdict/internal/resolver"
	"github.com/signalnine/verdict/internal/testcase"
)

var (
	flagListIDs    []string
	flagListSuites []string
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the tests a run would execute, in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			cases, loadErrs, err := testcase.LoadDir(cfg.TestsDir, cfg.Execution.DefaultTimeout)
			if err != nil {
				return err
			}
			for _, le := range loadErrs {
				log.Warn().Msg("skipped definition: " + le.Error())
			}
			filtered := testcase.Filter(cases, flagListIDs, flagListSuites)
			if len(filtered) == 0 {
				return fmt.Errorf("no tests match the filter in %s", cfg.TestsDir)
			}
			res := resolver.Resolve(filtered, cases)
			for _, w := range res.Warnings {
				log.Warn().Msg(w)
			}

			auto := make(map[string]bool, len(res.AutoIncluded))
			for _, id := range res.AutoIncluded {
				auto[id] = true
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"#", "ID", "Name", "Suite", "Priority", "Steps", "Timeout", "Depends on"})
			for i, tc := range res.Order {
				id := tc.ID
				if auto[id] {
					id += " (dep)"
				}
				t.AppendRow(table.Row{
					i + 1, id, tc.Name, tc.Suite, tc.Priority, len(tc.Steps),
					tc.TotalTimeout(cfg.Execution.DefaultTimeout), strings.Join(tc.Dependencies, ", "),
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&flagListIDs, "id", nil, "list only these test ids and their dependencies")
	cmd.Flags().StringSliceVar(&flagListSuites, "suite", nil, "list only these suites")
	return cmd
}
