package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/signalnine/verdict/internal/logcollect"
	"github.com/signalnine/verdict/internal/result"
)

var (
	flagFollow  bool
	flagSession string
	flagRun     string
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <test-id>",
		Short: "Print the logs captured for one test",
		Long: "Without flags, prints the slice of the newest session log between the test's markers. " +
			"--run prints the log artifact stored with a run instead. " +
			"--follow streams the slice while the test is running and stops at its end marker.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			id := args[0]
			w := cmd.OutOrStdout()

			if cmd.Flags().Changed("run") {
				runDir, err := result.ResolveRunDir(cfg.Results.Dir, flagRun)
				if err != nil {
					return err
				}
				rep, err := result.ReadReport(runDir, id)
				if err != nil {
					return err
				}
				fmt.Fprint(w, rep.Result.Logs)
				return nil
			}

			session := flagSession
			if session == "" {
				if session, err = logcollect.LatestSession(cfg.LogSource.SessionDir); err != nil {
					return err
				}
			}
			if flagFollow {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
				defer stop()
				if err := logcollect.Follow(ctx, session, id, w); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}
			logs, err := logcollect.ExtractFile(session, id)
			if err != nil {
				return err
			}
			if logs == "" {
				return fmt.Errorf("no logs for %s in %s", id, session)
			}
			fmt.Fprint(w, logs)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&flagFollow, "follow", "f", false, "stream the test's logs as they are written")
	cmd.Flags().StringVar(&flagSession, "session", "", "session log file (default: newest in the session dir)")
	cmd.Flags().StringVar(&flagRun, "run", "latest", "read the log stored with this run")
	return cmd
}
