package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/signalnine/verdict/internal/config"
	"github.com/signalnine/verdict/internal/logging"
)

var (
	cfgFile  string
	logLevel string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "verdict",
		Short:         "Run end-to-end tests and judge them from their logs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newJudgeCmd())
	root.AddCommand(newLogsCmd())
	return root
}

// setup loads the config and builds the logger shared by a command's
// components. A missing config file is only an error when --config was given.
func setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadOrDefault(cfgFile, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log, err := logging.New(cmd.ErrOrStderr(), level)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}
