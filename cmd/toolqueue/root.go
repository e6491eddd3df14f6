package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aagnone3/toolqueue/config"
	"github.com/aagnone3/toolqueue/logging"
)

// app is the state shared by all commands once flags are parsed.
type app struct {
	configPath string
	logLevel   string

	settings config.Settings
	logger   *slog.Logger
}

// NewRootCmd assembles the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "toolqueue",
		Short:         "A durable background job pipeline for tool invocations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (YAML or TOML)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(ServeCmd(a))
	root.AddCommand(WorkerCmd(a))
	root.AddCommand(SweepCmd(a))
	root.AddCommand(SubmitCmd(a))
	root.AddCommand(MigrateCmd(a))
	return root
}

func (a *app) load() error {
	s, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		s.Log.Level = a.logLevel
	}
	logger, err := logging.New(os.Stderr, s.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.settings = s
	a.logger = logger
	return nil
}
