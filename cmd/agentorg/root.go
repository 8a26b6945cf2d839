package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/agentorg/config"
	"github.com/vinayprograms/agentorg/llm"
	"github.com/vinayprograms/agentorg/logging"
	"github.com/vinayprograms/agentorg/orchestrator"
	"github.com/vinayprograms/agentorg/telemetry"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "agentorg",
		Short:         "Run and inspect an organisation of cooperating agents",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to agentorg.toml (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newAskCmd(flags),
		newHierarchyCmd(flags),
		newRosterCmd(flags),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	if flags.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(flags.configPath)
}

// newLogger writes to stderr so command output stays parseable.
func newLogger(cfg *config.Config, flags *globalFlags) (*logging.Logger, error) {
	name := cfg.Logging.Level
	if flags.logLevel != "" {
		name = flags.logLevel
	}
	level, err := logging.ParseLevel(name)
	if err != nil {
		return nil, err
	}
	logger := logging.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	return logger, nil
}

// startLocal runs the configured roster in-process with no external
// dependencies, for commands that only inspect the organisation.
func startLocal(ctx context.Context, flags *globalFlags, gen llm.Generator) (*orchestrator.Orchestrator, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, flags)
	if err != nil {
		return nil, err
	}
	if flags.logLevel == "" {
		logger.SetLevel(logging.LevelWarn)
	}
	cfg.Bus.Transport = "memory"
	cfg.Telemetry.Tracing.Endpoint = ""

	o := orchestrator.New(orchestrator.Options{
		Config:    cfg,
		Logger:    logger,
		Generator: gen,
		Sink:      telemetry.NewNoopSink(),
	})
	if err := o.Initialize(ctx); err != nil {
		return nil, err
	}
	return o, nil
}
