package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/agentorg/config"
	"github.com/vinayprograms/agentorg/orchestrator"
	"github.com/vinayprograms/agentorg/shutdown"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var kickoff string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the organisation and run until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, flags)
			if err != nil {
				return err
			}

			creds, path, err := config.LoadCredentials()
			if err != nil {
				return fmt.Errorf("loading credentials: %w", err)
			}
			if path != "" {
				logger.Debug("credentials loaded", map[string]interface{}{"path": path})
			}

			o := orchestrator.New(orchestrator.Options{
				Config:      cfg,
				Logger:      logger,
				Credentials: creds,
			})

			ctx, cancel := shutdown.NotifyContext(cmd.Context(), logger)
			defer cancel()

			if err := o.Initialize(ctx); err != nil {
				return err
			}

			if kickoff != "" {
				if _, err := o.Broadcast(ctx, "kickoff", map[string]interface{}{"message": kickoff}); err != nil {
					logger.Warn("kickoff broadcast failed", map[string]interface{}{"error": err.Error()})
				}
			}

			<-ctx.Done()

			grace, stop := context.WithTimeout(context.Background(), cfg.Orchestrator.ShutdownGrace.Duration)
			defer stop()
			return o.Shutdown(grace)
		},
	}
	cmd.Flags().StringVar(&kickoff, "kickoff", "", "broadcast this message to every agent once running")
	return cmd
}
