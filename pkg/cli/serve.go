package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"conversation-automation/pkg/config"
	"conversation-automation/pkg/metrics"
	"conversation-automation/pkg/service"
)

const shutdownTimeout = 30 * time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API configured from the environment.

Tenants come from TENANTS_FILE when set, otherwise from TENANT_ID and the
CHATWOOT_* variables. The process stops on SIGINT or SIGTERM after draining
in-flight policy applications.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(parent context.Context, opts *RootOptions) error {
	cfg := config.Load()
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	logger := NewLogger(cfg.LogLevel)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.NewService(cfg, logger, metrics.NewMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "failed to build service", Err: err}
	}

	if err := svc.Start(ctx); err != nil {
		return &ExitError{Code: ExitFailure, Message: "failed to start service", Err: err}
	}

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := svc.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error during service shutdown")
		return &ExitError{Code: ExitFailure, Message: "shutdown incomplete", Err: err}
	}

	logger.Info("Service shutdown complete")
	return nil
}
