package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	apihttp "github.com/fyrsmithlabs/reasond/internal/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reasoning runtime with its HTTP API",
		Long: `Start the worker pool, the HTTP API and, when nats.url is set, the
NATS task ingest on <prefix>.tasks.submit.

Examples:
  # Serve with the default config file
  reasond serve

  # Serve with a specific config and debug logging
  reasond serve --config /etc/reasond/config.yaml --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

// serve runs until ctx is canceled. Queued tasks are closed as failed when
// the workers stop.
func serve(ctx context.Context) error {
	cfg, logger, err := loadConfig("")
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger, appOptions{NATS: true, Remote: true})
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Warn(context.Background(), "shutdown incomplete", zap.Error(err))
		}
	}()

	if err := a.rules.Start(ctx); err != nil {
		logger.Warn(ctx, "protected-value rules will not reload", zap.Error(err))
	}

	srv, err := apihttp.NewServer(apihttp.Deps{
		Tasks:     a.runtime,
		Store:     a.store,
		Providers: a.regs,
		Events:    a.recorder,
		Deferrals: a.deferrals,
	}, logger, &apihttp.Config{Host: cfg.Server.Host, Port: cfg.Server.Port})
	if err != nil {
		return err
	}

	if a.nc != nil {
		sub, err := subscribeIngest(a.nc, cfg.NATS.SubjectPrefix, a.runtime, logger)
		if err != nil {
			return fmt.Errorf("failed to subscribe to task ingest: %w", err)
		}
		defer func() { _ = sub.Unsubscribe() }()
		logger.Info(ctx, "task ingest subscribed", zap.String("subject", sub.Subject))
	}

	logger.Info(ctx, "starting reasond",
		zap.String("version", version),
		zap.Int("workers", cfg.Runtime.Workers),
		zap.Int("max_rounds", cfg.Runtime.MaxRounds),
		zap.Int("reasoning_providers", a.regs.Reasoning.Len()),
		zap.Int("memory_providers", a.regs.Memory.Len()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runtime.Run(gctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info(context.WithoutCancel(ctx), "reasond stopped")
	return err
}
