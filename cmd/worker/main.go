// Command worker runs the dispatch and sync loops on fixed intervals.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"donor-dialer/internal/app"
	"donor-dialer/internal/config"
	"donor-dialer/internal/secrets"
	"donor-dialer/pkg/logger"
	"donor-dialer/pkg/tracing"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	src, err := secrets.FromEnv(rootCtx)
	if err != nil {
		slog.Error("secret source init failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWithSecrets(rootCtx, src)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env).With("component", "worker")
	slog.SetDefault(log)
	ctx := logger.With(rootCtx, log)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		Enabled:     cfg.OTel.Enabled,
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: "donor-dialer-worker",
		SampleRatio: cfg.OTel.SampleRatio,
	})
	if err != nil {
		log.Error("tracing init failed", "err", err)
		os.Exit(1)
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("app init failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	log.Info("worker started",
		"dispatch_interval", cfg.Dispatch.Interval.String(),
		"sync_interval", cfg.Sync.Interval.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Every(gctx, cfg.Dispatch.Interval, func(ctx context.Context) {
			a.Runner.RunDispatch(ctx, app.Actor{})
		})
	})
	g.Go(func() error {
		return app.Every(gctx, cfg.Sync.Interval, func(ctx context.Context) {
			// Failures are logged by the runner; the next tick retries.
			_, _ = a.Runner.RunSync(ctx, app.Actor{})
		})
	})
	if err := g.Wait(); err != nil {
		log.Error("worker stopped", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown failed", "err", err)
	}
	log.Info("worker stopped")
}
