// Command lambda runs dispatch or sync passes from EventBridge schedules.
package main

import (
	"context"
	"log/slog"
	"os"

	"donor-dialer/internal/app"
	"donor-dialer/internal/config"
	"donor-dialer/internal/secrets"
	"donor-dialer/pkg/logger"

	"github.com/aws/aws-lambda-go/lambda"
)

func main() {
	ctx := context.Background()

	src, err := secrets.FromEnv(ctx)
	if err != nil {
		slog.Error("secret source init failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWithSecrets(ctx, src)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env).With("component", "lambda")
	slog.SetDefault(log)

	// Connections are reused across warm invocations.
	a, err := app.Build(logger.With(ctx, log), cfg, log)
	if err != nil {
		log.Error("app init failed", "err", err)
		os.Exit(1)
	}

	h := handler{runner: a.Runner}
	lambda.Start(h.Handle)
}
