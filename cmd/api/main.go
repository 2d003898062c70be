package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"donor-dialer/internal/app"
	"donor-dialer/internal/auth"
	"donor-dialer/internal/config"
	"donor-dialer/internal/secrets"
	"donor-dialer/pkg/logger"
	"donor-dialer/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is fine; real deployments use the environment.
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

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := tracing.Setup(rootCtx, tracing.Options{
		Enabled:     cfg.OTel.Enabled,
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: "donor-dialer-api",
		SampleRatio: cfg.OTel.SampleRatio,
	})
	if err != nil {
		log.Error("tracing init failed", "err", err)
		os.Exit(1)
	}

	a, err := app.Build(logger.With(rootCtx, log), cfg, log)
	if err != nil {
		log.Error("app init failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, a, auth.RequireAccessToken(a.Auth))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// A manual dispatch run may take the whole tick budget.
		WriteTimeout: cfg.Dispatch.TickBudget + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
