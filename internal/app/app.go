package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"donor-dialer/internal/attempts"
	"donor-dialer/internal/audit"
	"donor-dialer/internal/auth"
	"donor-dialer/internal/campaigns"
	"donor-dialer/internal/config"
	"donor-dialer/internal/conversations"
	"donor-dialer/internal/dispatch"
	"donor-dialer/internal/notify"
	"donor-dialer/internal/reporting"
	"donor-dialer/internal/telephony"
	"donor-dialer/internal/throttle"
	"donor-dialer/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// App holds the process-wide services. Build it once per process.
type App struct {
	Config config.Config
	Log    *slog.Logger

	DB    *sql.DB
	Redis *redis.Client

	Auth          *auth.Manager
	Audit         *audit.Service
	Reports       *reporting.Service
	Conversations *conversations.PostgresStore
	Orchestrator  *conversations.Orchestrator
	Scheduler     *dispatch.Scheduler
	Runner        *Runner

	closers []func() error
}

// Build connects to Postgres (and Redis/AMQP when configured) and wires the
// dispatch scheduler, conversation orchestrator and reporting service.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth init: %w", err)
	}
	a.Auth = authManager

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: cfg.DB.MaxOpenConns})
	if err != nil {
		return nil, fmt.Errorf("postgres init: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	var limiter *throttle.Limiter
	if cfg.Dispatch.MaxInFlight > 0 {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis init: %w", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
		if limiter, err = throttle.NewLimiter(rdb, cfg.Dispatch.MaxInFlight, cfg.Dispatch.InFlightTTL); err != nil {
			a.Close()
			return nil, err
		}
	}

	var publisher notify.Publisher = notify.Nop{}
	if cfg.AMQP.URL != "" {
		p, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("amqp init: %w", err)
		}
		publisher = p
		a.closers = append(a.closers, p.Close)
	}

	provider, err := telephony.NewElevenLabsClient(telephony.ElevenLabsConfig{
		APIKey:  cfg.ElevenLabs.APIKey,
		BaseURL: cfg.ElevenLabs.BaseURL,
		Timeout: cfg.ElevenLabs.Timeout,
	}, nil)
	if err != nil {
		a.Close()
		return nil, err
	}

	campaignRepo := campaigns.NewPostgresRepository(db)
	a.Conversations = conversations.NewPostgresStore(db)
	a.Audit = audit.NewService(audit.NewPostgresRepo(db))
	a.Reports = reporting.NewService(reporting.NewPostgresRepo(db))

	orchDeps := conversations.Deps{
		Store:     a.Conversations,
		Upstream:  provider,
		Publisher: publisher,
		Auditor:   a.Audit,
	}
	schedDeps := dispatch.Deps{
		Campaigns:     campaignRepo,
		Tracker:       attempts.NewTracker(attempts.NewPostgresStore(db), campaignRepo),
		Conversations: a.Conversations,
		Provider:      provider,
		Auditor:       a.Audit,
		Publisher:     publisher,
	}
	if limiter != nil {
		orchDeps.InFlight = limiter
		schedDeps.InFlight = limiter
	}

	a.Orchestrator = conversations.NewOrchestrator(orchDeps, conversations.Options{
		SyncBatchSize: cfg.Sync.BatchSize,
		StaleAfter:    cfg.Sync.StaleAfter,
	})
	a.Scheduler, err = dispatch.NewScheduler(schedDeps, dispatch.Options{
		BatchSize:                cfg.Dispatch.BatchSize,
		TickBudget:               cfg.Dispatch.TickBudget,
		DefaultLocation:          cfg.DefaultLocation(),
		TransientConsumesAttempt: cfg.Dispatch.TransientConsumesAttempt,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Runner = NewRunner(a.Scheduler, a.Orchestrator, a.Audit)

	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.Log != nil {
			a.Log.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}
