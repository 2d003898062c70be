// Package app assembles the dialer's services and runs dispatch and sync
// passes for every entry point (api, worker, lambda, dialerctl).
package app

import (
	"context"
	"time"

	"donor-dialer/internal/audit"
	"donor-dialer/internal/conversations"
	"donor-dialer/internal/dispatch"
	"donor-dialer/pkg/logger"

	"github.com/google/uuid"
)

// Actor identifies who asked for a run. Zero for scheduled runs.
type Actor struct {
	UserID string
	Role   string
}

// RunAuditor records run summaries.
type RunAuditor interface {
	LogRun(ctx context.Context, typ audit.EventType, runID, actorUserID, actorRole string, summary any) error
}

// SyncResult is a sync summary tagged with its run id.
type SyncResult struct {
	RunID string `json:"run_id"`
	conversations.SyncSummary
}

type Runner struct {
	scheduler    *dispatch.Scheduler
	orchestrator *conversations.Orchestrator
	audit        RunAuditor
	clock        func() time.Time
	newID        func() string
}

func NewRunner(s *dispatch.Scheduler, o *conversations.Orchestrator, a RunAuditor) *Runner {
	return &Runner{scheduler: s, orchestrator: o, audit: a, clock: time.Now, newID: uuid.NewString}
}

// WithClock overrides the clock (tests).
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	if clock != nil {
		r.clock = clock
	}
	return r
}

// RunDispatch runs one dispatch tick and records its summary.
func (r *Runner) RunDispatch(ctx context.Context, actor Actor) dispatch.Summary {
	sum := r.scheduler.RunCampaignDispatch(ctx, r.clock())
	logger.From(ctx).Info("dispatch run finished",
		"run_id", sum.RunID,
		"dispatched", sum.Dispatched,
		"skipped", sum.Skipped,
		"errored", sum.Errored,
		"partial", sum.Partial,
	)
	r.logRun(ctx, audit.EventTypeDispatchRun, sum.RunID, actor, sum)
	return sum
}

// RunSync reconciles open conversations with the voice platform.
func (r *Runner) RunSync(ctx context.Context, actor Actor) (SyncResult, error) {
	runID := r.newID()
	ctx, log := logger.WithRun(ctx, "sync", runID)

	sum, err := r.orchestrator.SyncConversations(ctx, r.clock())
	if err != nil {
		log.Error("sync run failed", "err", err)
		return SyncResult{RunID: runID}, err
	}
	log.Info("sync run finished",
		"scanned", sum.Scanned,
		"synced", sum.Synced,
		"completed", sum.Completed,
		"timed_out", sum.TimedOut,
		"errored", sum.Errored,
	)
	res := SyncResult{RunID: runID, SyncSummary: sum}
	r.logRun(ctx, audit.EventTypeSyncRun, runID, actor, res)
	return res, nil
}

func (r *Runner) logRun(ctx context.Context, typ audit.EventType, runID string, actor Actor, summary any) {
	if r.audit == nil {
		return
	}
	if err := r.audit.LogRun(context.WithoutCancel(ctx), typ, runID, actor.UserID, actor.Role, summary); err != nil {
		logger.From(ctx).Warn("audit run summary failed", "run_id", runID, "err", err)
	}
}
