// Package dispatch is the periodic campaign dispatch scheduler. A tick is a
// stateless invocation: every decision it makes is re-derived from the store,
// and every shared-state write goes through an atomic store primitive, so
// overlapping ticks never double-dispatch a lead or overrun a daily cap.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"donor-dialer/internal/apperr"
	"donor-dialer/internal/attempts"
	"donor-dialer/internal/campaigns"
	"donor-dialer/internal/conversations"
	"donor-dialer/internal/notify"
	"donor-dialer/internal/telephony"
	"donor-dialer/pkg/logger"
	"donor-dialer/pkg/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ConversationCreator records the initiated conversation for a placed call.
type ConversationCreator interface {
	Create(ctx context.Context, c conversations.Conversation) error
}

// InFlightLimiter caps concurrently live calls per campaign.
type InFlightLimiter interface {
	Acquire(ctx context.Context, campaignID string) (bool, error)
	Release(ctx context.Context, campaignID string) error
}

// Auditor records leads the dialer gives up on.
type Auditor interface {
	LogLeadUnreachable(ctx context.Context, businessID, campaignID, leadID, reason string) error
}

type Options struct {
	// BatchSize caps call placements per tick across all campaigns.
	BatchSize int
	// TickBudget caps a tick's wall-clock time.
	TickBudget time.Duration
	// DefaultLocation applies to campaigns whose business has no timezone.
	DefaultLocation *time.Location
	// TransientConsumesAttempt keeps the attempt (and daily slot) after a
	// transient provider failure instead of handing it back.
	TransientConsumesAttempt bool
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.TickBudget <= 0 {
		o.TickBudget = 45 * time.Second
	}
	if o.DefaultLocation == nil {
		o.DefaultLocation = time.UTC
	}
	return o
}

// Deps are the scheduler's collaborators. InFlight, Auditor and Publisher
// are optional.
type Deps struct {
	Campaigns     campaigns.Repository
	Tracker       *attempts.Tracker
	Conversations ConversationCreator
	Provider      telephony.Provider
	InFlight      InFlightLimiter
	Auditor       Auditor
	Publisher     notify.Publisher
	NewID         func() string
}

// Summary reports one tick. Failures are folded in here; a tick never
// returns an error.
type Summary struct {
	RunID             string `json:"run_id"`
	Dispatched        int    `json:"dispatched"`
	Skipped           int    `json:"skipped"`
	Errored           int    `json:"errored"`
	TransientFailures int    `json:"transient_failures"`
	PermanentFailures int    `json:"permanent_failures"`
	CampaignsSeen     int    `json:"campaigns_seen"`
	CampaignsSkipped  int    `json:"campaigns_skipped"`
	Partial           bool   `json:"partial"`
}

type Scheduler struct {
	campaigns     campaigns.Repository
	tracker       *attempts.Tracker
	conversations ConversationCreator
	provider      telephony.Provider
	inflight      InFlightLimiter
	auditor       Auditor
	publisher     notify.Publisher
	newID         func() string
	opts          Options
}

func NewScheduler(d Deps, opts Options) (*Scheduler, error) {
	if d.Campaigns == nil || d.Tracker == nil || d.Conversations == nil || d.Provider == nil {
		return nil, fmt.Errorf("dispatch: campaigns, tracker, conversations and provider are required")
	}
	s := &Scheduler{
		campaigns:     d.Campaigns,
		tracker:       d.Tracker,
		conversations: d.Conversations,
		provider:      d.Provider,
		inflight:      d.InFlight,
		auditor:       d.Auditor,
		publisher:     d.Publisher,
		newID:         d.NewID,
		opts:          opts.withDefaults(),
	}
	if s.publisher == nil {
		s.publisher = notify.Nop{}
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

// tick carries per-invocation state.
type tick struct {
	now    time.Time
	sum    Summary
	placed int
}

func (t *tick) batchLeft(limit int) int { return limit - t.placed }

// RunCampaignDispatch runs one dispatch pass over every active campaign.
func (s *Scheduler) RunCampaignDispatch(ctx context.Context, now time.Time) Summary {
	runID := s.newID()
	ctx, log := logger.WithRun(ctx, "dispatch", runID)
	ctx, cancel := context.WithTimeout(ctx, s.opts.TickBudget)
	defer cancel()
	ctx, span := tracing.Tracer().Start(ctx, "dispatch.RunCampaignDispatch")
	defer span.End()

	t := &tick{now: now.UTC(), sum: Summary{RunID: runID}}

	list, err := s.campaigns.ListActive(ctx)
	if err != nil {
		log.Error("list active campaigns failed", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "list active campaigns")
		t.sum.Errored++
		t.sum.Partial = true
		return t.sum
	}

	for i, c := range list {
		if ctx.Err() != nil || t.batchLeft(s.opts.BatchSize) <= 0 {
			t.sum.Partial = true
			log.Warn("dispatch tick stopped early",
				"campaigns_left", len(list)-i,
				"placed", t.placed,
				"budget_exceeded", ctx.Err() != nil,
			)
			break
		}
		t.sum.CampaignsSeen++
		s.runCampaign(ctx, c, t)
	}
	if ctx.Err() != nil {
		t.sum.Partial = true
	}

	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.Int("dispatched", t.sum.Dispatched),
		attribute.Int("errored", t.sum.Errored),
		attribute.Bool("partial", t.sum.Partial),
	)
	log.Info("dispatch tick finished",
		"dispatched", t.sum.Dispatched,
		"skipped", t.sum.Skipped,
		"errored", t.sum.Errored,
		"transient_failures", t.sum.TransientFailures,
		"permanent_failures", t.sum.PermanentFailures,
		"campaigns_seen", t.sum.CampaignsSeen,
		"campaigns_skipped", t.sum.CampaignsSkipped,
		"partial", t.sum.Partial,
	)
	return t.sum
}

func (s *Scheduler) runCampaign(ctx context.Context, c campaigns.Campaign, t *tick) {
	ctx, span := tracing.Tracer().Start(ctx, "dispatch.campaign")
	defer span.End()
	span.SetAttributes(attribute.String("campaign_id", c.ID))
	log := logger.From(ctx).With("campaign_id", c.ID)

	if err := c.Validate(); err != nil {
		log.Warn("invalid campaign skipped", "err", err)
		t.sum.Errored++
		t.sum.CampaignsSkipped++
		return
	}
	loc, err := c.Location(s.opts.DefaultLocation)
	if err != nil {
		log.Warn("campaign timezone unusable", "err", err)
		t.sum.Errored++
		t.sum.CampaignsSkipped++
		return
	}
	if c.Timezone == "" {
		log.Debug("business has no timezone, using default", "timezone", loc.String())
	}
	if !c.InWindow(t.now, loc) {
		log.Debug("outside call window", "local_time", t.now.In(loc).Format("15:04:05"))
		t.sum.CampaignsSkipped++
		return
	}

	day := campaigns.LocalDay(t.now, loc)
	count, err := s.tracker.DailyDispatchCount(ctx, c.ID, day)
	if err != nil {
		log.Error("read daily count failed", "err", err)
		t.sum.Errored++
		t.sum.CampaignsSkipped++
		return
	}
	capLeft := c.DailyCallCap - count
	if capLeft <= 0 {
		log.Debug("daily cap reached", "dispatched_today", count, "cap", c.DailyCallCap)
		t.sum.CampaignsSkipped++
		return
	}
	want := min(capLeft, t.batchLeft(s.opts.BatchSize))

	// Over-fetch so claim conflicts and released transient failures do not
	// starve the tick.
	raw, err := s.campaigns.ListCandidates(ctx, c, want*2)
	if err != nil {
		log.Error("list candidates failed", "err", err)
		t.sum.Errored++
		return
	}
	cands := SelectCandidates(c, raw, 0)
	log.Debug("campaign eligible", "candidates", len(cands), "cap_left", capLeft)

	dispatched := 0
	for _, cand := range cands {
		if dispatched >= capLeft {
			break
		}
		if ctx.Err() != nil || t.batchLeft(s.opts.BatchSize) <= 0 {
			t.sum.Partial = true
			return
		}
		res := s.dispatchLead(ctx, c, day, cand, t)
		if res == leadDispatched {
			dispatched++
		}
		if res == stopCampaign {
			return
		}
	}
}

type leadResult int

const (
	leadDispatched leadResult = iota
	leadSkipped
	leadFailed
	stopCampaign
)

func (s *Scheduler) dispatchLead(ctx context.Context, c campaigns.Campaign, day time.Time, cand campaigns.Candidate, t *tick) leadResult {
	lead := cand.Lead
	log := logger.From(ctx).With("campaign_id", c.ID, "lead_id", lead.ID)

	ok, err := s.tracker.ReserveDailySlot(ctx, c.ID, day, c.DailyCallCap)
	if err != nil {
		log.Error("reserve daily slot failed", "err", err)
		t.sum.Errored++
		return stopCampaign
	}
	if !ok {
		log.Debug("daily cap reached mid-tick")
		return stopCampaign
	}

	prev := cand.AttemptRecord(c.ID)
	claimed, err := s.tracker.RecordAttempt(ctx, c.ID, lead.ID, cand.Attempts, t.now)
	if err != nil {
		s.releaseSlot(ctx, c.ID, day)
		switch apperr.CodeOf(err) {
		case apperr.CodeConcurrencyConflict:
			log.Debug("lead claimed by another tick")
			t.sum.Skipped++
			return leadSkipped
		case apperr.CodeNotFound:
			log.Info("lead vanished before claim", "err", err)
			t.sum.Skipped++
			return leadSkipped
		default:
			log.Error("record attempt failed", "err", err)
			t.sum.Errored++
			return leadFailed
		}
	}

	if s.inflight != nil {
		ok, err := s.inflight.Acquire(ctx, c.ID)
		if err != nil || !ok {
			s.releaseClaim(ctx, claimed, prev)
			s.releaseSlot(ctx, c.ID, day)
			if err != nil {
				log.Error("acquire in-flight slot failed", "err", err)
				t.sum.Errored++
			} else {
				log.Debug("in-flight cap reached")
			}
			return stopCampaign
		}
	}

	t.placed++
	call, err := s.provider.PlaceCall(ctx, lead.Phone, telephony.ScriptContext{
		BusinessID:         c.BusinessID,
		CampaignID:         c.ID,
		LeadID:             lead.ID,
		AgentID:            c.AgentID,
		AgentPhoneNumberID: c.AgentPhoneNumberID,
		Variables: map[string]string{
			"first_name": lead.FirstName,
			"attempt":    fmt.Sprint(claimed.Attempts),
		},
	})
	if err != nil {
		return s.handleCallFailure(ctx, c, day, lead, claimed, prev, err, t)
	}

	conv := conversations.Conversation{
		ID:         s.newID(),
		ExternalID: call.ExternalID(),
		CallSID:    call.CallSID,
		BusinessID: c.BusinessID,
		CampaignID: c.ID,
		AgentID:    c.AgentID,
		LeadID:     lead.ID,
		Status:     conversations.StatusInitiated,
		StartedAt:  t.now,
		UpdatedAt:  t.now,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		// The call is live; the attempt stays consumed either way.
		log.Error("create conversation failed", "external_id", conv.ExternalID, "err", err)
	}
	if err := s.campaigns.TouchLead(ctx, lead.ID, t.now); err != nil {
		log.Warn("touch lead failed", "err", err)
	}
	log.Info("call placed", "conversation_id", conv.ID, "external_id", conv.ExternalID, "attempt", claimed.Attempts)
	t.sum.Dispatched++
	return leadDispatched
}

func (s *Scheduler) handleCallFailure(ctx context.Context, c campaigns.Campaign, day time.Time, lead campaigns.Lead, claimed, prev campaigns.CampaignLead, callErr error, t *tick) leadResult {
	log := logger.From(ctx).With("campaign_id", c.ID, "lead_id", lead.ID)
	if s.inflight != nil {
		if err := s.inflight.Release(context.WithoutCancel(ctx), c.ID); err != nil {
			log.Warn("release in-flight slot failed", "err", err)
		}
	}
	t.sum.Errored++

	switch apperr.CodeOf(callErr) {
	case apperr.CodeProviderPermanent:
		t.sum.PermanentFailures++
		log.Warn("destination unreachable, lead retired", "err", callErr)
		if err := s.campaigns.MarkUnreachable(ctx, lead.ID, t.now); err != nil {
			log.Error("mark lead unreachable failed", "err", err)
		}
		if s.auditor != nil {
			if err := s.auditor.LogLeadUnreachable(ctx, c.BusinessID, c.ID, lead.ID, callErr.Error()); err != nil {
				log.Warn("audit unreachable lead failed", "err", err)
			}
		}
		err := s.publisher.Publish(ctx, notify.Message{
			Type:       notify.TypeLeadUnreachable,
			Key:        lead.ID,
			OccurredAt: t.now,
			Payload: map[string]any{
				"business_id": c.BusinessID,
				"campaign_id": c.ID,
				"lead_id":     lead.ID,
				"reason":      callErr.Error(),
			},
		})
		if err != nil {
			log.Warn("publish unreachable lead failed", "err", err)
		}
		return leadFailed

	case apperr.CodeValidation:
		// Campaign misconfiguration: every lead would fail the same way.
		log.Error("call rejected before placement", "err", callErr)
		s.releaseClaim(ctx, claimed, prev)
		s.releaseSlot(ctx, c.ID, day)
		return stopCampaign

	default:
		t.sum.TransientFailures++
		log.Warn("transient call failure", "err", callErr, "attempt_consumed", s.opts.TransientConsumesAttempt)
		if !s.opts.TransientConsumesAttempt {
			s.releaseClaim(ctx, claimed, prev)
			s.releaseSlot(ctx, c.ID, day)
		}
		return leadFailed
	}
}

// Releases run detached from the tick deadline: a budget that expires
// mid-call must not strand a claim.
func (s *Scheduler) releaseClaim(ctx context.Context, claimed, prev campaigns.CampaignLead) {
	ctx = context.WithoutCancel(ctx)
	if err := s.tracker.ReleaseAttempt(ctx, claimed, prev); err != nil {
		logger.From(ctx).Warn("release attempt failed", "lead_id", claimed.LeadID, "err", err)
	}
}

func (s *Scheduler) releaseSlot(ctx context.Context, campaignID string, day time.Time) {
	ctx = context.WithoutCancel(ctx)
	if err := s.tracker.ReleaseDailySlot(ctx, campaignID, day); err != nil {
		logger.From(ctx).Warn("release daily slot failed", "campaign_id", campaignID, "err", err)
	}
}
