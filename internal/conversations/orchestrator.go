// Package conversations is the event-sourced conversation aggregate: raw
// telemetry is appended to an immutable log, and status and outcome are
// projections recomputed from the full ordered log after every append.
package conversations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"donor-dialer/internal/apperr"
	"donor-dialer/internal/events"
	"donor-dialer/internal/notify"
	"donor-dialer/internal/outcome"
	"donor-dialer/pkg/logger"
	"donor-dialer/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// Auditor records outcome changes.
type Auditor interface {
	LogOutcomeChanged(ctx context.Context, businessID, campaignID, conversationID string, from, to any) error
}

// InFlightReleaser gives back a campaign's live-call slot.
type InFlightReleaser interface {
	Release(ctx context.Context, campaignID string) error
}

type Options struct {
	SyncBatchSize int
	StaleAfter    time.Duration
	// MaxStateRetries bounds CAS retries when another ingest wins the race.
	MaxStateRetries int
}

func (o Options) withDefaults() Options {
	if o.SyncBatchSize <= 0 {
		o.SyncBatchSize = 100
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 30 * time.Minute
	}
	if o.MaxStateRetries <= 0 {
		o.MaxStateRetries = 5
	}
	return o
}

// Deps are the orchestrator's collaborators. Only Store is required.
type Deps struct {
	Store     Store
	Upstream  Upstream
	Publisher notify.Publisher
	Auditor   Auditor
	InFlight  InFlightReleaser
	Clock     func() time.Time
}

type Orchestrator struct {
	store     Store
	upstream  Upstream
	publisher notify.Publisher
	auditor   Auditor
	inflight  InFlightReleaser
	clock     func() time.Time
	opts      Options
}

func NewOrchestrator(d Deps, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:     d.Store,
		upstream:  d.Upstream,
		publisher: d.Publisher,
		auditor:   d.Auditor,
		inflight:  d.InFlight,
		clock:     d.Clock,
		opts:      opts.withDefaults(),
	}
	if o.publisher == nil {
		o.publisher = notify.Nop{}
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	return o
}

// IngestEvents appends a batch of raw events to the conversation identified
// by externalID (provider conversation id or call sid) and re-projects state.
// Re-delivering a batch appends nothing and changes nothing.
func (o *Orchestrator) IngestEvents(ctx context.Context, externalID string, raws []RawEvent) (IngestSummary, error) {
	ctx, span := tracing.Tracer().Start(ctx, "conversations.IngestEvents")
	defer span.End()

	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return IngestSummary{}, apperr.Validation("conversation external id is required")
	}
	conv, err := o.store.GetByExternalID(ctx, externalID)
	if err != nil {
		return IngestSummary{}, err
	}
	span.SetAttributes(attribute.String("conversation_id", conv.ID))
	log := logger.From(ctx).With("conversation_id", conv.ID, "campaign_id", conv.CampaignID)

	now := o.clock().UTC()
	evs, rejected := normalize(conv.ID, externalID, raws, now)
	sum := IngestSummary{
		ConversationID: conv.ID,
		Received:       len(raws),
		Rejected:       rejected,
	}
	if len(evs) > 0 {
		n, err := o.store.AppendEvents(ctx, evs)
		if err != nil {
			return sum, fmt.Errorf("append events: %w", err)
		}
		sum.Appended = n
	}
	sum.Duplicates = sum.Received - sum.Rejected - sum.Appended

	// Projection runs even when nothing was appended so a crash between
	// append and projection heals on redelivery.
	res, err := o.project(ctx, conv, now)
	if err != nil {
		return sum, err
	}
	sum.Status = res.conv.Status
	sum.Outcome = res.conv.Outcome
	sum.StatusChanged = res.statusChanged
	sum.OutcomeChanged = res.outcomeChanged

	if rejected > 0 {
		log.Warn("rejected malformed events", "rejected", rejected)
	}
	if res.outcomeChanged {
		o.onOutcomeChanged(ctx, res.conv, res.prevOutcome)
	}
	if res.statusChanged && res.conv.Status.IsTerminal() {
		o.onFinished(ctx, res.conv)
	}
	log.Debug("ingested events",
		"received", sum.Received,
		"appended", sum.Appended,
		"duplicates", sum.Duplicates,
		"status", sum.Status,
	)
	return sum, nil
}

type projection struct {
	conv           Conversation
	prevOutcome    outcome.Outcome
	statusChanged  bool
	outcomeChanged bool
}

func (o *Orchestrator) project(ctx context.Context, conv Conversation, now time.Time) (projection, error) {
	for attempt := 0; attempt < o.opts.MaxStateRetries; attempt++ {
		evs, err := o.store.ListEvents(ctx, conv.ID)
		if err != nil {
			return projection{}, fmt.Errorf("list events: %w", err)
		}

		replayed, endedAt := Replay(evs)
		next := conv
		next.Status = advance(conv.Status, replayed)
		statusChanged := next.Status != conv.Status
		if statusChanged && next.Status.IsTerminal() {
			if endedAt == nil {
				endedAt = &now
			}
			next.EndedAt = endedAt
		}

		prev := conv.currentOutcome()
		inferred := outcome.Infer(evs)
		outcomeChanged := outcome.ShouldReplace(prev, inferred)
		if outcomeChanged {
			next.Outcome = &inferred
		}

		if !statusChanged && !outcomeChanged {
			return projection{conv: conv, prevOutcome: prev}, nil
		}

		next.UpdatedAt = now
		saved, err := o.store.UpdateState(ctx, next)
		if err == nil {
			return projection{
				conv:           saved,
				prevOutcome:    prev,
				statusChanged:  statusChanged,
				outcomeChanged: outcomeChanged,
			}, nil
		}
		if !apperr.IsCode(err, apperr.CodeConcurrencyConflict) {
			return projection{}, fmt.Errorf("update conversation state: %w", err)
		}
		if conv, err = o.store.Get(ctx, conv.ID); err != nil {
			return projection{}, err
		}
	}
	return projection{}, apperr.Conflict(fmt.Sprintf("conversation %s: state update kept losing races", conv.ID))
}

func (o *Orchestrator) onOutcomeChanged(ctx context.Context, conv Conversation, prev outcome.Outcome) {
	log := logger.From(ctx)
	next := conv.currentOutcome()

	if o.auditor != nil {
		if err := o.auditor.LogOutcomeChanged(ctx, conv.BusinessID, conv.CampaignID, conv.ID, prev.Kind, next.Kind); err != nil {
			log.Warn("audit outcome change failed", "conversation_id", conv.ID, "err", err)
		}
	}
	err := o.publisher.Publish(ctx, notify.Message{
		Type:       notify.TypeOutcomeChanged,
		Key:        conv.ID,
		OccurredAt: conv.UpdatedAt,
		Payload: map[string]any{
			"conversation_id": conv.ID,
			"campaign_id":     conv.CampaignID,
			"lead_id":         conv.LeadID,
			"previous":        prev.Kind,
			"outcome":         next,
		},
	})
	if err != nil {
		log.Warn("publish outcome change failed", "conversation_id", conv.ID, "err", err)
	}
}

func (o *Orchestrator) onFinished(ctx context.Context, conv Conversation) {
	log := logger.From(ctx)
	if o.inflight != nil {
		if err := o.inflight.Release(ctx, conv.CampaignID); err != nil {
			log.Warn("release in-flight slot failed", "campaign_id", conv.CampaignID, "err", err)
		}
	}
	err := o.publisher.Publish(ctx, notify.Message{
		Type:       notify.TypeConversationFinished,
		Key:        conv.ID,
		OccurredAt: conv.UpdatedAt,
		Payload: map[string]any{
			"conversation_id": conv.ID,
			"campaign_id":     conv.CampaignID,
			"lead_id":         conv.LeadID,
			"status":          conv.Status,
		},
	})
	if err != nil {
		log.Warn("publish conversation finished failed", "conversation_id", conv.ID, "err", err)
	}
}

// normalize validates raw events and assigns sequence numbers: the explicit
// sequence_number when present, else events.ImplicitSequence over the
// timestamp and content. In-batch duplicates keep the first occurrence.
func normalize(conversationID, externalID string, raws []RawEvent, now time.Time) ([]events.Event, int) {
	out := make([]events.Event, 0, len(raws))
	seen := make(map[int64]struct{}, len(raws))
	rejected := 0
	for _, r := range raws {
		typ := strings.TrimSpace(r.EventType)
		if typ == "" {
			rejected++
			continue
		}
		if r.ConversationExternalID != "" && r.ConversationExternalID != externalID {
			rejected++
			continue
		}

		var seq int64
		switch {
		case r.SequenceNumber != nil && *r.SequenceNumber >= 0:
			seq = *r.SequenceNumber
		case r.SequenceNumber == nil && !r.Timestamp.IsZero():
			seq = events.ImplicitSequence(r.Timestamp, events.Type(typ), r.AgentText, r.UserResponse)
		default:
			rejected++
			continue
		}
		if _, dup := seen[seq]; dup {
			continue
		}
		seen[seq] = struct{}{}

		createdAt := r.Timestamp.UTC()
		if r.Timestamp.IsZero() {
			createdAt = now
		}
		out = append(out, events.Event{
			ConversationID: conversationID,
			SequenceNumber: seq,
			Type:           events.Type(typ),
			AgentText:      r.AgentText,
			UserResponse:   r.UserResponse,
			CreatedAt:      createdAt,
		})
	}
	return out, rejected
}
