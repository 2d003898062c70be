package conversations

import (
	"context"
	"errors"
	"time"

	"donor-dialer/internal/apperr"
	"donor-dialer/internal/events"
	"donor-dialer/pkg/logger"
	"donor-dialer/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// UpstreamStatus is the voice platform's view of a conversation.
type UpstreamStatus string

const (
	UpstreamInitiated  UpstreamStatus = "initiated"
	UpstreamInProgress UpstreamStatus = "in-progress"
	UpstreamProcessing UpstreamStatus = "processing"
	UpstreamDone       UpstreamStatus = "done"
	UpstreamFailed     UpstreamStatus = "failed"
)

// UpstreamTurn is one transcript entry. ToolCalls carries the names of agent
// tools invoked during the turn.
type UpstreamTurn struct {
	Role           string
	Message        string
	TimeInCallSecs int
	ToolCalls      []string
}

type UpstreamRecord struct {
	ExternalID   string
	Status       UpstreamStatus
	StartedAt    time.Time
	DurationSecs int
	Turns        []UpstreamTurn
}

// Upstream fetches the authoritative conversation record from the voice
// platform. A missing conversation is apperr.CodeNotFound.
type Upstream interface {
	FetchConversation(ctx context.Context, externalID string) (UpstreamRecord, error)
}

// commitmentTools are agent tool names that mean "the agent asked for a gift".
var commitmentTools = map[string]bool{
	"commitment_requested": true,
	"request_commitment":   true,
	"request_donation":     true,
}

var errNoUpstream = errors.New("conversations: upstream not configured")

// SyncConversations reconciles every non-terminal conversation with the
// upstream record. Per-conversation failures are counted, never returned;
// the only error is a missing upstream.
func (o *Orchestrator) SyncConversations(ctx context.Context, now time.Time) (SyncSummary, error) {
	if o.upstream == nil {
		return SyncSummary{}, errNoUpstream
	}
	ctx, span := tracing.Tracer().Start(ctx, "conversations.SyncConversations")
	defer span.End()
	log := logger.From(ctx)

	var sum SyncSummary
	after := ""
	for {
		if ctx.Err() != nil {
			sum.Partial = true
			break
		}
		page, err := o.store.ListOpen(ctx, after, o.opts.SyncBatchSize)
		if err != nil {
			log.Error("list open conversations failed", "err", err)
			sum.Errored++
			sum.Partial = true
			break
		}
		for _, conv := range page {
			if ctx.Err() != nil {
				sum.Partial = true
				break
			}
			after = conv.ID
			sum.Scanned++
			o.syncOne(ctx, conv, now, &sum)
		}
		if sum.Partial || len(page) < o.opts.SyncBatchSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("scanned", sum.Scanned),
		attribute.Int("appended", sum.Appended),
		attribute.Int("errored", sum.Errored),
	)
	log.Info("conversation sync finished",
		"scanned", sum.Scanned,
		"synced", sum.Synced,
		"appended", sum.Appended,
		"outcomes_changed", sum.OutcomesChanged,
		"completed", sum.Completed,
		"failed", sum.Failed,
		"timed_out", sum.TimedOut,
		"errored", sum.Errored,
		"partial", sum.Partial,
	)
	return sum, nil
}

func (o *Orchestrator) syncOne(ctx context.Context, conv Conversation, now time.Time, sum *SyncSummary) {
	log := logger.From(ctx).With("conversation_id", conv.ID, "external_id", conv.ExternalID)
	stale := conv.Status == StatusInitiated && now.Sub(conv.StartedAt) > o.opts.StaleAfter

	rec, err := o.upstream.FetchConversation(ctx, conv.ExternalID)
	notFound := apperr.IsCode(err, apperr.CodeNotFound)
	if err != nil && !(notFound && stale) {
		log.Warn("fetch upstream conversation failed", "err", err)
		sum.Errored++
		return
	}

	var raws []RawEvent
	if err == nil {
		raws = transcriptEvents(conv, rec)
	}
	timedOut := false
	if stale && len(raws) == 0 {
		raws = append(raws, RawEvent{
			ConversationExternalID: conv.ExternalID,
			EventType:              string(events.TypeTimeout),
			Timestamp:              now,
		})
		timedOut = true
	}
	if len(raws) == 0 {
		sum.Synced++
		return
	}

	res, err := o.IngestEvents(ctx, conv.ExternalID, raws)
	if err != nil {
		log.Warn("ingest upstream events failed", "err", err)
		sum.Errored++
		return
	}
	sum.Synced++
	sum.Appended += res.Appended
	if res.OutcomeChanged {
		sum.OutcomesChanged++
	}
	if res.StatusChanged {
		switch {
		case timedOut && res.Status == StatusFailed:
			sum.TimedOut++
		case res.Status == StatusCompleted:
			sum.Completed++
		case res.Status == StatusFailed:
			sum.Failed++
		}
	}
}

// transcriptEvents turns an upstream record into raw events without explicit
// sequence numbers, so they share events.ImplicitSequence with webhook
// deliveries. Turn i is stamped at start + offset + i ms to keep transcript
// order inside a second. A done/failed status becomes a terminal event one
// second after the last turn.
func transcriptEvents(conv Conversation, rec UpstreamRecord) []RawEvent {
	base := rec.StartedAt
	if base.IsZero() {
		base = conv.StartedAt
	}

	out := make([]RawEvent, 0, len(rec.Turns)+1)
	lastSec := rec.DurationSecs
	for i, turn := range rec.Turns {
		if turn.TimeInCallSecs > lastSec {
			lastSec = turn.TimeInCallSecs
		}
		at := base.Add(time.Duration(turn.TimeInCallSecs)*time.Second + time.Duration(i)*time.Millisecond)

		ev := RawEvent{
			ConversationExternalID: conv.ExternalID,
			Timestamp:              at,
		}
		switch turn.Role {
		case "user":
			ev.EventType = string(events.TypeUserResponse)
			ev.UserResponse = turn.Message
		default:
			ev.EventType = string(events.TypeAgentResponse)
			ev.AgentText = turn.Message
		}
		out = append(out, ev)

		for _, tool := range turn.ToolCalls {
			if commitmentTools[tool] {
				out = append(out, RawEvent{
					ConversationExternalID: conv.ExternalID,
					EventType:              string(events.TypeCommitmentRequested),
					Timestamp:              at,
				})
				break
			}
		}
	}

	var terminal events.Type
	switch rec.Status {
	case UpstreamDone:
		terminal = events.TypeStatusCompleted
	case UpstreamFailed:
		terminal = events.TypeCallFailed
	}
	if terminal != "" {
		out = append(out, RawEvent{
			ConversationExternalID: conv.ExternalID,
			EventType:              string(terminal),
			Timestamp:              base.Add(time.Duration(lastSec+1) * time.Second),
		})
	}
	return out
}
