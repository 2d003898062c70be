package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. Append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information. Callers treat it as
// best-effort: a failed append is logged, never fatal to a dispatch.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// WithClock pins the clock (tests).
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.BusinessID == "" && !e.Type.isRunEvent() {
		return ErrInvalidEvent
	}
	if e.Type.isRunEvent() && e.RunID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogLeadUnreachable records a permanent provider failure that retired a lead.
func (s *Service) LogLeadUnreachable(ctx context.Context, businessID, campaignID, leadID, reason string) error {
	return s.Append(ctx, Event{
		BusinessID: businessID,
		Type:       EventTypeLeadUnreachable,
		CampaignID: campaignID,
		LeadID:     leadID,
		Message:    reason,
	})
}

// LogOutcomeChanged records an outcome transition with both values.
func (s *Service) LogOutcomeChanged(ctx context.Context, businessID, campaignID, conversationID string, from, to any) error {
	meta, err := json.Marshal(map[string]any{"from": from, "to": to})
	if err != nil {
		return err
	}
	return s.Append(ctx, Event{
		BusinessID:     businessID,
		Type:           EventTypeOutcomeChanged,
		CampaignID:     campaignID,
		ConversationID: conversationID,
		Message:        "outcome changed",
		Metadata:       string(meta),
	})
}

// LogRun records a dispatch or sync summary. actorUserID/actorRole are empty
// for scheduled runs.
func (s *Service) LogRun(ctx context.Context, typ EventType, runID, actorUserID, actorRole string, summary any) error {
	meta, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.Append(ctx, Event{
		Type:        typ,
		RunID:       runID,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		Message:     string(typ) + " finished",
		Metadata:    string(meta),
	})
}
