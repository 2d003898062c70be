package audit

import "time"

// Event is an immutable, append-only audit record of something the dialer
// did on its own authority: giving up on a number, changing an outcome,
// finishing a run.
//
// Events are never updated or deleted. Audit is internal-only.
type Event struct {
	ID         string    `json:"id" db:"id"`
	BusinessID string    `json:"business_id,omitempty" db:"business_id"`
	Type       EventType `json:"type" db:"type"`

	// Actor is set when an operator triggered the action through the API.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	CampaignID     string `json:"campaign_id,omitempty" db:"campaign_id"`
	LeadID         string `json:"lead_id,omitempty" db:"lead_id"`
	ConversationID string `json:"conversation_id,omitempty" db:"conversation_id"`
	RunID          string `json:"run_id,omitempty" db:"run_id"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON (JSONB in Postgres).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeLeadUnreachable EventType = "lead_unreachable"
	EventTypeOutcomeChanged  EventType = "outcome_changed"
	EventTypeDispatchRun     EventType = "dispatch_run"
	EventTypeSyncRun         EventType = "sync_run"
)

// isRunEvent marks types that are not scoped to a single business.
func (t EventType) isRunEvent() bool {
	return t == EventTypeDispatchRun || t == EventTypeSyncRun
}
