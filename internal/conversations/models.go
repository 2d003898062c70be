package conversations

import (
	"time"

	"donor-dialer/internal/outcome"
)

// Status is the replayed lifecycle state. It only moves forward.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

func (s Status) IsTerminal() bool { return s == StatusCompleted || s == StatusFailed }

// Conversation is one dispatched call. The scheduler creates it as initiated;
// after that only the orchestrator writes it, via CAS on Version.
type Conversation struct {
	ID         string `json:"id" db:"id"`
	ExternalID string `json:"external_id" db:"external_id"`
	CallSID    string `json:"call_sid,omitempty" db:"call_sid"`

	BusinessID string `json:"business_id" db:"business_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	AgentID    string `json:"agent_id,omitempty" db:"agent_id"`
	LeadID     string `json:"lead_id" db:"lead_id"`

	Status Status `json:"status" db:"status"`
	// Outcome is nil until the first inference.
	Outcome *outcome.Outcome `json:"outcome,omitempty" db:"-"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`

	Version int64 `json:"version" db:"version"`
}

func (c Conversation) currentOutcome() outcome.Outcome {
	if c.Outcome == nil {
		return outcome.Outcome{}
	}
	return *c.Outcome
}

// RawEvent is one inbound telemetry record, as delivered by the voice
// webhook or built from an upstream transcript. Delivery is at-least-once and
// may be out of order.
type RawEvent struct {
	ConversationExternalID string    `json:"conversation_external_id"`
	EventType              string    `json:"event_type"`
	SequenceNumber         *int64    `json:"sequence_number,omitempty"`
	AgentText              string    `json:"agent_text,omitempty"`
	UserResponse           string    `json:"user_response,omitempty"`
	Timestamp              time.Time `json:"timestamp"`
}

// IngestSummary reports what one IngestEvents call did.
type IngestSummary struct {
	ConversationID string           `json:"conversation_id"`
	Received       int              `json:"received"`
	Appended       int              `json:"appended"`
	Duplicates     int              `json:"duplicates"`
	Rejected       int              `json:"rejected"`
	Status         Status           `json:"status"`
	StatusChanged  bool             `json:"status_changed"`
	Outcome        *outcome.Outcome `json:"outcome,omitempty"`
	OutcomeChanged bool             `json:"outcome_changed"`
}

// SyncSummary reports one SyncConversations run.
type SyncSummary struct {
	Scanned         int  `json:"scanned"`
	Synced          int  `json:"synced"`
	Appended        int  `json:"appended"`
	OutcomesChanged int  `json:"outcomes_changed"`
	Completed       int  `json:"completed"`
	Failed          int  `json:"failed"`
	TimedOut        int  `json:"timed_out"`
	Errored         int  `json:"errored"`
	Partial         bool `json:"partial"`
}
