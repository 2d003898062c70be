package conversations

import (
	"context"

	"donor-dialer/internal/events"
)

// Store is the durable home of conversations and their event log.
type Store interface {
	// Create inserts an initiated conversation. A duplicate external id is
	// apperr.CodeConcurrencyConflict.
	Create(ctx context.Context, c Conversation) error
	Get(ctx context.Context, id string) (Conversation, error)
	// GetByExternalID matches the provider conversation id or the call sid.
	GetByExternalID(ctx context.Context, externalID string) (Conversation, error)

	// AppendEvents inserts each event unless (conversation_id,
	// sequence_number) already exists, and returns how many were new.
	AppendEvents(ctx context.Context, evs []events.Event) (int, error)
	// ListEvents returns the log ordered by sequence_number.
	ListEvents(ctx context.Context, conversationID string) ([]events.Event, error)

	// UpdateState writes status, outcome and ended_at if the stored version
	// still equals c.Version, and returns the row with the bumped version.
	UpdateState(ctx context.Context, c Conversation) (Conversation, error)

	// ListOpen pages non-terminal conversations by id, after afterID.
	ListOpen(ctx context.Context, afterID string, limit int) ([]Conversation, error)
}
