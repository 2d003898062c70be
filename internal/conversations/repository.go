package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"donor-dialer/internal/apperr"
	"donor-dialer/internal/events"
	"donor-dialer/internal/outcome"
	"donor-dialer/pkg/utils"
)

// PostgresStore implements Store on conversations and conversation_events.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const conversationColumns = `
id, external_id, COALESCE(call_sid, ''), business_id, campaign_id, COALESCE(agent_id, ''), lead_id,
status, outcome, outcome_amount_minor, outcome_currency,
started_at, ended_at, updated_at, version
`

func (s *PostgresStore) Create(ctx context.Context, c Conversation) error {
	const q = `
INSERT INTO conversations (
  id, external_id, call_sid, business_id, campaign_id, agent_id, lead_id,
  status, started_at, updated_at, version
) VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, $8, $9, $10, 0)
`
	_, err := s.db.ExecContext(ctx, q,
		c.ID,
		c.ExternalID,
		c.CallSID,
		c.BusinessID,
		c.CampaignID,
		c.AgentID,
		c.LeadID,
		string(c.Status),
		c.StartedAt,
		c.UpdatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return apperr.Conflict("conversation already exists for external id " + c.ExternalID)
	}
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Conversation, error) {
	q := `SELECT` + conversationColumns + `FROM conversations WHERE id = $1`
	c, err := scanConversation(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, apperr.NotFound("conversation " + id)
	}
	return c, err
}

func (s *PostgresStore) GetByExternalID(ctx context.Context, externalID string) (Conversation, error) {
	q := `SELECT` + conversationColumns + `FROM conversations
WHERE external_id = $1 OR call_sid = $1
ORDER BY (external_id = $1) DESC
LIMIT 1`
	c, err := scanConversation(s.db.QueryRowContext(ctx, q, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, apperr.NotFound("conversation " + externalID)
	}
	return c, err
}

func (s *PostgresStore) AppendEvents(ctx context.Context, evs []events.Event) (int, error) {
	const q = `
INSERT INTO conversation_events (conversation_id, sequence_number, event_type, agent_text, user_response, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
ON CONFLICT (conversation_id, sequence_number) DO NOTHING
`
	inserted := 0
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range evs {
			res, err := stmt.ExecContext(ctx,
				e.ConversationID,
				e.SequenceNumber,
				string(e.Type),
				e.AgentText,
				e.UserResponse,
				e.CreatedAt,
			)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append conversation events: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, conversationID string) ([]events.Event, error) {
	const q = `
SELECT conversation_id, sequence_number, event_type, COALESCE(agent_text, ''), COALESCE(user_response, ''), created_at
FROM conversation_events
WHERE conversation_id = $1
ORDER BY sequence_number ASC
`
	rows, err := s.db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list conversation events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			e   events.Event
			typ string
		)
		if err := rows.Scan(&e.ConversationID, &e.SequenceNumber, &typ, &e.AgentText, &e.UserResponse, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = events.Type(typ)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateState(ctx context.Context, c Conversation) (Conversation, error) {
	const q = `
UPDATE conversations
SET status = $3,
    outcome = $4,
    outcome_amount_minor = $5,
    outcome_currency = $6,
    ended_at = $7,
    updated_at = $8,
    version = version + 1
WHERE id = $1 AND version = $2
RETURNING version
`
	var (
		kind     sql.NullString
		amount   sql.NullInt64
		currency sql.NullString
		ended    sql.NullTime
	)
	if c.Outcome != nil {
		kind = sql.NullString{String: string(c.Outcome.Kind), Valid: true}
		if c.Outcome.HasAmount() {
			amount = sql.NullInt64{Int64: c.Outcome.AmountMinor, Valid: true}
			currency = sql.NullString{String: c.Outcome.Currency, Valid: true}
		}
	}
	if c.EndedAt != nil {
		ended = sql.NullTime{Time: *c.EndedAt, Valid: true}
	}

	var version int64
	err := s.db.QueryRowContext(ctx, q, c.ID, c.Version, string(c.Status), kind, amount, currency, ended, c.UpdatedAt).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, apperr.Conflict(fmt.Sprintf("conversation %s changed since version %d", c.ID, c.Version))
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("update conversation: %w", err)
	}
	c.Version = version
	return c, nil
}

func (s *PostgresStore) ListOpen(ctx context.Context, afterID string, limit int) ([]Conversation, error) {
	q := `SELECT` + conversationColumns + `FROM conversations
WHERE status IN ('initiated', 'in_progress') AND id > $1
ORDER BY id
LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list open conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(s rowScanner) (Conversation, error) {
	var (
		c        Conversation
		status   string
		kind     sql.NullString
		amount   sql.NullInt64
		currency sql.NullString
		ended    sql.NullTime
	)
	if err := s.Scan(
		&c.ID,
		&c.ExternalID,
		&c.CallSID,
		&c.BusinessID,
		&c.CampaignID,
		&c.AgentID,
		&c.LeadID,
		&status,
		&kind,
		&amount,
		&currency,
		&c.StartedAt,
		&ended,
		&c.UpdatedAt,
		&c.Version,
	); err != nil {
		return Conversation{}, err
	}
	c.Status = Status(status)
	if kind.Valid {
		o := outcome.Outcome{Kind: outcome.Kind(kind.String)}
		if amount.Valid && currency.Valid {
			o.AmountMinor = amount.Int64
			o.Currency = currency.String
		}
		c.Outcome = &o
	}
	if ended.Valid {
		t := ended.Time.UTC()
		c.EndedAt = &t
	}
	c.StartedAt = c.StartedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}
