package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"donor-dialer/internal/conversations"
	"donor-dialer/internal/outcome"
)

// PostgresRepo reads the conversation projection for reports.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ListConversations(ctx context.Context, businessID, campaignID string, from, to time.Time) ([]conversations.Conversation, error) {
	q := `
SELECT c.id, c.external_id, c.campaign_id, c.lead_id, c.status,
       COALESCE(c.outcome, ''), COALESCE(c.outcome_amount_minor, 0), COALESCE(c.outcome_currency, ''),
       c.started_at, c.ended_at
FROM conversations c
WHERE c.business_id = $1
  AND c.campaign_id = $2
  AND ($3::timestamptz IS NULL OR c.started_at >= $3)
  AND ($4::timestamptz IS NULL OR c.started_at < $4)
ORDER BY c.started_at, c.id
`
	rows, err := r.db.QueryContext(ctx, q, businessID, campaignID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, fmt.Errorf("list conversations for report: %w", err)
	}
	defer rows.Close()

	var out []conversations.Conversation
	for rows.Next() {
		var (
			c       conversations.Conversation
			kind    string
			amount  int64
			cur     string
			endedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.ExternalID, &c.CampaignID, &c.LeadID, &c.Status,
			&kind, &amount, &cur, &c.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.BusinessID = businessID
		if kind != "" {
			c.Outcome = &outcome.Outcome{Kind: outcome.Kind(kind), AmountMinor: amount, Currency: cur}
		}
		if endedAt.Valid {
			t := endedAt.Time.UTC()
			c.EndedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
