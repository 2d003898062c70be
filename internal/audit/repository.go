package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends to audit_events. There is no UPDATE or DELETE path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, business_id, type, actor_user_id, actor_role,
  campaign_id, lead_id, conversation_id, run_id,
  message, metadata, created_at
) VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), NULLIF($5, ''),
  NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''),
  $10, COALESCE(NULLIF($11, ''), '{}')::jsonb, $12)
`
	if _, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.BusinessID,
		string(e.Type),
		e.ActorUserID,
		e.ActorRole,
		e.CampaignID,
		e.LeadID,
		e.ConversationID,
		e.RunID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
