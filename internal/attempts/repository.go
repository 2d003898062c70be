package attempts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"donor-dialer/internal/apperr"
	"donor-dialer/internal/campaigns"
	"donor-dialer/pkg/utils"
)

// PostgresStore implements Store on campaign_leads and campaign_daily_counters.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetCampaignLead(ctx context.Context, campaignID, leadID string) (campaigns.CampaignLead, bool, error) {
	const q = `
SELECT campaign_id, lead_id, attempts, last_attempt_at
FROM campaign_leads
WHERE campaign_id = $1 AND lead_id = $2
`
	cl, err := scanCampaignLead(s.db.QueryRowContext(ctx, q, campaignID, leadID))
	if errors.Is(err, sql.ErrNoRows) {
		return campaigns.CampaignLead{}, false, nil
	}
	if err != nil {
		return campaigns.CampaignLead{}, false, err
	}
	return cl, true, nil
}

// ClaimAttempt is one statement: the first claim inserts, later claims (and a
// claim on a released zero row) update only while attempts still equals seen.
func (s *PostgresStore) ClaimAttempt(ctx context.Context, campaignID, leadID string, seen int, at time.Time) (campaigns.CampaignLead, error) {
	const insertQ = `
INSERT INTO campaign_leads (campaign_id, lead_id, attempts, last_attempt_at)
VALUES ($1, $2, 1, $3)
ON CONFLICT (campaign_id, lead_id) DO UPDATE
SET attempts = 1, last_attempt_at = EXCLUDED.last_attempt_at
WHERE campaign_leads.attempts = 0
RETURNING campaign_id, lead_id, attempts, last_attempt_at
`
	const updateQ = `
UPDATE campaign_leads
SET attempts = attempts + 1, last_attempt_at = $4
WHERE campaign_id = $1 AND lead_id = $2 AND attempts = $3
RETURNING campaign_id, lead_id, attempts, last_attempt_at
`
	var row *sql.Row
	if seen == 0 {
		row = s.db.QueryRowContext(ctx, insertQ, campaignID, leadID, at)
	} else {
		row = s.db.QueryRowContext(ctx, updateQ, campaignID, leadID, seen, at)
	}

	cl, err := scanCampaignLead(row)
	switch {
	case err == nil:
		return cl, nil
	case errors.Is(err, sql.ErrNoRows):
		return campaigns.CampaignLead{}, apperr.Conflict(fmt.Sprintf("attempt for lead %s in campaign %s moved past %d", leadID, campaignID, seen))
	case utils.IsForeignKeyViolation(err):
		return campaigns.CampaignLead{}, apperr.Wrap(apperr.CodeNotFound, "campaign or lead vanished", err)
	default:
		return campaigns.CampaignLead{}, fmt.Errorf("claim attempt: %w", err)
	}
}

func (s *PostgresStore) RestoreAttempt(ctx context.Context, claimed, prev campaigns.CampaignLead) error {
	const q = `
UPDATE campaign_leads
SET attempts = $4, last_attempt_at = $5
WHERE campaign_id = $1 AND lead_id = $2 AND attempts = $3
`
	var last sql.NullTime
	if prev.LastAttemptAt != nil {
		last = sql.NullTime{Time: *prev.LastAttemptAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, q, claimed.CampaignID, claimed.LeadID, claimed.Attempts, prev.Attempts, last)
	if err != nil {
		return fmt.Errorf("restore attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Conflict("attempt record changed before release")
	}
	return nil
}

func (s *PostgresStore) DailyCount(ctx context.Context, campaignID string, day time.Time) (int, error) {
	const q = `
SELECT dispatched FROM campaign_daily_counters
WHERE campaign_id = $1 AND day = $2
`
	var n int
	err := s.db.QueryRowContext(ctx, q, campaignID, day).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("daily count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) IncrementDailyIfBelow(ctx context.Context, campaignID string, day time.Time, limit int) (bool, error) {
	const q = `
INSERT INTO campaign_daily_counters (campaign_id, day, dispatched)
VALUES ($1, $2, 1)
ON CONFLICT (campaign_id, day) DO UPDATE
SET dispatched = campaign_daily_counters.dispatched + 1
WHERE campaign_daily_counters.dispatched < $3
RETURNING dispatched
`
	var n int
	err := s.db.QueryRowContext(ctx, q, campaignID, day, limit).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reserve daily slot: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) DecrementDaily(ctx context.Context, campaignID string, day time.Time) error {
	const q = `
UPDATE campaign_daily_counters
SET dispatched = dispatched - 1
WHERE campaign_id = $1 AND day = $2 AND dispatched > 0
`
	if _, err := s.db.ExecContext(ctx, q, campaignID, day); err != nil {
		return fmt.Errorf("release daily slot: %w", err)
	}
	return nil
}

func scanCampaignLead(row *sql.Row) (campaigns.CampaignLead, error) {
	var (
		cl   campaigns.CampaignLead
		last sql.NullTime
	)
	if err := row.Scan(&cl.CampaignID, &cl.LeadID, &cl.Attempts, &last); err != nil {
		return campaigns.CampaignLead{}, err
	}
	if last.Valid {
		t := last.Time.UTC()
		cl.LastAttemptAt = &t
	}
	return cl, nil
}
