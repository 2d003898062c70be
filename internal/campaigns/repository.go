package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"donor-dialer/internal/apperr"
)

// Repository is the scheduler's view of campaigns and leads.
type Repository interface {
	ListActive(ctx context.Context) ([]Campaign, error)
	Get(ctx context.Context, id string) (Campaign, error)
	GetLead(ctx context.Context, id string) (Lead, error)
	// ListCandidates returns the business's leads joined with their attempt
	// record for this campaign, in dispatch order.
	ListCandidates(ctx context.Context, c Campaign, limit int) ([]Candidate, error)
	MarkUnreachable(ctx context.Context, leadID string, at time.Time) error
	TouchLead(ctx context.Context, leadID string, at time.Time) error
}

// PostgresRepository reads campaigns and leads through database/sql (pgx).
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const campaignColumns = `
c.id, c.business_id, c.status,
to_char(c.call_window_start, 'HH24:MI:SS'), to_char(c.call_window_end, 'HH24:MI:SS'),
c.daily_call_cap, c.max_attempts, c.exclude_dnc, c.dedupe_by_phone,
COALESCE(c.agent_id, ''), COALESCE(c.agent_phone_number_id, ''), COALESCE(b.timezone, '')
`

func (r *PostgresRepository) ListActive(ctx context.Context) ([]Campaign, error) {
	q := `
SELECT` + campaignColumns + `
FROM campaigns c
JOIN businesses b ON b.id = c.business_id
WHERE c.status = 'active'
ORDER BY c.id
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Campaign, error) {
	q := `
SELECT` + campaignColumns + `
FROM campaigns c
JOIN businesses b ON b.id = c.business_id
WHERE c.id = $1
`
	c, err := scanCampaign(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, apperr.NotFound("campaign " + id)
	}
	return c, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(s rowScanner) (Campaign, error) {
	var (
		c          Campaign
		start, end string
	)
	if err := s.Scan(
		&c.ID,
		&c.BusinessID,
		&c.Status,
		&start,
		&end,
		&c.DailyCallCap,
		&c.MaxAttempts,
		&c.ExcludeDNC,
		&c.DedupeByPhone,
		&c.AgentID,
		&c.AgentPhoneNumberID,
		&c.Timezone,
	); err != nil {
		return Campaign{}, err
	}
	var err error
	if c.CallWindowStart, err = ParseTimeOfDay(start); err != nil {
		return Campaign{}, apperr.Wrap(apperr.CodeValidation, "campaign "+c.ID, err)
	}
	if c.CallWindowEnd, err = ParseTimeOfDay(end); err != nil {
		return Campaign{}, apperr.Wrap(apperr.CodeValidation, "campaign "+c.ID, err)
	}
	return c, nil
}

func (r *PostgresRepository) GetLead(ctx context.Context, id string) (Lead, error) {
	const q = `
SELECT id, business_id, phone, COALESCE(first_name, ''), dnc, unreachable, last_activity_at, created_at
FROM leads
WHERE id = $1
`
	var l Lead
	var last sql.NullTime
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&l.ID,
		&l.BusinessID,
		&l.Phone,
		&l.FirstName,
		&l.DNC,
		&l.Unreachable,
		&last,
		&l.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, apperr.NotFound("lead " + id)
		}
		return Lead{}, err
	}
	l.LastActivityAt = nullTime(last)
	return l, nil
}

// ListCandidates pre-filters in SQL when phone dedupe is off. With dedupe on,
// every lead of the business is returned so a group's attempted member can
// stand in for its siblings.
func (r *PostgresRepository) ListCandidates(ctx context.Context, c Campaign, limit int) ([]Candidate, error) {
	const base = `
SELECT l.id, l.business_id, l.phone, COALESCE(l.first_name, ''), l.dnc, l.unreachable,
       l.last_activity_at, l.created_at,
       COALESCE(cl.attempts, 0), cl.last_attempt_at, cl.lead_id IS NOT NULL
FROM leads l
LEFT JOIN campaign_leads cl ON cl.campaign_id = $1 AND cl.lead_id = l.id
WHERE l.business_id = $2
`
	const filtered = base + `
  AND NOT l.unreachable
  AND COALESCE(cl.attempts, 0) < $3
  AND (NOT $4 OR NOT l.dnc)
ORDER BY cl.last_attempt_at ASC NULLS FIRST, l.id ASC
LIMIT $5
`
	const all = base + `
ORDER BY cl.last_attempt_at ASC NULLS FIRST, l.id ASC
`
	var (
		rows *sql.Rows
		err  error
	)
	if c.DedupeByPhone || limit <= 0 {
		rows, err = r.db.QueryContext(ctx, all, c.ID, c.BusinessID)
	} else {
		rows, err = r.db.QueryContext(ctx, filtered, c.ID, c.BusinessID, c.MaxAttempts, c.ExcludeDNC, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list candidates for campaign %s: %w", c.ID, err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			cand             Candidate
			lastAct, lastAtt sql.NullTime
		)
		if err := rows.Scan(
			&cand.Lead.ID,
			&cand.Lead.BusinessID,
			&cand.Lead.Phone,
			&cand.Lead.FirstName,
			&cand.Lead.DNC,
			&cand.Lead.Unreachable,
			&lastAct,
			&cand.Lead.CreatedAt,
			&cand.Attempts,
			&lastAtt,
			&cand.HasRecord,
		); err != nil {
			return nil, err
		}
		cand.Lead.LastActivityAt = nullTime(lastAct)
		cand.LastAttemptAt = nullTime(lastAtt)
		out = append(out, cand)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MarkUnreachable(ctx context.Context, leadID string, at time.Time) error {
	const q = `
UPDATE leads SET unreachable = TRUE, last_activity_at = $2
WHERE id = $1
`
	return r.execOne(ctx, q, leadID, at)
}

func (r *PostgresRepository) TouchLead(ctx context.Context, leadID string, at time.Time) error {
	const q = `
UPDATE leads SET last_activity_at = GREATEST(COALESCE(last_activity_at, $2), $2)
WHERE id = $1
`
	return r.execOne(ctx, q, leadID, at)
}

func (r *PostgresRepository) execOne(ctx context.Context, q, leadID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, q, leadID, at)
	if err != nil {
		return fmt.Errorf("update lead %s: %w", leadID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("lead " + leadID)
	}
	return nil
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
