// Package attempts records dispatch attempts and daily dispatch counts.
// Every write is a single conditional statement against the store so that
// overlapping scheduler ticks, possibly on different machines, cannot both
// dispatch the same lead or overrun a daily cap.
package attempts

import (
	"context"
	"fmt"
	"time"

	"donor-dialer/internal/apperr"
	"donor-dialer/internal/campaigns"
)

// Store holds the atomic primitives the tracker is built on.
type Store interface {
	GetCampaignLead(ctx context.Context, campaignID, leadID string) (campaigns.CampaignLead, bool, error)

	// ClaimAttempt moves attempts from seen to seen+1 and stamps at.
	// Zero affected rows is apperr.CodeConcurrencyConflict; a missing lead is
	// apperr.CodeNotFound.
	ClaimAttempt(ctx context.Context, campaignID, leadID string, seen int, at time.Time) (campaigns.CampaignLead, error)

	// RestoreAttempt swaps a claimed record back to prev if attempts still
	// equals claimed.
	RestoreAttempt(ctx context.Context, claimed, prev campaigns.CampaignLead) error

	DailyCount(ctx context.Context, campaignID string, day time.Time) (int, error)
	// IncrementDailyIfBelow bumps the counter only while it is below limit.
	IncrementDailyIfBelow(ctx context.Context, campaignID string, day time.Time, limit int) (bool, error)
	DecrementDaily(ctx context.Context, campaignID string, day time.Time) error
}

// LeadReader resolves leads for eligibility checks.
type LeadReader interface {
	GetLead(ctx context.Context, id string) (campaigns.Lead, error)
}

type Tracker struct {
	store Store
	leads LeadReader
}

func NewTracker(store Store, leads LeadReader) *Tracker {
	return &Tracker{store: store, leads: leads}
}

// IsEligible answers whether leadID may be dispatched for c right now,
// ignoring window and cap (those are campaign-level).
func (t *Tracker) IsEligible(ctx context.Context, c campaigns.Campaign, leadID string) (bool, error) {
	lead, err := t.leads.GetLead(ctx, leadID)
	if err != nil {
		return false, err
	}
	if lead.BusinessID != c.BusinessID || lead.Unreachable {
		return false, nil
	}
	if c.ExcludeDNC && lead.DNC {
		return false, nil
	}
	cl, ok, err := t.store.GetCampaignLead(ctx, c.ID, leadID)
	if err != nil {
		return false, fmt.Errorf("load attempt record: %w", err)
	}
	if !ok {
		return c.MaxAttempts > 0, nil
	}
	return cl.Attempts < c.MaxAttempts, nil
}

// RecordAttempt claims the next attempt for (campaignID, leadID), where
// seenAttempts is the value the caller read when selecting the lead.
// Losing a race returns an apperr.CodeConcurrencyConflict error.
func (t *Tracker) RecordAttempt(ctx context.Context, campaignID, leadID string, seenAttempts int, now time.Time) (campaigns.CampaignLead, error) {
	if campaignID == "" || leadID == "" {
		return campaigns.CampaignLead{}, apperr.Validation("campaign_id and lead_id are required")
	}
	if seenAttempts < 0 {
		return campaigns.CampaignLead{}, apperr.Validation("seen attempts must be >= 0")
	}
	return t.store.ClaimAttempt(ctx, campaignID, leadID, seenAttempts, now.UTC())
}

// ReleaseAttempt undoes a claim after a transient failure. If someone else
// already moved the record on, the release is a conflict and the claim stays.
func (t *Tracker) ReleaseAttempt(ctx context.Context, claimed, previous campaigns.CampaignLead) error {
	if claimed.Attempts != previous.Attempts+1 {
		return apperr.Validation(fmt.Sprintf("release: claimed attempts %d does not follow %d", claimed.Attempts, previous.Attempts))
	}
	return t.store.RestoreAttempt(ctx, claimed, previous)
}

func (t *Tracker) DailyDispatchCount(ctx context.Context, campaignID string, day time.Time) (int, error) {
	return t.store.DailyCount(ctx, campaignID, day)
}

// ReserveDailySlot takes one unit of the campaign's cap for day. It returns
// false once the cap is reached; a zero cap never reserves.
func (t *Tracker) ReserveDailySlot(ctx context.Context, campaignID string, day time.Time, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	return t.store.IncrementDailyIfBelow(ctx, campaignID, day, limit)
}

func (t *Tracker) ReleaseDailySlot(ctx context.Context, campaignID string, day time.Time) error {
	return t.store.DecrementDaily(ctx, campaignID, day)
}
