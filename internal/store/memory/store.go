// Package memory is an in-process implementation of the dialer stores. A
// single mutex stands in for row-level atomicity, so conditional writes
// behave like their Postgres counterparts. Used by tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"donor-dialer/internal/apperr"
	"donor-dialer/internal/campaigns"
	"donor-dialer/internal/conversations"
	"donor-dialer/internal/events"
)

type pairKey struct{ campaignID, leadID string }

type dayKey struct {
	campaignID string
	day        string
}

type eventKey struct {
	conversationID string
	seq            int64
}

type Store struct {
	mu sync.Mutex

	campaigns map[string]campaigns.Campaign
	leads     map[string]campaigns.Lead
	attempts  map[pairKey]campaigns.CampaignLead
	daily     map[dayKey]int

	conversations map[string]conversations.Conversation
	byExternal    map[string]string
	bySID         map[string]string
	events        map[string][]events.Event
	eventSeen     map[eventKey]struct{}
}

func New() *Store {
	return &Store{
		campaigns:     map[string]campaigns.Campaign{},
		leads:         map[string]campaigns.Lead{},
		attempts:      map[pairKey]campaigns.CampaignLead{},
		daily:         map[dayKey]int{},
		conversations: map[string]conversations.Conversation{},
		byExternal:    map[string]string{},
		bySID:         map[string]string{},
		events:        map[string][]events.Event{},
		eventSeen:     map[eventKey]struct{}{},
	}
}

// PutCampaign inserts or replaces a campaign (seeding).
func (s *Store) PutCampaign(c campaigns.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
}

// PutLead inserts or replaces a lead (seeding).
func (s *Store) PutLead(l campaigns.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.ID] = l
}

// DeleteLead removes a lead, simulating a CRUD delete mid-tick.
func (s *Store) DeleteLead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leads, id)
}

// PutCampaignLead seeds an attempt record.
func (s *Store) PutCampaignLead(cl campaigns.CampaignLead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[pairKey{cl.CampaignID, cl.LeadID}] = cl
}

// campaigns.Repository

func (s *Store) ListActive(ctx context.Context) ([]campaigns.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []campaigns.Campaign
	for _, c := range s.campaigns {
		if c.Status == campaigns.CampaignStatusActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (campaigns.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return campaigns.Campaign{}, apperr.NotFound("campaign " + id)
	}
	return c, nil
}

func (s *Store) GetLead(ctx context.Context, id string) (campaigns.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return campaigns.Lead{}, apperr.NotFound("lead " + id)
	}
	return l, nil
}

// ListCandidates mirrors the Postgres query: no pre-filtering when phone
// dedupe is on, otherwise the same filters and limit.
func (s *Store) ListCandidates(ctx context.Context, c campaigns.Campaign, limit int) ([]campaigns.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefilter := !c.DedupeByPhone && limit > 0
	var out []campaigns.Candidate
	for _, l := range s.leads {
		if l.BusinessID != c.BusinessID {
			continue
		}
		cand := campaigns.Candidate{Lead: l}
		if cl, ok := s.attempts[pairKey{c.ID, l.ID}]; ok {
			cand.Attempts = cl.Attempts
			cand.LastAttemptAt = cl.LastAttemptAt
			cand.HasRecord = true
		}
		if prefilter && (l.Unreachable || cand.Attempts >= c.MaxAttempts || (c.ExcludeDNC && l.DNC)) {
			continue
		}
		out = append(out, cand)
	}
	sort.Slice(out, func(i, j int) bool { return candidateLess(out[i], out[j]) })
	if prefilter && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func candidateLess(a, b campaigns.Candidate) bool {
	switch {
	case a.LastAttemptAt == nil && b.LastAttemptAt != nil:
		return true
	case a.LastAttemptAt != nil && b.LastAttemptAt == nil:
		return false
	case a.LastAttemptAt != nil && !a.LastAttemptAt.Equal(*b.LastAttemptAt):
		return a.LastAttemptAt.Before(*b.LastAttemptAt)
	}
	return a.Lead.ID < b.Lead.ID
}

func (s *Store) MarkUnreachable(ctx context.Context, leadID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return apperr.NotFound("lead " + leadID)
	}
	l.Unreachable = true
	t := at.UTC()
	l.LastActivityAt = &t
	s.leads[leadID] = l
	return nil
}

func (s *Store) TouchLead(ctx context.Context, leadID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return apperr.NotFound("lead " + leadID)
	}
	if l.LastActivityAt == nil || at.After(*l.LastActivityAt) {
		t := at.UTC()
		l.LastActivityAt = &t
	}
	s.leads[leadID] = l
	return nil
}

// attempts.Store

func (s *Store) GetCampaignLead(ctx context.Context, campaignID, leadID string) (campaigns.CampaignLead, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.attempts[pairKey{campaignID, leadID}]
	return cl, ok, nil
}

// CampaignLead is a read helper for tests.
func (s *Store) CampaignLead(campaignID, leadID string) (campaigns.CampaignLead, bool) {
	cl, ok, _ := s.GetCampaignLead(context.Background(), campaignID, leadID)
	return cl, ok
}

func (s *Store) ClaimAttempt(ctx context.Context, campaignID, leadID string, seen int, at time.Time) (campaigns.CampaignLead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[campaignID]; !ok {
		return campaigns.CampaignLead{}, apperr.NotFound("campaign " + campaignID)
	}
	if _, ok := s.leads[leadID]; !ok {
		return campaigns.CampaignLead{}, apperr.NotFound("lead " + leadID)
	}

	k := pairKey{campaignID, leadID}
	cur, exists := s.attempts[k]
	current := 0
	if exists {
		current = cur.Attempts
	}
	if current != seen {
		return campaigns.CampaignLead{}, apperr.Conflict(fmt.Sprintf("attempt for lead %s in campaign %s moved past %d", leadID, campaignID, seen))
	}
	t := at.UTC()
	next := campaigns.CampaignLead{CampaignID: campaignID, LeadID: leadID, Attempts: seen + 1, LastAttemptAt: &t}
	s.attempts[k] = next
	return next, nil
}

func (s *Store) RestoreAttempt(ctx context.Context, claimed, prev campaigns.CampaignLead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{claimed.CampaignID, claimed.LeadID}
	cur, ok := s.attempts[k]
	if !ok || cur.Attempts != claimed.Attempts {
		return apperr.Conflict("attempt record changed before release")
	}
	s.attempts[k] = campaigns.CampaignLead{
		CampaignID:    claimed.CampaignID,
		LeadID:        claimed.LeadID,
		Attempts:      prev.Attempts,
		LastAttemptAt: prev.LastAttemptAt,
	}
	return nil
}

func dk(campaignID string, day time.Time) dayKey {
	return dayKey{campaignID: campaignID, day: day.Format("2006-01-02")}
}

func (s *Store) DailyCount(ctx context.Context, campaignID string, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.daily[dk(campaignID, day)], nil
}

func (s *Store) IncrementDailyIfBelow(ctx context.Context, campaignID string, day time.Time, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := dk(campaignID, day)
	if s.daily[k] >= limit {
		return false, nil
	}
	s.daily[k]++
	return true, nil
}

func (s *Store) DecrementDaily(ctx context.Context, campaignID string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := dk(campaignID, day)
	if s.daily[k] > 0 {
		s.daily[k]--
	}
	return nil
}
