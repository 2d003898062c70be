package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"donor-dialer/internal/apperr"
	"donor-dialer/internal/conversations"
	"donor-dialer/internal/outcome"
)

var ErrInvalidRequest = apperr.Validation("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
//   - Methods must enforce business filtering.
//   - Reads come from the conversation projection; the event log is not
//     scanned here.
type Repository interface {
	ListConversations(ctx context.Context, businessID, campaignID string, from, to time.Time) ([]conversations.Conversation, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CampaignSummary(ctx context.Context, req CampaignSummaryRequest) (CampaignSummary, error) {
	if req.BusinessID == "" || req.CampaignID == "" {
		return CampaignSummary{}, ErrInvalidRequest
	}
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return CampaignSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CampaignSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListConversations(ctx, req.BusinessID, req.CampaignID, req.Range.From, req.Range.To)
	if err != nil {
		return CampaignSummary{}, err
	}

	out := CampaignSummary{
		BusinessID: req.BusinessID,
		CampaignID: req.CampaignID,
		Outcomes:   map[outcome.Kind]int{},
	}
	pledged := map[string]*MoneyTotal{}
	donated := map[string]*MoneyTotal{}
	ended := 0

	for _, c := range rows {
		out.Conversations++
		switch c.Status {
		case conversations.StatusInitiated:
			out.Initiated++
		case conversations.StatusInProgress:
			out.InProgress++
		case conversations.StatusCompleted:
			out.Completed++
		case conversations.StatusFailed:
			out.Failed++
		}
		if c.EndedAt != nil && c.EndedAt.After(c.StartedAt) {
			out.TotalDurationSeconds += int(c.EndedAt.Sub(c.StartedAt).Seconds())
			ended++
		}

		kind := outcome.KindUnknown
		if c.Outcome != nil && c.Outcome.Kind != "" {
			kind = c.Outcome.Kind
		}
		out.Outcomes[kind]++

		if c.Outcome == nil || !c.Outcome.HasAmount() {
			continue
		}
		switch kind {
		case outcome.KindPledged:
			addMoney(pledged, *c.Outcome)
		case outcome.KindDonated:
			addMoney(donated, *c.Outcome)
		}
	}

	out.Pledged = sortedTotals(pledged)
	out.Donated = sortedTotals(donated)
	if ended > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / ended
	}
	if out.Conversations > 0 {
		conversions := out.Outcomes[outcome.KindPledged] + out.Outcomes[outcome.KindDonated]
		out.ConnectionRate = float64(out.Completed) / float64(out.Conversations)
		out.ConversionRate = float64(conversions) / float64(out.Conversations)
	}
	return out, nil
}

func addMoney(m map[string]*MoneyTotal, o outcome.Outcome) {
	t, ok := m[o.Currency]
	if !ok {
		t = &MoneyTotal{Currency: o.Currency}
		m[o.Currency] = t
	}
	t.AmountMinor += o.AmountMinor
	t.Count++
}

func sortedTotals(m map[string]*MoneyTotal) []MoneyTotal {
	out := make([]MoneyTotal, 0, len(m))
	for _, t := range m {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}
