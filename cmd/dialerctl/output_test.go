package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"donor-dialer/internal/auth"
	"donor-dialer/internal/config"
	"donor-dialer/internal/conversations"
	"donor-dialer/internal/outcome"
	"donor-dialer/internal/reporting"

	"github.com/stretchr/testify/require"
)

const pledgeLog = `[
  {"conversation_id": "c1", "sequence_number": 3, "event_type": "user_response", "user_response": "Yes, I will pledge $100", "created_at": "2023-11-14T15:00:09Z"},
  {"conversation_id": "c1", "sequence_number": 1, "event_type": "conversation_started", "created_at": "2023-11-14T15:00:00Z"},
  {"conversation_id": "c1", "sequence_number": 2, "event_type": "commitment_requested", "agent_text": "Could you pledge today?", "created_at": "2023-11-14T15:00:05Z"},
  {"conversation_id": "c1", "sequence_number": 4, "event_type": "call_ended", "created_at": "2023-11-14T15:00:20Z"}
]`

func TestInferEvents_OrdersBySequence(t *testing.T) {
	res, err := inferEvents(strings.NewReader(pledgeLog))
	require.NoError(t, err)
	require.Equal(t, 4, res.Events)
	require.Equal(t, conversations.StatusCompleted, res.Status)
	require.Equal(t, outcome.Outcome{Kind: outcome.KindPledged, AmountMinor: 10000, Currency: "USD"}, res.Outcome)
	require.Equal(t, "100.00 USD", res.Amount)

	var buf bytes.Buffer
	renderInference(&buf, res)
	require.Contains(t, buf.String(), "pledged")
	require.Contains(t, buf.String(), "100.00 USD")
}

func TestInferEvents_RejectsMalformedInput(t *testing.T) {
	_, err := inferEvents(strings.NewReader(`{"not":"an array"}`))
	require.ErrorContains(t, err, "decode events")
}

func TestRenderSummary_FormatsMoney(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(&buf, reporting.CampaignSummary{
		BusinessID:     "biz-1",
		CampaignID:     "camp-1",
		Conversations:  4,
		Completed:      2,
		Outcomes:       map[outcome.Kind]int{outcome.KindPledged: 1, outcome.KindNotInterested: 1},
		Pledged:        []reporting.MoneyTotal{{Currency: "USD", AmountMinor: 10050, Count: 1}},
		ConnectionRate: 0.5,
	})
	out := buf.String()
	require.Contains(t, out, "Campaign camp-1 (biz-1)")
	require.Contains(t, out, "50.0%")
	require.Contains(t, out, "not_interested")
	require.Contains(t, out, "100.50 USD")
}

func TestIssueToken_PlatformAndBusiness(t *testing.T) {
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "s", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	require.NoError(t, err)
	now := time.Now()

	out, err := issueToken(m, now, "scheduler", "service", "", time.Hour)
	require.NoError(t, err)
	claims, err := m.Verify(out["access_token"], auth.TokenTypeAccess, now)
	require.NoError(t, err)
	require.True(t, claims.Platform)

	_, err = issueToken(m, now, "u", "owner", "", time.Hour)
	require.Error(t, err)
	_, err = issueToken(m, now, "u", "admin", "biz-1", time.Hour)
	require.Error(t, err)

	out, err = issueToken(m, now, "u", "owner", "biz-1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, out["refresh_token"])
}

func TestParseDay(t *testing.T) {
	d, err := parseDay("2023-11-14")
	require.NoError(t, err)
	require.Equal(t, time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC), d)

	zero, err := parseDay("")
	require.NoError(t, err)
	require.True(t, zero.IsZero())

	_, err = parseDay("14/11/2023")
	require.Error(t, err)
}
