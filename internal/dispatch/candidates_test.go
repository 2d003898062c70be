package dispatch

import (
	"testing"
	"time"

	"donor-dialer/internal/campaigns"

	"github.com/stretchr/testify/require"
)

func cand(id, phone string, attempts int, last *time.Time) campaigns.Candidate {
	return campaigns.Candidate{
		Lead:          campaigns.Lead{ID: id, BusinessID: "biz-1", Phone: phone},
		Attempts:      attempts,
		LastAttemptAt: last,
		HasRecord:     attempts > 0 || last != nil,
	}
}

func ids(cs []campaigns.Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Lead.ID)
	}
	return out
}

func at(h int) *time.Time {
	t := time.Date(2023, 11, 14, h, 0, 0, 0, time.UTC)
	return &t
}

func TestSelectCandidates_OrderAndFilters(t *testing.T) {
	c := campaigns.Campaign{ID: "camp-1", BusinessID: "biz-1", MaxAttempts: 2, ExcludeDNC: true}

	dnc := cand("d", "+1555000004", 0, nil)
	dnc.Lead.DNC = true
	unreachable := cand("u", "+1555000005", 0, nil)
	unreachable.Lead.Unreachable = true
	foreign := cand("f", "+1555000006", 0, nil)
	foreign.Lead.BusinessID = "biz-2"

	in := []campaigns.Candidate{
		cand("c", "+1555000003", 1, at(10)),
		cand("b", "+1555000002", 0, nil),
		cand("e", "+1555000007", 1, at(9)),
		cand("maxed", "+1555000008", 2, at(8)),
		cand("a", "+1555000001", 0, nil),
		dnc, unreachable, foreign,
	}
	got := SelectCandidates(c, in, 0)
	require.Equal(t, []string{"a", "b", "e", "c"}, ids(got))

	require.Equal(t, []string{"a", "b"}, ids(SelectCandidates(c, in, 2)))
}

func TestSelectCandidates_DNCKeptWhenNotExcluded(t *testing.T) {
	c := campaigns.Campaign{BusinessID: "biz-1", MaxAttempts: 1}
	d := cand("d", "+1", 0, nil)
	d.Lead.DNC = true
	require.Equal(t, []string{"d"}, ids(SelectCandidates(c, []campaigns.Candidate{d}, 0)))
}

func TestSelectCandidates_DedupeByPhone(t *testing.T) {
	c := campaigns.Campaign{BusinessID: "biz-1", MaxAttempts: 3, ExcludeDNC: true, DedupeByPhone: true}

	in := []campaigns.Candidate{
		cand("a", "+1 (555) 000-0001", 0, nil),
		cand("b", "+15550000001", 1, at(9)),
		cand("c", "+15550000002", 0, nil),
		cand("d", "+1-555-000-0002", 0, nil),
		cand("e", "", 0, nil),
		cand("f", "", 0, nil),
	}
	got := SelectCandidates(c, in, 0)
	// a/b share a phone and b carries the history; c/d collapse to c.
	require.Equal(t, []string{"c", "e", "f", "b"}, ids(got))
}

func TestSelectCandidates_DedupeDropsBlockedGroups(t *testing.T) {
	c := campaigns.Campaign{BusinessID: "biz-1", MaxAttempts: 3, ExcludeDNC: true, DedupeByPhone: true}

	dnc := cand("b", "+15550000001", 0, nil)
	dnc.Lead.DNC = true
	in := []campaigns.Candidate{cand("a", "+15550000001", 0, nil), dnc, cand("c", "+15550000002", 0, nil)}

	require.Equal(t, []string{"c"}, ids(SelectCandidates(c, in, 0)))
}

func TestSelectCandidates_DoesNotMutateInput(t *testing.T) {
	c := campaigns.Campaign{BusinessID: "biz-1", MaxAttempts: 1}
	in := []campaigns.Candidate{cand("b", "+2", 0, nil), cand("a", "+1", 0, nil)}
	_ = SelectCandidates(c, in, 0)
	require.Equal(t, []string{"b", "a"}, ids(in))
}
