package dispatch

import (
	"sort"

	"donor-dialer/internal/campaigns"
)

// SelectCandidates filters and orders a campaign's leads for dispatch: leads
// with attempts left, not unreachable, not DNC when the campaign excludes
// DNC, ordered by last_attempt_at ascending (never-attempted first) then lead
// id. With dedupe_by_phone, leads sharing a normalized phone collapse to one
// representative, and the whole group is dropped if any member is DNC or
// unreachable. limit <= 0 means no limit.
func SelectCandidates(c campaigns.Campaign, cands []campaigns.Candidate, limit int) []campaigns.Candidate {
	ordered := make([]campaigns.Candidate, len(cands))
	copy(ordered, cands)
	sort.SliceStable(ordered, func(i, j int) bool { return dispatchLess(ordered[i], ordered[j]) })

	if c.DedupeByPhone {
		ordered = collapseByPhone(c, ordered)
	}

	out := make([]campaigns.Candidate, 0, len(ordered))
	for _, cand := range ordered {
		if !eligible(c, cand) {
			continue
		}
		out = append(out, cand)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func eligible(c campaigns.Campaign, cand campaigns.Candidate) bool {
	if cand.Lead.BusinessID != c.BusinessID || cand.Lead.Unreachable {
		return false
	}
	if c.ExcludeDNC && cand.Lead.DNC {
		return false
	}
	return cand.Attempts < c.MaxAttempts
}

func dispatchLess(a, b campaigns.Candidate) bool {
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

// collapseByPhone keeps one lead per phone. The representative is the member
// that already carries attempts (most attempts wins), so retries keep
// counting against the same record; with no history it is the first in
// dispatch order. Input must already be in dispatch order.
func collapseByPhone(c campaigns.Campaign, ordered []campaigns.Candidate) []campaigns.Candidate {
	type group struct {
		rep     campaigns.Candidate
		blocked bool
	}
	groups := map[string]*group{}
	var keys []string

	for _, cand := range ordered {
		key := campaigns.NormalizePhone(cand.Lead.Phone)
		if key == "" {
			key = "lead:" + cand.Lead.ID
		}
		g, ok := groups[key]
		if !ok {
			g = &group{rep: cand}
			groups[key] = g
			keys = append(keys, key)
		} else if cand.Attempts > g.rep.Attempts {
			g.rep = cand
		}
		if cand.Lead.Unreachable || (c.ExcludeDNC && cand.Lead.DNC) {
			g.blocked = true
		}
	}

	out := make([]campaigns.Candidate, 0, len(keys))
	for _, k := range keys {
		if g := groups[k]; !g.blocked {
			out = append(out, g.rep)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return dispatchLess(out[i], out[j]) })
	return out
}
