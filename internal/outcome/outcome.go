// Package outcome classifies a conversation from its ordered event log.
// Infer is pure: no I/O, no clock, no randomness.
package outcome

import (
	"sort"

	"donor-dialer/internal/events"
)

// Kind is the stored outcome value.
type Kind string

const (
	KindDonated           Kind = "donated"
	KindPledged           Kind = "pledged"
	KindCallbackRequested Kind = "callback_requested"
	KindNotInterested     Kind = "not_interested"
	KindNoAnswer          Kind = "no_answer"
	KindUnknown           Kind = "unknown"
)

// Tier orders kinds by confidence. Structured commitments rank highest;
// Unknown (and the empty kind, meaning "never inferred") rank lowest.
func (k Kind) Tier() int {
	switch k {
	case KindDonated, KindPledged:
		return 4
	case KindNotInterested:
		return 3
	case KindCallbackRequested:
		return 2
	case KindNoAnswer:
		return 1
	default:
		return 0
	}
}

func (k Kind) Valid() bool {
	switch k {
	case KindDonated, KindPledged, KindCallbackRequested, KindNotInterested, KindNoAnswer, KindUnknown:
		return true
	default:
		return false
	}
}

// Outcome is an inferred classification, with an amount for commitments.
type Outcome struct {
	Kind Kind `json:"kind"`
	// AmountMinor is in the currency's minor units (cents for USD).
	AmountMinor int64  `json:"amount_minor,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

func (o Outcome) HasAmount() bool { return o.Currency != "" }

// ShouldReplace reports whether next may overwrite the stored prev.
// An outcome never drops to a lower tier, and Unknown never overwrites
// anything that was inferred before.
func ShouldReplace(prev, next Outcome) bool {
	if prev.Kind == "" {
		return true
	}
	if next.Kind == KindUnknown || next.Kind == "" {
		return false
	}
	if next == prev {
		return false
	}
	return next.Kind.Tier() >= prev.Kind.Tier()
}

// Infer maps the event history to an outcome. Events are considered in
// sequence_number order; equal sequence numbers keep their input order.
func Infer(evs []events.Event) Outcome {
	ordered := make([]events.Event, len(evs))
	copy(ordered, evs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SequenceNumber < ordered[j].SequenceNumber
	})

	if o, ok := structuredCommitment(ordered); ok {
		return o
	}
	if declined(ordered) {
		return Outcome{Kind: KindNotInterested}
	}
	if rescheduled(ordered) {
		return Outcome{Kind: KindCallbackRequested}
	}

	var sawResponse, sawTerminal bool
	for _, e := range ordered {
		if e.HasUserResponse() {
			sawResponse = true
		}
		if events.IsTerminal(e.Type) {
			sawTerminal = true
		}
	}
	if !sawResponse && sawTerminal {
		return Outcome{Kind: KindNoAnswer}
	}
	return Outcome{Kind: KindUnknown}
}

// structuredCommitment finds the last affirmative response with an amount
// that follows a commitment_requested event.
func structuredCommitment(ordered []events.Event) (Outcome, bool) {
	requested := false
	var found Outcome
	ok := false
	for _, e := range ordered {
		if e.Type == events.TypeCommitmentRequested {
			requested = true
			continue
		}
		if !requested || e.UserResponse == "" {
			continue
		}
		if !isAffirmative(e.UserResponse) {
			continue
		}
		amt, parsed := ParseAmount(e.UserResponse)
		if !parsed {
			continue
		}
		kind := KindPledged
		if isCompletedGift(e.UserResponse) {
			kind = KindDonated
		}
		found = Outcome{Kind: kind, AmountMinor: amt.Minor, Currency: amt.Currency}
		ok = true
	}
	return found, ok
}

func declined(ordered []events.Event) bool {
	last := -1
	for i, e := range ordered {
		if e.UserResponse != "" && isDecline(e.UserResponse) {
			last = i
		}
	}
	if last < 0 {
		return false
	}
	for _, e := range ordered[last+1:] {
		if e.UserResponse != "" && isAffirmative(e.UserResponse) {
			return false
		}
	}
	return true
}

func rescheduled(ordered []events.Event) bool {
	for _, e := range ordered {
		if e.UserResponse != "" && isReschedule(e.UserResponse) {
			return true
		}
	}
	return false
}
