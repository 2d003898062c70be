package conversations

import (
	"time"

	"donor-dialer/internal/events"
)

// Replay derives status from a log ordered by sequence_number: no events is
// initiated, any event is in_progress, and the first terminal event decides
// completed or failed. Later events never change a terminal result. endedAt is
// the first terminal event's created_at.
func Replay(evs []events.Event) (Status, *time.Time) {
	if len(evs) == 0 {
		return StatusInitiated, nil
	}
	for _, e := range evs {
		switch events.Classify(e.Type) {
		case events.TerminalCompleted:
			at := e.CreatedAt
			return StatusCompleted, &at
		case events.TerminalFailed:
			at := e.CreatedAt
			return StatusFailed, &at
		}
	}
	return StatusInProgress, nil
}

// advance merges a replayed status into the stored one. A stored terminal
// status is final even if a late, lower-sequence event would replay
// differently.
func advance(stored, replayed Status) Status {
	if stored.IsTerminal() {
		return stored
	}
	if replayed.rank() > stored.rank() {
		return replayed
	}
	return stored
}
