package outcome

import (
	"regexp"
	"strings"
)

var (
	affirmativeRe = regexp.MustCompile(`\b(yes|yeah|yep|sure|absolutely|definitely|of course|ok|okay|count me in|happy to|glad to|i will|i'll|i can|i'd (like|love) to|go ahead|pledge|donate|give|contribute)\b`)

	declineRe = regexp.MustCompile(`(not interested|no,? thanks|no,? thank you|don'?t want|do not want|can'?t afford|cannot afford|can'?t (give|donate)|won'?t|will not|not going to|i'?ll pass|i will pass|stop calling|remove me|take me off|don'?t call|do not call)`)

	// hedgeRe blocks a commitment without being a decline.
	hedgeRe = regexp.MustCompile(`(not sure|unsure|\bmaybe\b|\bperhaps\b|\bmight\b|i don'?t know|i do not know|\bdunno\b|not able to|let me think|think about it|have to check|need to check|ask my (wife|husband|partner|spouse))`)

	bareNoRe = regexp.MustCompile(`^\s*(no|nope|nah|no way)[\s.!,]*$`)

	rescheduleRe = regexp.MustCompile(`(call (me )?back|call (me )?later|call again|another time|some other time|later today|tomorrow|next week|bad time|not a good time|busy right now|in a meeting|try (me )?again)`)

	completedGiftRe = regexp.MustCompile(`(\bdonated\b|\balready (gave|given|give)\b|\b(i'?ve|i have) (given|sent|donated)\b|\b(i'?m|i am) (giving|donating|sending)\b|\bcharge (it|my card)\b|\b(donate|give|pay|charge)\b[^.!?]{0,20}\b(right )?now\b)`)

	apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'", "`", "'")
)

// fold lowercases and maps typographic apostrophes to ASCII so transcripts
// from speech-to-text match the same patterns as typed text.
func fold(s string) string {
	return apostrophes.Replace(strings.ToLower(strings.TrimSpace(s)))
}

func isDecline(s string) bool {
	s = fold(s)
	return declineRe.MatchString(s) || bareNoRe.MatchString(s)
}

func isHedge(s string) bool {
	return hedgeRe.MatchString(fold(s))
}

// isAffirmative requires positive language with no decline or hedge, so
// "I will not pledge" and "not sure I can give" are not commitments.
func isAffirmative(s string) bool {
	return affirmativeRe.MatchString(fold(s)) && !isDecline(s) && !isHedge(s)
}

func isReschedule(s string) bool {
	return rescheduleRe.MatchString(fold(s))
}

// isCompletedGift detects past or present-tense giving, as opposed to a
// promise to give later.
func isCompletedGift(s string) bool {
	return completedGiftRe.MatchString(fold(s))
}
