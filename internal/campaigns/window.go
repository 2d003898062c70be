package campaigns

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"donor-dialer/internal/apperr"
)

// TimeOfDay is an offset from local midnight, second precision.
type TimeOfDay struct {
	Seconds int
}

// ParseTimeOfDay accepts HH:MM or HH:MM:SS (24h). "24:00" is allowed as an
// end-of-day bound.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: want HH:MM[:SS]", s)
	}
	vals := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return TimeOfDay{}, fmt.Errorf("time of day %q: bad component %q", s, p)
		}
		vals[i] = n
	}
	h, m, sec := vals[0], vals[1], vals[2]
	if m > 59 || sec > 59 || h > 24 || (h == 24 && (m > 0 || sec > 0)) {
		return TimeOfDay{}, fmt.Errorf("time of day %q: out of range", s)
	}
	return TimeOfDay{Seconds: h*3600 + m*60 + sec}, nil
}

func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Seconds/3600, (t.Seconds%3600)/60, t.Seconds%60)
}

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Validate rejects configurations the scheduler cannot honor.
func (c Campaign) Validate() error {
	if c.CallWindowEnd.Seconds <= c.CallWindowStart.Seconds {
		return apperr.Validation(fmt.Sprintf("campaign %s: call window end %s must be after start %s", c.ID, c.CallWindowEnd, c.CallWindowStart))
	}
	if c.DailyCallCap < 0 {
		return apperr.Validation(fmt.Sprintf("campaign %s: daily_call_cap must be >= 0, got %d", c.ID, c.DailyCallCap))
	}
	if c.MaxAttempts < 1 {
		return apperr.Validation(fmt.Sprintf("campaign %s: max_attempts must be >= 1, got %d", c.ID, c.MaxAttempts))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return apperr.Wrap(apperr.CodeValidation, fmt.Sprintf("campaign %s: timezone %q", c.ID, c.Timezone), err)
		}
	}
	return nil
}

// Location resolves the campaign's zone, falling back when none is set.
func (c Campaign) Location(fallback *time.Location) (*time.Location, error) {
	if c.Timezone == "" {
		if fallback == nil {
			return time.UTC, nil
		}
		return fallback, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, fmt.Sprintf("campaign %s: timezone %q", c.ID, c.Timezone), err)
	}
	return loc, nil
}

// InWindow reports whether now falls in [start, end) local time.
func (c Campaign) InWindow(now time.Time, loc *time.Location) bool {
	local := now.In(loc)
	sec := local.Hour()*3600 + local.Minute()*60 + local.Second()
	return sec >= c.CallWindowStart.Seconds && sec < c.CallWindowEnd.Seconds
}

// LocalDay is the campaign's calendar day containing now, as a UTC-midnight
// date so it can key the daily counter regardless of zone.
func LocalDay(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizePhone keeps digits and a leading '+', so formatting differences
// do not defeat phone dedupe.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
