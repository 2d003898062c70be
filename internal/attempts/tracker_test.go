package attempts_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"donor-dialer/internal/apperr"
	"donor-dialer/internal/attempts"
	"donor-dialer/internal/campaigns"
	"donor-dialer/internal/store/memory"

	"github.com/stretchr/testify/require"
)

var now = time.Unix(1700000000, 0).UTC()

func seeded() (*memory.Store, campaigns.Campaign) {
	s := memory.New()
	c := campaigns.Campaign{
		ID:              "camp-1",
		BusinessID:      "biz-1",
		Status:          campaigns.CampaignStatusActive,
		CallWindowStart: campaigns.MustTimeOfDay("09:00"),
		CallWindowEnd:   campaigns.MustTimeOfDay("17:00"),
		DailyCallCap:    10,
		MaxAttempts:     2,
		ExcludeDNC:      true,
	}
	s.PutCampaign(c)
	s.PutLead(campaigns.Lead{ID: "lead-1", BusinessID: "biz-1", Phone: "+15550000001"})
	s.PutLead(campaigns.Lead{ID: "lead-dnc", BusinessID: "biz-1", Phone: "+15550000002", DNC: true})
	s.PutLead(campaigns.Lead{ID: "lead-other", BusinessID: "biz-2", Phone: "+15550000003"})
	return s, c
}

func TestIsEligible(t *testing.T) {
	s, c := seeded()
	tr := attempts.NewTracker(s, s)
	ctx := context.Background()

	ok, err := tr.IsEligible(ctx, c, "lead-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tr.IsEligible(ctx, c, "lead-dnc")
	require.NoError(t, err)
	require.False(t, ok, "dnc lead must be excluded")

	ok, err = tr.IsEligible(ctx, c, "lead-other")
	require.NoError(t, err)
	require.False(t, ok, "lead from another business")

	_, err = tr.RecordAttempt(ctx, c.ID, "lead-1", 0, now)
	require.NoError(t, err)
	_, err = tr.RecordAttempt(ctx, c.ID, "lead-1", 1, now.Add(time.Hour))
	require.NoError(t, err)
	ok, err = tr.IsEligible(ctx, c, "lead-1")
	require.NoError(t, err)
	require.False(t, ok, "max attempts reached")

	_, err = tr.IsEligible(ctx, c, "missing")
	require.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestRecordAttempt_StaleSeenIsConflict(t *testing.T) {
	s, c := seeded()
	tr := attempts.NewTracker(s, s)
	ctx := context.Background()

	cl, err := tr.RecordAttempt(ctx, c.ID, "lead-1", 0, now)
	require.NoError(t, err)
	require.Equal(t, 1, cl.Attempts)
	require.NotNil(t, cl.LastAttemptAt)
	require.True(t, cl.LastAttemptAt.Equal(now))

	_, err = tr.RecordAttempt(ctx, c.ID, "lead-1", 0, now)
	require.True(t, apperr.IsCode(err, apperr.CodeConcurrencyConflict), "got %v", err)

	_, err = tr.RecordAttempt(ctx, c.ID, "gone", 0, now)
	require.True(t, apperr.IsCode(err, apperr.CodeNotFound), "got %v", err)

	_, err = tr.RecordAttempt(ctx, "", "lead-1", 0, now)
	require.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestRecordAttempt_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	s, c := seeded()
	tr := attempts.NewTracker(s, s)

	var wins, conflicts int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.RecordAttempt(context.Background(), c.ID, "lead-1", 0, now)
			switch {
			case err == nil:
				atomic.AddInt64(&wins, 1)
			case apperr.IsCode(err, apperr.CodeConcurrencyConflict):
				atomic.AddInt64(&conflicts, 1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, wins)
	require.EqualValues(t, 15, conflicts)
	cl, ok := s.CampaignLead(c.ID, "lead-1")
	require.True(t, ok)
	require.Equal(t, 1, cl.Attempts)
}

func TestReleaseAttempt_RestoresPreviousRecord(t *testing.T) {
	s, c := seeded()
	tr := attempts.NewTracker(s, s)
	ctx := context.Background()

	first, err := tr.RecordAttempt(ctx, c.ID, "lead-1", 0, now)
	require.NoError(t, err)
	second, err := tr.RecordAttempt(ctx, c.ID, "lead-1", 1, now.Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, tr.ReleaseAttempt(ctx, second, first))
	cl, _ := s.CampaignLead(c.ID, "lead-1")
	require.Equal(t, 1, cl.Attempts)
	require.True(t, cl.LastAttemptAt.Equal(now))

	// Releasing again no longer matches the stored value.
	err = tr.ReleaseAttempt(ctx, second, first)
	require.True(t, apperr.IsCode(err, apperr.CodeConcurrencyConflict))

	err = tr.ReleaseAttempt(ctx, first, first)
	require.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestReserveDailySlot_NeverExceedsCap(t *testing.T) {
	s, c := seeded()
	tr := attempts.NewTracker(s, s)
	day := time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)

	var granted int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := tr.ReserveDailySlot(context.Background(), c.ID, day, 3)
			if err == nil && ok {
				atomic.AddInt64(&granted, 1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 3, granted)

	n, err := tr.DailyDispatchCount(context.Background(), c.ID, day)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.NoError(t, tr.ReleaseDailySlot(context.Background(), c.ID, day))
	n, _ = tr.DailyDispatchCount(context.Background(), c.ID, day)
	require.Equal(t, 2, n)

	// A new day starts from zero.
	n, _ = tr.DailyDispatchCount(context.Background(), c.ID, day.AddDate(0, 0, 1))
	require.Equal(t, 0, n)

	ok, err := tr.ReserveDailySlot(context.Background(), c.ID, day, 0)
	require.NoError(t, err)
	require.False(t, ok, "zero cap never reserves")
}
