package campaigns

import (
	"testing"
	"time"

	"donor-dialer/internal/apperr"

	"github.com/stretchr/testify/require"
)

func validCampaign() Campaign {
	return Campaign{
		ID:              "camp_1",
		BusinessID:      "biz_1",
		Status:          CampaignStatusActive,
		CallWindowStart: MustTimeOfDay("09:00"),
		CallWindowEnd:   MustTimeOfDay("17:00"),
		DailyCallCap:    10,
		MaxAttempts:     3,
	}
}

func TestParseTimeOfDay(t *testing.T) {
	got, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	require.Equal(t, 9*3600+30*60, got.Seconds)
	require.Equal(t, "09:30:00", got.String())

	got, err = ParseTimeOfDay("24:00")
	require.NoError(t, err)
	require.Equal(t, 86400, got.Seconds)

	for _, bad := range []string{"", "9", "25:00", "10:60", "24:01", "aa:bb", "-1:00"} {
		_, err := ParseTimeOfDay(bad)
		require.Error(t, err, bad)
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validCampaign().Validate())

	c := validCampaign()
	c.CallWindowEnd = c.CallWindowStart
	require.ErrorIs(t, c.Validate(), apperr.ErrValidation)

	c = validCampaign()
	c.DailyCallCap = -1
	require.ErrorIs(t, c.Validate(), apperr.ErrValidation)

	c = validCampaign()
	c.MaxAttempts = 0
	require.ErrorIs(t, c.Validate(), apperr.ErrValidation)

	c = validCampaign()
	c.Timezone = "Nowhere/Atlantis"
	require.ErrorIs(t, c.Validate(), apperr.ErrValidation)
}

func TestInWindowIsHalfOpen(t *testing.T) {
	c := validCampaign()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	require.False(t, c.InWindow(day.Add(8*time.Hour+59*time.Minute), time.UTC))
	require.True(t, c.InWindow(day.Add(9*time.Hour), time.UTC))
	require.True(t, c.InWindow(day.Add(16*time.Hour+59*time.Minute), time.UTC))
	require.False(t, c.InWindow(day.Add(17*time.Hour), time.UTC))
}

func TestInWindowUsesBusinessTimezone(t *testing.T) {
	c := validCampaign()
	c.Timezone = "America/New_York"
	loc, err := c.Location(time.UTC)
	require.NoError(t, err)

	// 14:00 UTC is 09:00 in New York during EST.
	now := time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)
	require.True(t, c.InWindow(now, loc))

	early := time.Date(2024, 1, 10, 13, 0, 0, 0, time.UTC)
	require.True(t, c.InWindow(early, time.UTC))
	require.False(t, c.InWindow(early, loc))
}

func TestLocationFallback(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	loc, err := validCampaign().Location(ny)
	require.NoError(t, err)
	require.Equal(t, ny, loc)
}

func TestLocalDayCrossesMidnight(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	now := time.Date(2024, 1, 10, 20, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), LocalDay(now, tokyo))
	require.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), LocalDay(now, time.UTC))
}

func TestNormalizePhone(t *testing.T) {
	require.Equal(t, "+15551234567", NormalizePhone(" +1 (555) 123-4567 "))
	require.Equal(t, "15551234567", NormalizePhone("1.555.123.4567"))
	require.Equal(t, "5551234567", NormalizePhone("555+123+4567"))
}
