package outcome

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in       string
		minor    int64
		currency string
		ok       bool
	}{
		{"Yes, I will pledge $100", 10000, "USD", true},
		{"put me down for $1,250.5", 125050, "USD", true},
		{"I can do 40 euros", 4000, "EUR", true},
		{"maybe EUR 15 this month", 1500, "EUR", true},
		{"¥3000 is fine", 3000, "JPY", true},
		{"twenty bucks? ok 20 bucks", 2000, "USD", true},
		{"call me at 555 1234", 0, "", false},
		{"all 100 of them", 0, "", false},
		{"$0", 0, "", false},
	}
	for _, tc := range cases {
		got, ok := ParseAmount(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			require.Equal(t, Amount{Minor: tc.minor, Currency: tc.currency}, got, tc.in)
		}
	}
}

func TestFormatMinor(t *testing.T) {
	require.Equal(t, "100.50 USD", FormatMinor(10050, "USD"))
	require.Equal(t, "0.05 EUR", FormatMinor(5, "EUR"))
	require.Equal(t, "-1.00 GBP", FormatMinor(-100, "GBP"))
	require.Equal(t, "3000 JPY", FormatMinor(3000, "JPY"))
	require.Equal(t, "42 QQQ", FormatMinor(42, "QQQ"))
}
