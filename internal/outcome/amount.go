package outcome

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

// Amount is a parsed money value in minor units.
type Amount struct {
	Minor    int64
	Currency string
}

var amountRe = regexp.MustCompile(`(?i)(?:([$€£¥])\s?|\b([a-z]{3})\s)?(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d+))?(?:\s*(dollars?|bucks|euros?|pounds?|yen|[a-z]{3})\b)?`)

var symbolCurrency = map[string]currency.Unit{
	"$": currency.USD,
	"€": currency.EUR,
	"£": currency.GBP,
	"¥": currency.JPY,
}

var wordCurrency = map[string]currency.Unit{
	"dollar":  currency.USD,
	"dollars": currency.USD,
	"bucks":   currency.USD,
	"euro":    currency.EUR,
	"euros":   currency.EUR,
	"pound":   currency.GBP,
	"pounds":  currency.GBP,
	"yen":     currency.JPY,
}

// ParseAmount extracts the first amount in s that carries a currency marker
// (symbol, ISO code, or currency word). Bare numbers are ignored so phone
// numbers and times are never read as gifts.
func ParseAmount(s string) (Amount, bool) {
	for _, m := range amountRe.FindAllStringSubmatch(s, -1) {
		unit, ok := currencyFor(m[1], m[2], m[5])
		if !ok {
			continue
		}
		minor, ok := toMinor(m[3], m[4], unit)
		if !ok || minor <= 0 {
			continue
		}
		return Amount{Minor: minor, Currency: unit.String()}, true
	}
	return Amount{}, false
}

func currencyFor(symbol, prefixCode, suffix string) (currency.Unit, bool) {
	if symbol != "" {
		u, ok := symbolCurrency[symbol]
		return u, ok
	}
	if isUpperCode(prefixCode) {
		if u, err := currency.ParseISO(prefixCode); err == nil {
			return u, true
		}
	}
	if suffix == "" {
		return currency.Unit{}, false
	}
	if u, ok := wordCurrency[strings.ToLower(suffix)]; ok {
		return u, true
	}
	if isUpperCode(suffix) {
		if u, err := currency.ParseISO(suffix); err == nil {
			return u, true
		}
	}
	return currency.Unit{}, false
}

// ISO codes only count when written in capitals; "all 100" is not Albanian lek.
func isUpperCode(s string) bool {
	return len(s) == 3 && s == strings.ToUpper(s)
}

// toMinor scales whole.frac to the currency's standard minor-unit precision;
// surplus fraction digits are truncated.
func toMinor(whole, frac string, unit currency.Unit) (int64, bool) {
	w, err := strconv.ParseInt(strings.ReplaceAll(whole, ",", ""), 10, 64)
	if err != nil {
		return 0, false
	}
	scale, _ := currency.Standard.Rounding(unit)

	minor := w
	for i := 0; i < scale; i++ {
		minor *= 10
	}
	if scale > 0 && frac != "" {
		if len(frac) > scale {
			frac = frac[:scale]
		}
		for len(frac) < scale {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, false
		}
		minor += f
	}
	return minor, true
}

// FormatMinor renders minor units in the currency's standard precision,
// e.g. 10050 USD as "100.50 USD". Unknown codes are shown as minor units.
func FormatMinor(minor int64, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%d %s", minor, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	if scale == 0 {
		return fmt.Sprintf("%d %s", minor, unit)
	}
	div := int64(1)
	for i := 0; i < scale; i++ {
		div *= 10
	}
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%0*d %s", sign, minor/div, scale, minor%div, unit)
}
