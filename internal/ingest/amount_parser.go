package ingest

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	currencyMarks = strings.NewReplacer(
		"$", "", "£", "", "€", "", "₹", "",
		"usd", "", "gbp", "", "eur", "", "inr", "",
		",", "", " ", "", "\u00a0", "",
	)
	amountPattern = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)(k|m|mm|mn|b|bn)?$`)

	amountScale = map[string]decimal.Decimal{
		"":   decimal.NewFromInt(1),
		"k":  decimal.NewFromInt(1_000),
		"m":  decimal.NewFromInt(1_000_000),
		"mm": decimal.NewFromInt(1_000_000),
		"mn": decimal.NewFromInt(1_000_000),
		"b":  decimal.NewFromInt(1_000_000_000),
		"bn": decimal.NewFromInt(1_000_000_000),
	}
)

// parseAmount reads a check size such as "2,500,000", "$250K", "1.5M" or
// "1.5E+06". Anything that is not a single amount is rejected.
func parseAmount(text string) (decimal.Decimal, bool) {
	s := currencyMarks.Replace(strings.ToLower(strings.TrimSpace(text)))
	if s == "" {
		return decimal.Decimal{}, false
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d, true
	}
	m := amountPattern.FindStringSubmatch(s)
	if m == nil {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d.Mul(amountScale[m[2]]), true
}
