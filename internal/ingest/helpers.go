package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"
)

// normalizeSpace collapses runs of whitespace into one space and trims the string.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// headerKey folds a column header so that "First Name", "first_name" and
// "FIRST-NAME" compare equal.
func headerKey(s string) string {
	s = norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// cellString renders any decoded cell value as trimmed text.
func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return ""
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := cellString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	}
	return false
}

// splitList turns a comma separated cell, or an already decoded array, into a
// trimmed list without empty items. It never returns nil.
func splitList(v any) []string {
	out := []string{}
	switch val := v.(type) {
	case nil:
		return out
	case []any:
		for _, item := range val {
			out = append(out, splitList(item)...)
		}
		return out
	}
	for _, part := range strings.Split(cellString(v), ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseDecimal reads a numeric cell, dropping thousands separators. Anything
// that is not a finite number yields nil.
func parseDecimal(v any) *decimal.Decimal {
	var d decimal.Decimal
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		d = decimal.NewFromFloat(val)
	case int:
		d = decimal.NewFromInt(int64(val))
	case int64:
		d = decimal.NewFromInt(val)
	default:
		var ok bool
		if d, ok = parseAmount(cellString(v)); !ok {
			return nil
		}
	}
	return &d
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-06",
	"1/2/06 15:04",
	"1/2/06",
}

// Serials at or below 61 fall in Excel's fictional 1900 leap day range;
// 2958465 is 9999-12-31.
const (
	minExcelSerial = 61
	maxExcelSerial = 2958465
)

// parseTime accepts an Excel date serial (how raw XLSX cells carry dates)
// or one of timeLayouts.
func parseTime(v any) (time.Time, bool) {
	s := cellString(v)
	if s == "" {
		return time.Time{}, false
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial <= minExcelSerial || serial > maxExcelSerial {
			return time.Time{}, false
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
