package patterns

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Currency extraction accepts symbol-prefixed numbers ($, €, £, ¥) with
// optional thousand separators and decimals, labeled forms (amount=, price:,
// total=, case-insensitive), suffix forms (<n> USD|EUR|GBP), and plain
// decimals. Negative values never match.
var (
	symbolAmountRe  = regexp.MustCompile(`[$€£¥]\s?(\d{1,3}(?:,\d{3})*(?:\.\d+)?|\d+(?:\.\d+)?)`)
	labeledAmountRe = regexp.MustCompile(`(?i)\b(?:amount|price|total|grand[_-]?total)\s*[:=]\s*"?\$?(\d{1,3}(?:,\d{3})*(?:\.\d+)?|\d+(?:\.\d+)?)`)
	suffixAmountRe  = regexp.MustCompile(`(?i)\b(\d{1,3}(?:,\d{3})*(?:\.\d+)?|\d+(?:\.\d+)?)\s?(?:USD|EUR|GBP)\b`)
	plainDecimalRe  = regexp.MustCompile(`(^|\s)(\d+\.\d{1,2})(\s|$)`)
)

// ExtractAmount pulls a monetary amount out of an arbitrary value.
// Numeric values are used directly (negatives rejected); strings are
// scanned with the currency grammar above. Returns (0, false) when no
// non-negative amount is present.
func ExtractAmount(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return nonNegative(x)
	case float32:
		return nonNegative(float64(x))
	case int:
		return nonNegative(float64(x))
	case int64:
		return nonNegative(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return nonNegative(f)
	case string:
		return extractAmountFromText(x)
	}
	return 0, false
}

func nonNegative(f float64) (float64, bool) {
	if f < 0 {
		return 0, false
	}
	return f, true
}

func extractAmountFromText(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	// Bare numeric string, e.g. "42" or "-3".
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return nonNegative(f)
	}

	for _, re := range []*regexp.Regexp{labeledAmountRe, symbolAmountRe, suffixAmountRe} {
		if m := re.FindStringSubmatch(s); m != nil {
			if f, ok := parseSeparated(m[1]); ok {
				return f, true
			}
		}
	}
	if m := plainDecimalRe.FindStringSubmatch(s); m != nil {
		if f, ok := parseSeparated(m[2]); ok {
			return f, true
		}
	}
	return 0, false
}

func parseSeparated(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return nonNegative(f)
}
