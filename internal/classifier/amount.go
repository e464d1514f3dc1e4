package classifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when a money string cannot be normalized.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount normalizes a money string to a decimal.
//
// Both "R$ 1.234,56" and "1234.56" yield 1234.56. When a string carries both
// separators, the rightmost one is the decimal mark. A lone comma is the
// decimal mark. A lone dot is a thousands mark when repeated or followed by
// exactly three digits, so "1.234" is 1234 while "1234.5" stays 1234.5.
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := strings.NewReplacer("R$", "", " ", "", "\u00a0", "").Replace(strings.TrimSpace(s))
	clean = strings.TrimRight(clean, ".,")
	if clean == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	lastDot := strings.LastIndex(clean, ".")
	lastComma := strings.LastIndex(clean, ",")

	var normalized string
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			normalized = strings.ReplaceAll(clean, ".", "")
			normalized = strings.Replace(normalized, ",", ".", 1)
		} else {
			normalized = strings.ReplaceAll(clean, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(clean, ",") > 1 {
			normalized = strings.ReplaceAll(clean, ",", "")
		} else {
			normalized = strings.Replace(clean, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(clean, ".") > 1 || len(clean)-lastDot-1 == 3 {
			normalized = strings.ReplaceAll(clean, ".", "")
		} else {
			normalized = clean
		}
	default:
		normalized = clean
	}

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

func parseNullAmount(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := ParseAmount(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
