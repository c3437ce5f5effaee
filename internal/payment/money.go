package payment

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned for amounts that cannot be represented exactly
// in minor units.
var ErrInvalidAmount = errors.New("invalid amount")

// ToMinor converts a major-unit decimal string such as "19.99" into minor
// units (1999). More than two fractional digits, non-positive values and
// anything that is not a plain decimal are rejected rather than rounded.
func ToMinor(amount string) (int64, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if s[0] == '-' {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, amount)
	}
	s = strings.TrimPrefix(s, "+")

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasDot && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("%w: %q has more than 2 decimal places", ErrInvalidAmount, amount)
	}
	if !allDigits(whole) || !allDigits(frac) {
		return 0, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, amount)
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > math.MaxInt64/100 {
		return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidAmount, amount)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, _ := strconv.ParseInt(frac, 10, 64)
	if units*100 > math.MaxInt64-cents {
		return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidAmount, amount)
	}

	minor := units*100 + cents
	if minor <= 0 {
		return 0, fmt.Errorf("%w: %q must be greater than zero", ErrInvalidAmount, amount)
	}
	return minor, nil
}

// FormatMajor renders minor units back as a two-decimal string.
func FormatMajor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
