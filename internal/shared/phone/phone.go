// Package phone canonicalizes Kenyan mobile numbers.
//
// The canonical wire format is the one the gateway expects and reports:
// country code without a plus sign, e.g. 254722000111. Stored numbers
// predate that convention, so lookups go through Variants.
package phone

import (
	"errors"
	"strings"
)

const countryCode = "254"

var ErrInvalid = errors.New("invalid phone number")

// Normalize returns the canonical 254XXXXXXXXX form of raw.
func Normalize(raw string) (string, error) {
	digits := digitsOnly(raw)

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, countryCode):
		digits = digits[3:]
	case len(digits) == 10 && digits[0] == '0':
		digits = digits[1:]
	case len(digits) == 9:
	default:
		return "", ErrInvalid
	}

	// subscriber numbers start with 7 (Safaricom/Airtel) or 1 (newer ranges)
	if digits[0] != '7' && digits[0] != '1' {
		return "", ErrInvalid
	}
	return countryCode + digits, nil
}

// Variants returns every historical spelling of raw, canonical first.
// Unparseable input yields just the trimmed input so callers can still
// attempt an exact match.
func Variants(raw string) []string {
	canon, err := Normalize(raw)
	if err != nil {
		s := strings.TrimSpace(raw)
		if s == "" {
			return nil
		}
		return []string{s}
	}
	local := canon[3:]
	return []string{
		canon,
		"+" + canon,
		"0" + local,
		local,
	}
}

// Equal reports whether a and b denote the same subscriber.
func Equal(a, b string) bool {
	ca, err := Normalize(a)
	if err != nil {
		return false
	}
	cb, err := Normalize(b)
	if err != nil {
		return false
	}
	return ca == cb
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
