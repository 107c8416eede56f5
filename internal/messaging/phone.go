package messaging

import (
	"regexp"
	"strings"
)

var (
	phoneDigitsRe    = regexp.MustCompile(`\d+`)
	canonicalPhoneRe = regexp.MustCompile(`^55\d{10,11}$`)
)

// NormalizeBR canonicalizes a Brazilian phone number to "55" + area code + number.
//
// This is a heuristic for Brazilian numbers only and is not a general E.164
// validator: 10/11-digit numbers are treated as area code + number and
// anything else is prefixed with 55 unless it already carries it. The result
// must match ^55\d{10,11}$, so numbers without an area code are rejected.
func NormalizeBR(raw string) (string, bool) {
	digits := sanitizePhone(raw)
	if digits == "" {
		return "", false
	}
	switch len(digits) {
	case 10, 11:
		digits = "55" + digits
	default:
		if !strings.HasPrefix(digits, "55") {
			digits = "55" + digits
		}
	}
	if !canonicalPhoneRe.MatchString(digits) {
		return "", false
	}
	return digits, true
}

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := sanitizePhone(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// MaskPhone keeps the last four digits for logging.
func MaskPhone(value string) string {
	digits := sanitizePhone(value)
	if len(digits) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

func sanitizePhone(value string) string {
	if value == "" {
		return ""
	}
	digits := phoneDigitsRe.FindAllString(value, -1)
	return strings.Join(digits, "")
}
