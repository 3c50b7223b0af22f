// Package phone normalizes Brazilian WhatsApp numbers into the digits-only
// form used as a contact key.
package phone

import "strings"

const defaultDDI = "55"

// Normalize strips a JID suffix ("@s.whatsapp.net") and every non-digit,
// prefixes the Brazilian DDI when it is missing and inserts the mobile
// ninth digit into 12-digit numbers.
func Normalize(raw string) string {
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}

	var b strings.Builder
	b.Grow(len(raw) + 3)
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	// 10 or 11 digits is DDD + subscriber without country code.
	if len(digits) == 10 || len(digits) == 11 {
		digits = defaultDDI + digits
	}

	// 55 + DDD + 8-digit mobile: add the ninth digit.
	if len(digits) == 12 && strings.HasPrefix(digits, defaultDDI) {
		digits = digits[:4] + "9" + digits[4:]
	}

	return digits
}
