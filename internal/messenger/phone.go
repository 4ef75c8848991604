package messenger

import "strings"

// NormalizePhone turns a loosely typed Russian phone number into +7XXXXXXXXXX.
// It returns "" when fewer than 10 digits are present.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) < 10:
		return ""
	case len(digits) == 10:
		return "+7" + digits
	case len(digits) == 11 && digits[0] == '8':
		return "+7" + digits[1:]
	default:
		return "+" + digits
	}
}
