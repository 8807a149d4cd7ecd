package bot

import "strings"

// SMS length ceilings: one segment of GSM-7 text, or one UCS-2 segment
// when the text needs characters outside the 7-bit set.
const (
	smsLimitGSM  = 160
	smsLimitUCS2 = 70
)

const gsmBasic = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
	"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"

const gsmExtension = "^{}\\[~]|€"

// ValidPhone reports whether the text looks like a phone number: an
// optional leading +, then 7 to 19 digits with spaces, dashes, and
// slashes allowed in between.
func ValidPhone(text string) bool {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return false
	}
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ' || r == '-' || r == '/':
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 19
}

// NormalizePhone strips separators, keeping the leading + if present.
func NormalizePhone(text string) string {
	s := strings.TrimSpace(text)
	var b strings.Builder
	for i, r := range s {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SMSCheck is the outcome of validating a message body for the SMS channel.
type SMSCheck struct {
	OK      bool
	Limit   int
	TooLong bool
	Illegal bool
}

// CheckSMSText validates the body against the channel constraints:
// GSM-7-only text may use one full segment, anything else falls back to
// the shorter UCS-2 segment and is flagged.
func CheckSMSText(text string) SMSCheck {
	illegal := !gsmSafe(text)
	limit := smsLimitGSM
	if illegal {
		limit = smsLimitUCS2
	}
	length := len([]rune(text))
	c := SMSCheck{Limit: limit, TooLong: length > limit, Illegal: illegal}
	c.OK = !c.TooLong
	return c
}

func gsmSafe(text string) bool {
	for _, r := range text {
		if !strings.ContainsRune(gsmBasic, r) && !strings.ContainsRune(gsmExtension, r) {
			return false
		}
	}
	return true
}
