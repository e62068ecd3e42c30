// internal/api/mask.go
package api

import "strings"

// maskPhone hides everything but the last four digits so the audit log can
// identify a recipient without exposing the full number.
func maskPhone(phone string) string {
	if phone == "" {
		return ""
	}
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) <= 4 {
		return "***"
	}
	return "***" + d[len(d)-4:]
}

// maskEmail keeps the first two characters of the local part and the full
// domain.
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return local + "***" + domain
	}
	return local[:2] + "***" + domain
}

// maskRecipient picks the masking rule by address shape.
func maskRecipient(recipient string) string {
	if strings.Contains(recipient, "@") {
		return maskEmail(recipient)
	}
	return maskPhone(recipient)
}
