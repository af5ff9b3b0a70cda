package membership

import "strings"

// NormalizeEmail trims surrounding whitespace and lowercases the address.
// Every lookup and write keyed by email goes through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail is a shallow sanity check on an already normalized address.
func ValidEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n") && strings.Contains(email[at+1:], ".")
}
