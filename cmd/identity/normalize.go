package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
// It is the uniqueness key of every account.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
