package lifecycle

import (
	"crypto/subtle"
	"strings"
)

// NormalizeCode trims and upper-cases a handoff code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CodesMatch compares a submitted code with the stored one in constant time.
// An empty stored code never matches.
func CodesMatch(stored, submitted string) bool {
	want := NormalizeCode(stored)
	if want == "" {
		return false
	}
	got := NormalizeCode(submitted)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
