// Package identity resolves source-store participant handles into stable
// user records. Resolution never fails: a handle no directory knows gets a
// deterministic synthetic identity so repeated runs converge on one user.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// Namespace for deterministic synthetic user ids. Fixed so the same unknown
// handle always resolves to the same uuid across processes and reinstalls.
var syntheticNamespace = uuid.MustParse("9a7b3f10-55c1-4c07-8f6e-2d4f0b6a9e31")

const selfRef = "self"

// Canonical normalizes a handle value for store lookups: emails lowercase,
// phones reduced to bare digits with any country code retained.
func Canonical(value string) string {
	value = strings.TrimSpace(value)
	if strings.Contains(value, "@") {
		return strings.ToLower(value)
	}
	var sb strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// IsEmail reports whether a handle value is an email address rather than a
// phone number.
func IsEmail(value string) bool {
	return strings.Contains(value, "@")
}

// SyntheticID derives the deterministic user id for an unresolvable handle.
func SyntheticID(canonical string) string {
	return uuid.NewSHA1(syntheticNamespace, []byte(canonical)).String()
}

// phoneCandidates lists the canonical forms a stored phone may carry for the
// same number: as given, plus the national form with or without a leading US
// country code. Handles the source emitting "+1555..." for a directory
// entry stored as "555...", and vice versa.
func phoneCandidates(canonical string) []string {
	out := []string{canonical}
	switch {
	case len(canonical) == 11 && strings.HasPrefix(canonical, "1"):
		out = append(out, canonical[1:])
	case len(canonical) == 10:
		out = append(out, "1"+canonical)
	}
	return out
}
