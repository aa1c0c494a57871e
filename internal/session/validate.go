package session

import (
	"fmt"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name is usable as a session name. Names become
// directory components under ~/.imsgd/sessions, so the character set stays
// restrictive.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}
