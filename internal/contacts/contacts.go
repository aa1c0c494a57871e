// Package contacts provides the directory lookup used during handle
// resolution. The directory file itself is produced externally (address-book
// extraction is not this daemon's job); this package only loads and indexes it.
package contacts

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Name is a directory display name.
type Name struct {
	First string
	Last  string
}

// Directory maps a contact value (phone number or email) to a display name.
type Directory interface {
	Lookup(value string) (Name, bool)
}

// Empty is a Directory with no entries.
type Empty struct{}

func (Empty) Lookup(string) (Name, bool) { return Name{}, false }

type directoryFile struct {
	Contacts []contactEntry `toml:"contacts"`
}

type contactEntry struct {
	FirstName string   `toml:"first_name"`
	LastName  string   `toml:"last_name"`
	Phones    []string `toml:"phones"`
	Emails    []string `toml:"emails"`
}

// Static is an in-memory Directory indexed by every phone format variant
// and lowercased email.
type Static struct {
	byValue map[string]Name
}

// LoadFile reads a TOML contacts file into a Static directory.
func LoadFile(path string) (*Static, error) {
	var file directoryFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("load contacts %s: %w", path, err)
	}

	s := &Static{byValue: make(map[string]Name)}
	for _, e := range file.Contacts {
		name := Name{First: e.FirstName, Last: e.LastName}
		for _, p := range e.Phones {
			for _, variant := range PhoneVariants(p) {
				s.byValue[variant] = name
			}
		}
		for _, m := range e.Emails {
			s.byValue[strings.ToLower(strings.TrimSpace(m))] = name
		}
	}
	return s, nil
}

// NewStatic builds a Static directory from explicit value→name pairs.
// Phone keys are expanded to all format variants.
func NewStatic(entries map[string]Name) *Static {
	s := &Static{byValue: make(map[string]Name)}
	for value, name := range entries {
		if strings.Contains(value, "@") {
			s.byValue[strings.ToLower(strings.TrimSpace(value))] = name
			continue
		}
		for _, variant := range PhoneVariants(value) {
			s.byValue[variant] = name
		}
	}
	return s
}

// Lookup resolves a phone or email to a directory name.
func (s *Static) Lookup(value string) (Name, bool) {
	if value == "" {
		return Name{}, false
	}
	if strings.Contains(value, "@") {
		n, ok := s.byValue[strings.ToLower(strings.TrimSpace(value))]
		return n, ok
	}
	for _, variant := range PhoneVariants(value) {
		if n, ok := s.byValue[variant]; ok {
			return n, true
		}
	}
	return Name{}, false
}

// PhoneVariants generates the formats a phone number appears in across
// directory sources, so that lookups survive formatting differences:
// bare digits, dashed, dotted, parenthesized, and ±country-code forms.
func PhoneVariants(phone string) []string {
	digits := digitsOnly(phone)
	if digits == "" {
		return nil
	}

	// Reduce an 11-digit number with a leading country code to the
	// 10-digit national form and generate from there.
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return []string{digits}
	}

	a, b, c := digits[:3], digits[3:6], digits[6:]
	return []string{
		digits,
		"1" + digits,
		"+1" + digits,
		fmt.Sprintf("(%s) %s-%s", a, b, c),
		fmt.Sprintf("%s-%s-%s", a, b, c),
		fmt.Sprintf("%s.%s.%s", a, b, c),
	}
}

func digitsOnly(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
