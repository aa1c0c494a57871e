package contacts

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.toml")
	data := `
[[contacts]]
first_name = "Alice"
last_name = "Chen"
phones = ["+1 (555) 123-4567"]
emails = ["Alice@Example.com"]

[[contacts]]
first_name = "Bob"
last_name = "Ng"
phones = ["555.987.6543"]
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	dir, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	// Any format of the same number should hit.
	for _, q := range []string{"15551234567", "+15551234567", "(555) 123-4567", "5551234567"} {
		n, ok := dir.Lookup(q)
		if !ok {
			t.Errorf("Lookup(%q) missed", q)
			continue
		}
		if n.First != "Alice" || n.Last != "Chen" {
			t.Errorf("Lookup(%q) = %+v, want Alice Chen", q, n)
		}
	}

	// Email lookup is case-insensitive.
	if n, ok := dir.Lookup("alice@example.com"); !ok || n.First != "Alice" {
		t.Errorf("email lookup = %+v ok=%v", n, ok)
	}

	if n, ok := dir.Lookup("555-987-6543"); !ok || n.First != "Bob" {
		t.Errorf("dotted-source phone lookup = %+v ok=%v", n, ok)
	}

	if _, ok := dir.Lookup("+15550000000"); ok {
		t.Error("unknown number should miss")
	}
	if _, ok := dir.Lookup(""); ok {
		t.Error("empty value should miss")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile("/nonexistent/contacts.toml"); err == nil {
		t.Error("LoadFile() expected error for missing file")
	}
}

func TestPhoneVariants(t *testing.T) {
	variants := PhoneVariants("+1 (949) 527-2398")
	want := map[string]bool{
		"9495272398":     true,
		"19495272398":    true,
		"+19495272398":   true,
		"(949) 527-2398": true,
		"949-527-2398":   true,
		"949.527.2398":   true,
	}
	if len(variants) != len(want) {
		t.Fatalf("got %d variants %v, want %d", len(variants), variants, len(want))
	}
	for _, v := range variants {
		if !want[v] {
			t.Errorf("unexpected variant %q", v)
		}
	}
}

func TestPhoneVariantsNonUS(t *testing.T) {
	// Numbers that don't reduce to 10 digits pass through as digits.
	variants := PhoneVariants("+44 20 7946 0958")
	if len(variants) != 1 || variants[0] != "442079460958" {
		t.Errorf("got %v, want [442079460958]", variants)
	}
	if got := PhoneVariants("no digits"); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestEmptyDirectory(t *testing.T) {
	var d Directory = Empty{}
	if _, ok := d.Lookup("15551234567"); ok {
		t.Error("Empty directory should never match")
	}
}
