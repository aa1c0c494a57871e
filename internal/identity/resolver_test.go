package identity

import (
	"path/filepath"
	"testing"

	"github.com/kevinfeng77/imsgd/internal/contacts"
	"github.com/kevinfeng77/imsgd/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestResolveDirectoryHit(t *testing.T) {
	dir := contacts.NewStatic(map[string]contacts.Name{
		"+15551234567": {First: "Ada", Last: "Lovelace"},
	})
	r := NewResolver(testDB(t), dir)

	res, err := r.Resolve(1, "+15551234567")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Created {
		t.Error("first resolve should create the user")
	}
	if res.User.FirstName != "Ada" || res.User.LastName != "Lovelace" {
		t.Errorf("name = %s %s, want Ada Lovelace", res.User.FirstName, res.User.LastName)
	}
	if res.User.Synthetic {
		t.Error("directory-backed user must not be synthetic")
	}
	if res.User.Phone != "15551234567" {
		t.Errorf("phone = %q, want canonical 15551234567", res.User.Phone)
	}
}

func TestResolvePhoneFormatVariantsShareOneUser(t *testing.T) {
	dir := contacts.NewStatic(map[string]contacts.Name{
		"5551234567": {First: "Ada"},
	})
	r := NewResolver(testDB(t), dir)

	// The same number under every formatting the source emits.
	forms := []string{"+15551234567", "(555) 123-4567", "555-123-4567", "15551234567"}
	var firstID string
	for i, form := range forms {
		res, err := r.Resolve(int64(i+1), form)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			firstID = res.User.ID
			continue
		}
		if res.User.ID != firstID {
			t.Errorf("Resolve(%q) id = %s, want %s", form, res.User.ID, firstID)
		}
		if res.Created {
			t.Errorf("Resolve(%q) created a duplicate user", form)
		}
	}
}

func TestResolveUnknownHandleIsDeterministic(t *testing.T) {
	db := testDB(t)
	r := NewResolver(db, contacts.Empty{})

	res1, err := r.Resolve(5, "+15559990000")
	if err != nil {
		t.Fatal(err)
	}
	if !res1.Created || !res1.User.Synthetic {
		t.Fatalf("unknown handle should create a synthetic user, got %+v", res1)
	}

	// A second store, same input: the id must come out identical.
	db2 := testDB(t)
	r2 := NewResolver(db2, contacts.Empty{})
	res2, err := r2.Resolve(5, "+15559990000")
	if err != nil {
		t.Fatal(err)
	}
	if res2.User.ID != res1.User.ID {
		t.Errorf("synthetic id differs across runs: %s vs %s", res1.User.ID, res2.User.ID)
	}

	// Re-resolving in the first store finds the same user, no duplicate.
	res3, err := r.Resolve(5, "+15559990000")
	if err != nil {
		t.Fatal(err)
	}
	if res3.Created || res3.User.ID != res1.User.ID {
		t.Errorf("re-resolve = %+v, want existing user %s", res3, res1.User.ID)
	}
}

func TestResolveEmailHandle(t *testing.T) {
	r := NewResolver(testDB(t), contacts.Empty{})

	res, err := r.Resolve(2, "Person@Example.COM")
	if err != nil {
		t.Fatal(err)
	}
	if res.User.Email != "person@example.com" {
		t.Errorf("email = %q, want lowercased canonical", res.User.Email)
	}
	again, err := r.Resolve(2, "person@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if again.User.ID != res.User.ID {
		t.Error("case-variant emails resolved to different users")
	}
}

func TestResolveConflictEarlierUserWins(t *testing.T) {
	db := testDB(t)
	r := NewResolver(db, contacts.Empty{})

	// Two users, each holding a handle ref already.
	phoneUser, err := r.Resolve(1, "+15551230000")
	if err != nil {
		t.Fatal(err)
	}
	emailUser, err := r.Resolve(2, "other@example.com")
	if err != nil {
		t.Fatal(err)
	}

	// Ref 2 now arrives carrying the phone user's number: the value lookup
	// picks the phone user, but the ref belongs to the email user.
	res, err := r.Resolve(2, "+15551230000")
	if err != nil {
		t.Fatal(err)
	}
	if res.User.ID != phoneUser.User.ID {
		t.Errorf("resolved user = %s, want earlier phone user %s", res.User.ID, phoneUser.User.ID)
	}
	if res.Conflict == nil {
		t.Fatal("expected a conflict diagnostic for the re-used handle ref")
	}
	if res.Conflict.OtherUserID != emailUser.User.ID {
		t.Errorf("conflict other = %s, want %s", res.Conflict.OtherUserID, emailUser.User.ID)
	}

	// Both users keep their original refs.
	held, err := db.UserByHandleRef(2)
	if err != nil {
		t.Fatal(err)
	}
	if held == nil || held.ID != emailUser.User.ID {
		t.Errorf("handle ref 2 held by %+v, want %s", held, emailUser.User.ID)
	}
}

func TestResolveSelfIsStable(t *testing.T) {
	r := NewResolver(testDB(t), contacts.Empty{})

	me, err := r.ResolveSelf()
	if err != nil {
		t.Fatal(err)
	}
	again, err := r.ResolveSelf()
	if err != nil {
		t.Fatal(err)
	}
	if me.ID != again.ID {
		t.Errorf("self id changed: %s vs %s", me.ID, again.ID)
	}
}

func TestCanonical(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"+1 (555) 123-4567", "15551234567"},
		{"555.123.4567", "5551234567"},
		{" User@Example.com ", "user@example.com"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Canonical(c.in); got != c.want {
			t.Errorf("Canonical(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
