package daemon

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kevinfeng77/imsgd/internal/bus"
	"github.com/kevinfeng77/imsgd/internal/contacts"
	"github.com/kevinfeng77/imsgd/internal/identity"
	"github.com/kevinfeng77/imsgd/internal/lock"
	"github.com/kevinfeng77/imsgd/internal/source"
	"github.com/kevinfeng77/imsgd/internal/store"
	intsync "github.com/kevinfeng77/imsgd/internal/sync"
	"github.com/kevinfeng77/imsgd/internal/typedstream"
)

// buildSnapshot writes a source database at path with one incoming message.
func buildSnapshot(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	stmts := []string{
		`CREATE TABLE message (
			ROWID INTEGER PRIMARY KEY,
			handle_id INTEGER,
			text TEXT,
			attributedBody BLOB,
			is_from_me INTEGER NOT NULL DEFAULT 0,
			date INTEGER NOT NULL DEFAULT 0,
			associated_message_type INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE handle (ROWID INTEGER PRIMARY KEY, id TEXT NOT NULL)`,
		`CREATE TABLE chat (ROWID INTEGER PRIMARY KEY, display_name TEXT)`,
		`CREATE TABLE chat_message_join (chat_id INTEGER NOT NULL, message_id INTEGER NOT NULL)`,
		`INSERT INTO handle (ROWID, id) VALUES (1, '+15551234567')`,
		`INSERT INTO chat (ROWID, display_name) VALUES (1, 'test chat')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.Exec(`
		INSERT INTO message (ROWID, handle_id, text, attributedBody, is_from_me, date)
		VALUES (1, 1, '', ?, 0, 700000000000000000)`,
		typedstream.EncodeString("hello from the snapshot")); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO chat_message_join (chat_id, message_id) VALUES (1, 1)`); err != nil {
		t.Fatal(err)
	}
}

// TestComponentLifecycle wires the components the way the fx module does and
// runs one poll against a snapshot fixture.
func TestComponentLifecycle(t *testing.T) {
	sessionDir := t.TempDir()
	snapshotPath := filepath.Join(sessionDir, "snapshot.db")
	buildSnapshot(t, snapshotPath)

	lk, err := lock.Acquire(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(sessionDir, "messages.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	if err := verifySnapshot(snapshotPath); err != nil {
		t.Fatalf("verifySnapshot: %v", err)
	}

	resolver := identity.NewResolver(db, contacts.Empty{})
	engine := intsync.New(db, resolver, snapshotPath, 100, bus.New(), zap.NewNop(), nil)

	summary, err := engine.PollOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.RowsSynced != 1 {
		t.Errorf("rows synced = %d, want 1", summary.RowsSynced)
	}

	m, err := db.GetMessage(1)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Body != "hello from the snapshot" {
		t.Errorf("message = %+v, want decoded body", m)
	}
}

func TestVerifySnapshotRejectsWrongSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE unrelated (x INTEGER)`); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	err = verifySnapshot(path)
	var schemaErr *source.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("verifySnapshot = %v, want *SchemaError", err)
	}
}
