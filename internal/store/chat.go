package store

import (
	"database/sql"
	"fmt"
	"time"
)

// AmbiguousChatError is returned when a display name matches more than one
// chat and the caller asked for exactly one.
type AmbiguousChatError struct {
	Name    string
	ChatIDs []int64
}

func (e *AmbiguousChatError) Error() string {
	return fmt.Sprintf("chat name %q matches %d chats", e.Name, len(e.ChatIDs))
}

// UpsertChat inserts a chat or backfills its display name. An existing
// non-empty name is never overwritten; names only flow from empty to set.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (id, display_name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name
		WHERE chats.display_name = '' AND excluded.display_name != ''`,
		c.ID, c.DisplayName, now)
	return err
}

// GetChat returns a chat by id, or nil when absent.
func (db *DB) GetChat(id int64) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`SELECT id, display_name FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.DisplayName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ChatsByName returns every chat carrying a display name, ordered by id.
func (db *DB) ChatsByName(name string) ([]Chat, error) {
	rows, err := db.Query(`SELECT id, display_name FROM chats WHERE display_name = ? ORDER BY id`, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.DisplayName); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// FindChatByName resolves a display name to exactly one chat. Returns nil
// when no chat matches and *AmbiguousChatError when several do.
func (db *DB) FindChatByName(name string) (*Chat, error) {
	chats, err := db.ChatsByName(name)
	if err != nil {
		return nil, err
	}
	switch len(chats) {
	case 0:
		return nil, nil
	case 1:
		return &chats[0], nil
	}
	ids := make([]int64, len(chats))
	for i, c := range chats {
		ids[i] = c.ID
	}
	return nil, &AmbiguousChatError{Name: name, ChatIDs: ids}
}

// ChatCount returns the number of chat rows.
func (db *DB) ChatCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}
