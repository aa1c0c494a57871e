package store

import (
	"database/sql"
	"strings"
)

// InsertMessage stores a message. Messages are append-only; inserting an id
// that already exists is a silent no-op and the stored row is untouched.
func (db *DB) InsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO messages (id, user_id, body, decode_method, kind, from_me, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Body, m.DecodeMethod, m.Kind, m.FromMe, m.Timestamp)
	return err
}

// GetMessage returns a message by id, or nil when absent.
func (db *DB) GetMessage(id int64) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, user_id, body, decode_method, kind, from_me, timestamp
		FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.UserID, &m.Body, &m.DecodeMethod, &m.Kind, &m.FromMe, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MessagesForChat returns a chat's messages ordered oldest first.
func (db *DB) MessagesForChat(chatID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT m.id, m.user_id, m.body, m.decode_method, m.kind, m.from_me, m.timestamp
		FROM chat_messages cm
		JOIN messages m ON m.id = cm.message_id
		WHERE cm.chat_id = ?
		ORDER BY cm.message_at ASC, m.id ASC
		LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Body, &m.DecodeMethod, &m.Kind, &m.FromMe, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// idChunkSize keeps IN lists under SQLite's 999 bound-parameter limit.
const idChunkSize = 500

// ExistingMessageIDs reports which of the given ids are already stored.
func (db *DB) ExistingMessageIDs(ids []int64) (map[int64]bool, error) {
	existing := make(map[int64]bool, len(ids))
	for start := 0; start < len(ids); start += idChunkSize {
		chunk := ids[start:min(start+idChunkSize, len(ids))]
		query := `SELECT id FROM messages WHERE id IN (?` + strings.Repeat(",?", len(chunk)-1) + `)`
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		if err := db.scanIDs(query, args, existing); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

func (db *DB) scanIDs(query string, args []any, into map[int64]bool) error {
	rows, err := db.Query(query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		into[id] = true
	}
	return rows.Err()
}

// MessageCount returns the number of message rows.
func (db *DB) MessageCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// LinkChatUser records chat membership, idempotently.
func (db *DB) LinkChatUser(chatID int64, userID string) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO chat_users (chat_id, user_id) VALUES (?, ?)`,
		chatID, userID)
	return err
}

// LinkChatMessage attaches a message to a chat, idempotently.
func (db *DB) LinkChatMessage(chatID, messageID, messageAt int64) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO chat_messages (chat_id, message_id, message_at) VALUES (?, ?, ?)`,
		chatID, messageID, messageAt)
	return err
}

// ChatUsers returns the user ids participating in a chat.
func (db *DB) ChatUsers(chatID int64) ([]string, error) {
	rows, err := db.Query(`SELECT user_id FROM chat_users WHERE chat_id = ? ORDER BY user_id`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
