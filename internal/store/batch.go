package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrWatermarkConflict means the stored watermark moved since the batch was
// staged. The batch is rolled back; the caller should re-read and re-poll.
var ErrWatermarkConflict = errors.New("store: watermark changed since batch was staged")

// Batch is a staged unit of sync output, applied atomically. PrevWatermark
// must match the stored watermark at apply time or the whole batch aborts.
type Batch struct {
	Users        []User
	HandleRefs   map[string]int64 // user id -> source handle rowid
	Chats        []Chat
	Messages     []Message
	ChatUsers    []ChatUser
	ChatMessages []ChatMessage

	PrevWatermark int64
	NewWatermark  int64
}

// ApplyBatch writes a staged batch and advances the watermark in a single
// transaction. Either everything lands or nothing does, so a crash between
// polls never leaves messages ahead of the watermark.
func (db *DB) ApplyBatch(b *Batch) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := txWatermark(tx)
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}
	if current != b.PrevWatermark {
		return fmt.Errorf("%w: have %d, batch staged at %d", ErrWatermarkConflict, current, b.PrevWatermark)
	}

	now := time.Now().UnixMilli()
	for i := range b.Users {
		u := &b.Users[i]
		if _, err := tx.Exec(`
			INSERT INTO users (id, first_name, last_name, phone, email, handle_ref, synthetic, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			u.ID, u.FirstName, u.LastName, u.Phone, u.Email, u.HandleRef, u.Synthetic, now); err != nil {
			return fmt.Errorf("upsert user %s: %w", u.ID, err)
		}
	}
	for userID, ref := range b.HandleRefs {
		if _, err := tx.Exec(`UPDATE users SET handle_ref = ? WHERE id = ? AND handle_ref = 0`, ref, userID); err != nil {
			return fmt.Errorf("attach handle ref %d: %w", ref, err)
		}
	}
	for i := range b.Chats {
		c := &b.Chats[i]
		if _, err := tx.Exec(`
			INSERT INTO chats (id, display_name, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				display_name = excluded.display_name
			WHERE chats.display_name = '' AND excluded.display_name != ''`,
			c.ID, c.DisplayName, now); err != nil {
			return fmt.Errorf("upsert chat %d: %w", c.ID, err)
		}
	}
	for i := range b.Messages {
		m := &b.Messages[i]
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO messages (id, user_id, body, decode_method, kind, from_me, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.UserID, m.Body, m.DecodeMethod, m.Kind, m.FromMe, m.Timestamp); err != nil {
			return fmt.Errorf("insert message %d: %w", m.ID, err)
		}
	}
	for _, cu := range b.ChatUsers {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO chat_users (chat_id, user_id) VALUES (?, ?)`,
			cu.ChatID, cu.UserID); err != nil {
			return fmt.Errorf("link chat user: %w", err)
		}
	}
	for _, cm := range b.ChatMessages {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO chat_messages (chat_id, message_id, message_at) VALUES (?, ?, ?)`,
			cm.ChatID, cm.MessageID, cm.MessageAt); err != nil {
			return fmt.Errorf("link chat message: %w", err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		watermarkKey, strconv.FormatInt(b.NewWatermark, 10), now); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func txWatermark(tx *sql.Tx) (int64, error) {
	var raw string
	err := tx.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, watermarkKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}
