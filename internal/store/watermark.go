package store

import (
	"database/sql"
	"strconv"
	"time"
)

const watermarkKey = "watermark"

// Watermark returns the highest source message rowid already synced, or 0
// for a fresh store.
func (db *DB) Watermark() (int64, error) {
	var raw string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, watermarkKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// SetWatermark overwrites the watermark unconditionally. Batch application
// goes through ApplyBatch, which compares before advancing; this is for
// administrative resets.
func (db *DB) SetWatermark(v int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		watermarkKey, strconv.FormatInt(v, 10), now)
	return err
}
