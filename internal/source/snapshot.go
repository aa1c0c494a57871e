// Package source reads the externally provided snapshot of the messaging
// app's own database. The snapshot is opened read-only and may be replaced
// on disk between polls; callers re-open it per poll.
package source

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Apple epoch (2001-01-01 UTC) offset from the unix epoch, in seconds.
const appleEpochOffset = 978307200

// Tapback associated-message-type ranges in the source schema. 2000-2005
// add a reaction; 3000-3005 remove the matching one.
const (
	tapbackAddMin    = 2000
	tapbackRemoveMin = 3000
	tapbackSpan      = 6
)

// tapbackNames indexes reaction names by type offset within a range.
var tapbackNames = [tapbackSpan]string{"love", "like", "dislike", "laugh", "emphasize", "question"}

// SchemaError means the snapshot is missing a relation the reader depends
// on. Fatal at startup: polling a snapshot with the wrong shape can only
// produce garbage.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("snapshot schema missing tables: %v", e.Missing)
}

// Row is one source message row joined with its handle and owning chat.
type Row struct {
	ID              int64
	HandleRef       int64
	HandleValue     string
	Text            string
	Payload         []byte
	FromMe          bool
	Timestamp       int64  // unix milliseconds
	Tapback         string // reaction name, "" for ordinary messages
	TapbackRemoved  bool
	ChatID          int64
	ChatDisplayName string
}

// Snapshot is a read-only handle on one point-in-time copy of the source db.
// Optional message columns absent from older source revisions are detected
// once per open and degrade to empty values instead of failing every read.
type Snapshot struct {
	db           *sql.DB
	hasPayload   bool
	hasAssocType bool
}

// Open opens the snapshot file read-only. The owning application may still
// be writing to the original; the snapshot itself must never be modified.
func Open(path string) (*Snapshot, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping snapshot: %w", err)
	}
	cols, err := messageColumns(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	return &Snapshot{
		db:           db,
		hasPayload:   cols["attributedBody"],
		hasAssocType: cols["associated_message_type"],
	}, nil
}

// messageColumns lists the columns of the message table. Empty when the
// table itself is missing; VerifySchema reports that case.
func messageColumns(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query(`PRAGMA table_info(message)`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Close releases the snapshot handle.
func (s *Snapshot) Close() error {
	return s.db.Close()
}

// VerifySchema checks that every relation the reader queries is present.
// Returns *SchemaError listing what is missing.
func (s *Snapshot) VerifySchema() error {
	required := []string{"message", "handle", "chat", "chat_message_join"}
	var missing []string
	for _, table := range required {
		var name string
		err := s.db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err == sql.ErrNoRows {
			missing = append(missing, table)
			continue
		}
		if err != nil {
			return fmt.Errorf("verify schema: %w", err)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

// MaxRowID returns the highest message rowid in the snapshot, 0 when empty.
func (s *Snapshot) MaxRowID() (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(ROWID) FROM message`).Scan(&max); err != nil {
		return 0, fmt.Errorf("max rowid: %w", err)
	}
	return max.Int64, nil
}

// ReadBatch returns up to limit message rows with rowid > after, ascending.
// Rows without a chat association are skipped at the SQL level; rows without
// a handle (typically from-me messages) come back with a zero HandleRef.
func (s *Snapshot) ReadBatch(after int64, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}
	// Older snapshots lack the payload and tapback columns; substitute
	// literals so reads degrade instead of erroring on every poll.
	payloadExpr := "m.attributedBody"
	if !s.hasPayload {
		payloadExpr = "NULL"
	}
	assocExpr := "COALESCE(m.associated_message_type, 0)"
	if !s.hasAssocType {
		assocExpr = "0"
	}
	rows, err := s.db.Query(`
		SELECT m.ROWID,
		       COALESCE(m.handle_id, 0),
		       COALESCE(h.id, ''),
		       COALESCE(m.text, ''),
		       `+payloadExpr+`,
		       m.is_from_me,
		       m.date,
		       `+assocExpr+`,
		       cmj.chat_id,
		       COALESCE(c.display_name, '')
		FROM message m
		LEFT JOIN handle h ON h.ROWID = m.handle_id
		JOIN (
			SELECT message_id, MIN(chat_id) AS chat_id
			FROM chat_message_join
			GROUP BY message_id
		) cmj ON cmj.message_id = m.ROWID
		JOIN chat c ON c.ROWID = cmj.chat_id
		WHERE m.ROWID > ?
		ORDER BY m.ROWID ASC
		LIMIT ?`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var (
			r        Row
			rawDate  int64
			assocTyp int64
		)
		if err := rows.Scan(
			&r.ID, &r.HandleRef, &r.HandleValue, &r.Text, &r.Payload,
			&r.FromMe, &rawDate, &assocTyp, &r.ChatID, &r.ChatDisplayName,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Timestamp = appleTimeToUnixMilli(rawDate)
		r.Tapback, r.TapbackRemoved = classifyTapback(assocTyp)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	return out, nil
}

// classifyTapback maps an associated-message-type value to a reaction name
// and whether the row removes a prior reaction.
func classifyTapback(assocType int64) (name string, removed bool) {
	switch {
	case assocType >= tapbackAddMin && assocType < tapbackAddMin+tapbackSpan:
		return tapbackNames[assocType-tapbackAddMin], false
	case assocType >= tapbackRemoveMin && assocType < tapbackRemoveMin+tapbackSpan:
		return tapbackNames[assocType-tapbackRemoveMin], true
	}
	return "", false
}

// appleTimeToUnixMilli converts a source timestamp to unix milliseconds.
// Modern rows store nanoseconds since the Apple epoch; rows written before
// the format change store whole seconds. Values small enough to be a seconds
// count (under ~1e11, i.e. before the year 5138) are treated as legacy.
func appleTimeToUnixMilli(v int64) int64 {
	const nsThreshold = 100_000_000_000
	if v > nsThreshold {
		return v/1_000_000 + appleEpochOffset*1000
	}
	return (v + appleEpochOffset) * 1000
}
