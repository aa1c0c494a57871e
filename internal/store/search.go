package store

// SearchMessages performs a full-text search on message bodies.
func (db *DB) SearchMessages(query string, chatID int64, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.user_id, m.body, m.decode_method, m.kind, m.from_me, m.timestamp,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if chatID != 0 {
		q += " AND m.id IN (SELECT message_id FROM chat_messages WHERE chat_id = ?)"
		args = append(args, chatID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.UserID, &r.Message.Body,
			&r.Message.DecodeMethod, &r.Message.Kind, &r.Message.FromMe,
			&r.Message.Timestamp, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
