package store

import (
	"database/sql"
	"time"
)

// UpsertUser inserts a user if no row with the same id exists. User rows are
// immutable after creation except for handle_ref, which AttachHandleRef fills
// in once discovered.
func (db *DB) UpsertUser(u *User) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (id, first_name, last_name, phone, email, handle_ref, synthetic, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		u.ID, u.FirstName, u.LastName, u.Phone, u.Email, u.HandleRef, u.Synthetic, now)
	return err
}

// AttachHandleRef records the source handle rowid for a user, first write
// wins. Returns true when this call claimed the ref.
func (db *DB) AttachHandleRef(userID string, handleRef int64) (bool, error) {
	res, err := db.Exec(`UPDATE users SET handle_ref = ? WHERE id = ? AND handle_ref = 0`,
		handleRef, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetUser returns a user by id, or nil when absent.
func (db *DB) GetUser(id string) (*User, error) {
	return db.scanUser(db.QueryRow(userColumns+` WHERE id = ?`, id))
}

// UserByPhone returns the user holding a normalized phone, or nil.
func (db *DB) UserByPhone(phone string) (*User, error) {
	return db.scanUser(db.QueryRow(userColumns+` WHERE phone = ? AND phone != ''`, phone))
}

// UserByEmail returns the user holding an email address, or nil.
func (db *DB) UserByEmail(email string) (*User, error) {
	return db.scanUser(db.QueryRow(userColumns+` WHERE email = ? AND email != ''`, email))
}

// UserByHandleRef returns the user bound to a source handle rowid, or nil.
func (db *DB) UserByHandleRef(handleRef int64) (*User, error) {
	return db.scanUser(db.QueryRow(userColumns+` WHERE handle_ref = ?`, handleRef))
}

// UserCount returns the number of user rows.
func (db *DB) UserCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

const userColumns = `SELECT id, first_name, last_name, phone, email, handle_ref, synthetic FROM users`

func (db *DB) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Phone, &u.Email, &u.HandleRef, &u.Synthetic)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
