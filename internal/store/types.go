package store

import "strings"

// User is a stable participant identity. Phone and Email hold normalized
// contact values ("" when unknown); HandleRef is the source handle table
// rowid (0 until discovered). Synthetic marks identities fabricated for
// participants no directory entry could name.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Phone     string
	Email     string
	HandleRef int64
	Synthetic bool
}

// Chat is a conversation thread. ID is the source store's chat rowid.
// DisplayName may be empty for unnamed direct chats.
type Chat struct {
	ID          int64
	DisplayName string
}

// Message is a single decoded message. ID is the source store row id and is
// globally unique; rows are append-only. Timestamp is unix milliseconds.
type Message struct {
	ID           int64
	UserID       string
	Body         string
	DecodeMethod string
	Kind         string
	FromMe       bool
	Timestamp    int64
}

// Message kinds. Tapback rows carry the reaction name and whether the row
// removed a prior reaction: "tapback:love", "tapback_removed:love".
const (
	KindText                 = "text"
	KindTapbackPrefix        = "tapback:"
	KindTapbackRemovedPrefix = "tapback_removed:"
)

// TapbackKind builds the kind string for a named reaction row.
func TapbackKind(name string, removed bool) string {
	if removed {
		return KindTapbackRemovedPrefix + name
	}
	return KindTapbackPrefix + name
}

// IsTapback reports whether a message kind marks a reaction row, added or
// removed.
func IsTapback(kind string) bool {
	return strings.HasPrefix(kind, KindTapbackPrefix) ||
		strings.HasPrefix(kind, KindTapbackRemovedPrefix)
}

// ChatUser links a user into a chat, unique per pair.
type ChatUser struct {
	ChatID int64
	UserID string
}

// ChatMessage links a message into a chat, carrying the message timestamp
// for ordered reads.
type ChatMessage struct {
	ChatID    int64
	MessageID int64
	MessageAt int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
