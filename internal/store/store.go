// ABOUTME: Ledger interface and data types for bella-gateway persistence.
// ABOUTME: Defines User, Message and the Ledger interface for the durable transcript.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Reserved user names for non-platform participants. Everything else is a
// platform open-id.
const (
	UserSystem    = "system"
	UserBot       = "bot"
	UserAssistant = "assistant"
)

// Message kinds.
const (
	KindText  = "text"
	KindVoice = "voice"
)

// User is a conversation participant, created lazily on first reference and
// immutable afterwards.
type User struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Message is one append-only ledger row. Content may be empty for voice-only
// messages; MediaID carries the platform media reference when present.
type Message struct {
	ID        string
	Sender    string
	Receiver  string
	Content   string
	Kind      string
	MediaID   string
	CreatedAt time.Time
}

// Ledger is the durable record of every message exchanged. It is append/read
// only; rows are never updated or deleted.
type Ledger interface {
	// GetOrCreateUser returns the user with the given name, creating it if
	// needed. Calling twice with the same name returns the same identity.
	GetOrCreateUser(ctx context.Context, name string) (*User, error)

	// AppendMessage records a delivered or received message. Sender and
	// receiver users are created if they do not exist yet.
	AppendMessage(ctx context.Context, msg *Message) error

	// LatestMessageTo returns the most recent message delivered to the named
	// user, or ErrNotFound.
	LatestMessageTo(ctx context.Context, receiver string) (*Message, error)

	Close() error
}
