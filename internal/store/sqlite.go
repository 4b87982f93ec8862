// ABOUTME: SQLite implementation of the Ledger interface using modernc.org/sqlite.
// ABOUTME: Provides user/message persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteLedger implements the Ledger interface using SQLite.
type SQLiteLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteLedger creates a new SQLite ledger at the given path. The schema
// is created if it doesn't exist and reserved users are seeded. Parent
// directories are created if needed.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	l := &SQLiteLedger{
		db:     db,
		logger: logger,
	}

	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := l.seedReservedUsers(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding reserved users: %w", err)
	}

	logger.Info("SQLite ledger initialized", "path", path)
	return l, nil
}

func (l *SQLiteLedger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL REFERENCES users(name),
			receiver TEXT NOT NULL REFERENCES users(name),
			content TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT 'text',
			media_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_receiver_time
			ON messages(receiver, created_at DESC);
	`

	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// seedReservedUsers ensures the non-platform participants exist up front.
func (l *SQLiteLedger) seedReservedUsers() error {
	for _, name := range []string{UserSystem, UserBot, UserAssistant} {
		if _, err := l.GetOrCreateUser(context.Background(), name); err != nil {
			return err
		}
	}
	return nil
}

// GetOrCreateUser returns the user with the given name, creating it lazily.
// The insert ignores conflicts so two concurrent calls create exactly one row.
func (l *SQLiteLedger) GetOrCreateUser(ctx context.Context, name string) (*User, error) {
	if name == "" {
		return nil, fmt.Errorf("user name is required")
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		uuid.New().String(), name, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("creating user %s: %w", name, err)
	}

	user := &User{}
	err = l.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM users WHERE name = ?`, name).
		Scan(&user.ID, &user.Name, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", name, err)
	}
	return user, nil
}

// AppendMessage records one message. Missing participants are created so a
// ledger write never fails on an unseen open-id.
func (l *SQLiteLedger) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.Sender == "" || msg.Receiver == "" {
		return fmt.Errorf("sender and receiver are required")
	}

	if _, err := l.GetOrCreateUser(ctx, msg.Sender); err != nil {
		return err
	}
	if _, err := l.GetOrCreateUser(ctx, msg.Receiver); err != nil {
		return err
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Kind == "" {
		msg.Kind = KindText
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender, receiver, content, kind, media_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Sender, msg.Receiver, msg.Content, msg.Kind, msg.MediaID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// LatestMessageTo returns the most recent message delivered to receiver.
func (l *SQLiteLedger) LatestMessageTo(ctx context.Context, receiver string) (*Message, error) {
	msg := &Message{}
	err := l.db.QueryRowContext(ctx,
		`SELECT id, sender, receiver, content, kind, media_id, created_at
		 FROM messages WHERE receiver = ?
		 ORDER BY created_at DESC LIMIT 1`, receiver).
		Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Content, &msg.Kind, &msg.MediaID, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest message for %s: %w", receiver, err)
	}
	return msg, nil
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
