// ABOUTME: Typed per-user session state stored in the expiring key-value store.
// ABOUTME: The busy/listening status is the mutual-exclusion gate for response generation.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bellalabs/bella-gateway/internal/kv"
)

// Status is the two-state session lock preventing concurrent processing for
// one user.
type Status string

const (
	// StatusListening means the bot is idle and will accept the next message.
	StatusListening Status = "listening"

	// StatusBusy means a response is being generated for this user.
	StatusBusy Status = "busy"
)

// stateTTL bounds leakage from crashed workers that never release the lock.
const stateTTL = 24 * time.Hour

// State is the per-user session record. AttachedContext is a pending
// clarifying prefix queued by a menu click, consumed by the next free-text
// message.
type State struct {
	Status          Status `json:"status"`
	AttachedContext string `json:"attached_context,omitempty"`
}

// Sessions manages per-user session state in the key-value store. The store
// provides atomic single-key read/write only; the narrow window between the
// busy check and the set is accepted, not a strict mutex.
type Sessions struct {
	store kv.Store
}

// NewSessions creates a session manager over the given store.
func NewSessions(store kv.Store) *Sessions {
	return &Sessions{store: store}
}

func stateKey(userID string) string {
	return "session:" + userID
}

// load returns the state for userID, defaulting to listening when no record
// exists or the record is unreadable.
func (s *Sessions) load(ctx context.Context, userID string) (State, error) {
	raw, err := s.store.Get(ctx, stateKey(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return State{Status: StatusListening}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("loading session for %s: %w", userID, err)
	}

	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		// A corrupt slot must not lock the user out forever.
		return State{Status: StatusListening}, nil
	}
	if state.Status == "" {
		state.Status = StatusListening
	}
	return state, nil
}

func (s *Sessions) save(ctx context.Context, userID string, state State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding session for %s: %w", userID, err)
	}
	if err := s.store.Set(ctx, stateKey(userID), string(raw), stateTTL); err != nil {
		return fmt.Errorf("saving session for %s: %w", userID, err)
	}
	return nil
}

// Status returns the current status for userID.
func (s *Sessions) Status(ctx context.Context, userID string) (Status, error) {
	state, err := s.load(ctx, userID)
	if err != nil {
		return "", err
	}
	return state.Status, nil
}

// Acquire marks userID busy. It must be called before any asynchronous work
// starts so a second event from the same user sees the lock.
func (s *Sessions) Acquire(ctx context.Context, userID string) error {
	state, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	state.Status = StatusBusy
	return s.save(ctx, userID, state)
}

// Release marks userID listening again. Called on completion, success or
// failure.
func (s *Sessions) Release(ctx context.Context, userID string) error {
	state, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	state.Status = StatusListening
	return s.save(ctx, userID, state)
}

// AttachContext stores a pending clarifying prefix for the next free-text
// message from userID.
func (s *Sessions) AttachContext(ctx context.Context, userID, prefix string) error {
	state, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	state.AttachedContext = prefix
	return s.save(ctx, userID, state)
}

// TakeContext returns the pending prefix for userID and clears it.
func (s *Sessions) TakeContext(ctx context.Context, userID string) (string, error) {
	state, err := s.load(ctx, userID)
	if err != nil {
		return "", err
	}
	prefix := state.AttachedContext
	if prefix == "" {
		return "", nil
	}
	state.AttachedContext = ""
	if err := s.save(ctx, userID, state); err != nil {
		return "", err
	}
	return prefix, nil
}

// ClearContext discards any pending prefix for userID.
func (s *Sessions) ClearContext(ctx context.Context, userID string) error {
	state, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if state.AttachedContext == "" {
		return nil
	}
	state.AttachedContext = ""
	return s.save(ctx, userID, state)
}
