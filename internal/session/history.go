// ABOUTME: Bounded per-user conversation history backed by the expiring key-value store.
// ABOUTME: Retains recent turns for prompt construction; expiry keeps the cache volatile.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bellalabs/bella-gateway/internal/kv"
)

// Turn roles.
const (
	RoleStudent   = "student"
	RoleAssistant = "assistant"
)

// Turn is one utterance in the conversation history.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

const (
	// historyTTL matches the session TTL; stale conversations expire together.
	historyTTL = 24 * time.Hour

	// maxStoredTurns bounds the cached log. Prompts use far fewer, but the
	// store may retain more until expiry.
	maxStoredTurns = 50
)

// History is the bounded, per-user ordered log of conversation turns.
type History struct {
	store kv.Store
}

// NewHistory creates a history store over the given key-value store.
func NewHistory(store kv.Store) *History {
	return &History{store: store}
}

func historyKey(userID string) string {
	return "history:" + userID
}

func (h *History) load(ctx context.Context, userID string) ([]Turn, error) {
	raw, err := h.store.Get(ctx, historyKey(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading history for %s: %w", userID, err)
	}

	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		// Corrupt cache entries are dropped, not fatal.
		return nil, nil
	}
	return turns, nil
}

// Append records one completed exchange: the student's input and the full
// assistant response, in chronological order.
func (h *History) Append(ctx context.Context, userID, input, response string) error {
	turns, err := h.load(ctx, userID)
	if err != nil {
		return err
	}

	turns = append(turns,
		Turn{Role: RoleStudent, Text: input},
		Turn{Role: RoleAssistant, Text: response},
	)
	if len(turns) > maxStoredTurns {
		turns = turns[len(turns)-maxStoredTurns:]
	}

	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encoding history for %s: %w", userID, err)
	}
	if err := h.store.Set(ctx, historyKey(userID), string(raw), historyTTL); err != nil {
		return fmt.Errorf("saving history for %s: %w", userID, err)
	}
	return nil
}

// Recent returns up to the last k exchanges (student+assistant pairs) for
// prompt construction, oldest first.
func (h *History) Recent(ctx context.Context, userID string, k int) ([]Turn, error) {
	turns, err := h.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit := 2 * k
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}
