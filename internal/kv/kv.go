// ABOUTME: Expiring key-value store interface backing session state and caches.
// ABOUTME: Implemented by Redis for deployment and an in-memory store for tests.

package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// Store is a minimal expiring key-value store. Single-key Get/Set are assumed
// atomic by the backing store; no compare-and-swap is required.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes key=value. A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
