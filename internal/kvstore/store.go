// Package kvstore provides the durable key-value storage capability used to
// persist detector configuration and key-rotation state across restarts.
//
// All persistence in Earshot flows through the single Store interface so that
// business logic never touches a database directly and tests can substitute
// the in-memory implementation. The package includes a BadgerDB-backed
// implementation for production use and an in-memory implementation for
// testing.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key does not exist in the store.
var ErrNotFound = errors.New("kvstore: not found")

// Store is the durable key-value capability injected into the detector and
// the key-rotation manager at construction. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a key-value pair, overwriting any existing value. The write
	// must be durable before Set returns (or as durable as the backend allows).
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a key. No error if the key does not exist.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
