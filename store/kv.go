// Package store persists small pieces of local client state through a
// key-value port, with a bbolt file backend and a MySQL backend.
package store

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("store closed")

// KV is the persistence port. Values are opaque bytes.
type KV interface {
	// Get returns the value of key; found is false when key was never set.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	Close() error
}
