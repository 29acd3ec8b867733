// Package kv provides the key-value persistence substrate used for session
// records and per-chat language profiles. Keys are namespaced strings; values
// are opaque bytes serialized by the caller.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound indicates the key has no value. Deleting an absent key is not
// an error.
var ErrNotFound = errors.New("kv: key not found")

// Store is the external persistence collaborator. Every call reflects the
// current persisted value; implementations must not cache in-process.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
