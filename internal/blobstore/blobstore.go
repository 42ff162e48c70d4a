// Package blobstore persists whole JSON documents by key. Backends: a local
// directory, S3, and PostgreSQL, with an optional Redis read-through cache.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound indicates the key holds no object.
var ErrNotFound = errors.New("blobstore: object not found")

// Store reads and writes whole objects. Put replaces the object atomically.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
}
