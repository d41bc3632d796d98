package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrExists   = errors.New("content already cached")
	ErrNotFound = errors.New("content not found")
)

// Entry is one cached blob, keyed by its transferId.
type Entry struct {
	Key      string
	FileName string
	MimeType string
	SenderID string
	Data     []byte
	StoredAt time.Time
}

// Store persists completed blobs. A key is written at most once; a second
// Put for the same key returns ErrExists and leaves the first write intact.
type Store interface {
	Put(ctx context.Context, entry Entry) error
	Get(ctx context.Context, key string) (Entry, error)
	Has(ctx context.Context, key string) (bool, error)
	Close() error
}
