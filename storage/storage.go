// Package storage persists rendered artifacts under deterministic keys
// across a fast local tier and a durable S3 tier.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when neither tier has the key.
var ErrNotFound = errors.New("artifact not found")

// Metadata travels with every stored object so the corpus can be
// audited later without re-deriving anything from the key.
type Metadata struct {
	Intent   string
	Language string
	Voice    string
	Phrase   string
}

// Store is one storage tier.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Write(ctx context.Context, key string, data []byte, meta Metadata) error
	Read(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
