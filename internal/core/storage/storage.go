// Package storage holds the key/value document stores that back entity records.
package storage

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrClosed   = errors.New("store is closed")
	ErrEmptyKey = errors.New("empty document key")
)

// Documents is a key/value store of opaque versioned documents.
type Documents interface {
	// Get returns ErrNotFound when the key has no document.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, doc []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Flusher is implemented by stores that buffer writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Scoped returns a view of docs whose keys are transparently prefixed with scope + "/".
func Scoped(docs Documents, scope string) Documents {
	return &scoped{docs: docs, prefix: scope + "/"}
}

// ScopedKey is the key that Scoped(docs, scope) uses for key.
func ScopedKey(scope, key string) string {
	return scope + "/" + key
}

type scoped struct {
	docs   Documents
	prefix string
}

func (s *scoped) Get(ctx context.Context, key string) ([]byte, error) {
	return s.docs.Get(ctx, s.prefix+key)
}

func (s *scoped) Put(ctx context.Context, key string, doc []byte) error {
	return s.docs.Put(ctx, s.prefix+key, doc)
}

func (s *scoped) Delete(ctx context.Context, key string) error {
	return s.docs.Delete(ctx, s.prefix+key)
}

func (s *scoped) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.docs.Keys(ctx, s.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, s.prefix)
	}
	return keys, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
