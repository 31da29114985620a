package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	_ Documents = (*WriteBehind)(nil)
	_ Flusher   = (*WriteBehind)(nil)
)

// WriteBehind answers reads and writes from memory and pushes dirty keys to a
// backing store when Flush is called. Puts never touch the backend, so the
// game-logic thread does not wait on disk. Reads go to the backend once per
// key, found or not; Prefetch does that read ahead of time.
type WriteBehind struct {
	backend Documents

	mu      sync.Mutex
	front   map[string][]byte
	deleted map[string]struct{}
	dirty   map[string]struct{}
	// keys the backend did not have when last read
	absent map[string]struct{}
}

func NewWriteBehind(backend Documents) *WriteBehind {
	return &WriteBehind{
		backend: backend,
		front:   make(map[string][]byte),
		deleted: make(map[string]struct{}),
		dirty:   make(map[string]struct{}),
		absent:  make(map[string]struct{}),
	}
}

func (w *WriteBehind) Get(ctx context.Context, key string) ([]byte, error) {
	w.mu.Lock()
	if doc, ok := w.front[key]; ok {
		w.mu.Unlock()
		return cloneBytes(doc), nil
	}
	_, gone := w.deleted[key]
	_, missing := w.absent[key]
	w.mu.Unlock()
	if gone || missing {
		return nil, ErrNotFound
	}

	doc, err := w.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		w.mu.Lock()
		if _, ok := w.front[key]; !ok {
			w.absent[key] = struct{}{}
		}
		w.mu.Unlock()
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	// a concurrent Put wins over the value we just read
	if _, ok := w.front[key]; !ok {
		if _, gone := w.deleted[key]; !gone {
			w.front[key] = cloneBytes(doc)
		}
	}
	w.mu.Unlock()
	return doc, nil
}

func (w *WriteBehind) Put(_ context.Context, key string, doc []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	w.mu.Lock()
	w.front[key] = cloneBytes(doc)
	delete(w.deleted, key)
	delete(w.absent, key)
	w.dirty[key] = struct{}{}
	w.mu.Unlock()
	return nil
}

func (w *WriteBehind) Delete(_ context.Context, key string) error {
	w.mu.Lock()
	delete(w.front, key)
	w.deleted[key] = struct{}{}
	w.dirty[key] = struct{}{}
	w.mu.Unlock()
	return nil
}

func (w *WriteBehind) Keys(ctx context.Context, prefix string) ([]string, error) {
	backendKeys, err := w.backend.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	set := make(map[string]struct{}, len(backendKeys)+len(w.front))
	for _, k := range backendKeys {
		set[k] = struct{}{}
	}
	for k := range w.front {
		if strings.HasPrefix(k, prefix) {
			set[k] = struct{}{}
		}
	}
	for k := range w.deleted {
		delete(set, k)
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Prefetch reads key into memory so a later Get does not wait on the
// backend. A key the backend does not have is remembered as absent.
func (w *WriteBehind) Prefetch(ctx context.Context, key string) error {
	_, err := w.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Dirty reports how many keys are waiting for a flush.
func (w *WriteBehind) Dirty() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirty)
}

// Flush writes every dirty key to the backend. Keys that fail stay dirty and
// the joined error is returned.
func (w *WriteBehind) Flush(ctx context.Context) error {
	type pending struct {
		key    string
		doc    []byte
		delete bool
	}

	w.mu.Lock()
	batch := make([]pending, 0, len(w.dirty))
	for key := range w.dirty {
		if _, gone := w.deleted[key]; gone {
			batch = append(batch, pending{key: key, delete: true})
		} else {
			batch = append(batch, pending{key: key, doc: cloneBytes(w.front[key])})
		}
	}
	w.dirty = make(map[string]struct{})
	w.mu.Unlock()

	var all error
	for _, p := range batch {
		var err error
		if p.delete {
			err = w.backend.Delete(ctx, p.key)
		} else {
			err = w.backend.Put(ctx, p.key, p.doc)
		}
		if err != nil {
			all = errors.Join(all, fmt.Errorf("flush %s: %w", p.key, err))
			w.mu.Lock()
			w.dirty[p.key] = struct{}{}
			w.mu.Unlock()
			continue
		}
		if p.delete {
			w.mu.Lock()
			if _, stillDirty := w.dirty[p.key]; !stillDirty {
				delete(w.deleted, p.key)
			}
			w.mu.Unlock()
		}
	}
	return all
}
