package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseDocuments(t *testing.T, docs Documents) {
	t.Helper()
	ctx := context.Background()

	_, err := docs.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, docs.Put(ctx, "e1/graft", []byte(`{"v":1}`)))
	require.NoError(t, docs.Put(ctx, "e2/graft", []byte(`{"v":2}`)))
	require.NoError(t, docs.Put(ctx, "e1/graft", []byte(`{"v":3}`)))

	got, err := docs.Get(ctx, "e1/graft")
	require.NoError(t, err)
	assert.Equal(t, `{"v":3}`, string(got))

	keys, err := docs.Keys(ctx, "e1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1/graft"}, keys)

	require.NoError(t, docs.Delete(ctx, "e1/graft"))
	_, err = docs.Get(ctx, "e1/graft")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, docs.Put(ctx, "", nil), ErrEmptyKey)
}

func TestMemory(t *testing.T) {
	exerciseDocuments(t, NewMemory())
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Put(context.Background(), "k", buf))
	buf[0] = 'z'

	got, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "graft.db"))
	require.NoError(t, err)
	defer s.Close()

	exerciseDocuments(t, s)
}

func TestSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	assert.Error(t, err)
}

func TestScoped(t *testing.T) {
	base := NewMemory()
	scoped := Scoped(base, "entity-9")
	ctx := context.Background()

	require.NoError(t, scoped.Put(ctx, "graft", []byte("x")))
	raw, err := base.Get(ctx, ScopedKey("entity-9", "graft"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(raw))

	keys, err := scoped.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"graft"}, keys)
}

func TestWriteBehindDefersWrites(t *testing.T) {
	backend := NewMemory()
	wb := NewWriteBehind(backend)
	ctx := context.Background()

	require.NoError(t, wb.Put(ctx, "a", []byte("1")))
	require.NoError(t, wb.Put(ctx, "b", []byte("2")))
	assert.Equal(t, 0, backend.Len())
	assert.Equal(t, 2, wb.Dirty())

	got, err := wb.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))

	require.NoError(t, wb.Flush(ctx))
	assert.Equal(t, 2, backend.Len())
	assert.Equal(t, 0, wb.Dirty())

	require.NoError(t, wb.Delete(ctx, "a"))
	_, err = wb.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := wb.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)

	require.NoError(t, wb.Flush(ctx))
	_, err = backend.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteBehindReadsThrough(t *testing.T) {
	backend := NewMemory()
	ctx := context.Background()
	require.NoError(t, backend.Put(ctx, "old", []byte("persisted")))

	wb := NewWriteBehind(backend)
	got, err := wb.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got))
	assert.Equal(t, 0, wb.Dirty())
}

type countingStore struct {
	*Memory
	gets int
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets++
	return c.Memory.Get(ctx, key)
}

func TestWriteBehindPrefetch(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{Memory: NewMemory()}
	require.NoError(t, backend.Put(ctx, "known", []byte("v")))
	wb := NewWriteBehind(backend)

	require.NoError(t, wb.Prefetch(ctx, "known"))
	require.NoError(t, wb.Prefetch(ctx, "fresh"))
	assert.Equal(t, 2, backend.gets)

	got, err := wb.Get(ctx, "known")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
	_, err = wb.Get(ctx, "fresh")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, backend.gets, "later reads stay in memory")

	require.NoError(t, wb.Put(ctx, "fresh", []byte("new")))
	got, err = wb.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
	assert.Equal(t, 2, backend.gets)
}

type failingStore struct{ *Memory }

func (f failingStore) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestWriteBehindKeepsFailedKeysDirty(t *testing.T) {
	wb := NewWriteBehind(failingStore{NewMemory()})
	ctx := context.Background()

	require.NoError(t, wb.Put(ctx, "k", []byte("v")))
	err := wb.Flush(ctx)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, wb.Dirty())
}
