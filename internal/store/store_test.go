package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "messages")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "messages", []byte(`["a"]`)))
	got, err := s.Get(ctx, "messages")
	require.NoError(t, err)
	assert.Equal(t, `["a"]`, string(got))

	require.NoError(t, s.Put(ctx, "messages", []byte(`["a","b"]`)))
	got, err = s.Get(ctx, "messages")
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, string(got), "put replaces the value wholesale")

	_, err = s.Get(ctx, "")
	assert.Error(t, err)
	assert.Error(t, s.Put(ctx, "", nil))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)

	require.NoError(t, s.Close())
	_, err := s.Get(context.Background(), "messages")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Put(context.Background(), "messages", nil), ErrClosed)
	assert.ErrorIs(t, s.Ping(context.Background()), ErrClosed)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	value := []byte("hello")
	require.NoError(t, s.Put(ctx, "k", value))
	value[0] = 'j'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	got[0] = 'y'
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(again))
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Ping(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files are renamed away")
	assert.Equal(t, "messages.json", entries[0].Name())
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "messages", []byte(`["persisted"]`)))
	require.NoError(t, first.Close())

	second, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := second.Get(ctx, "messages")
	require.NoError(t, err)
	assert.Equal(t, `["persisted"]`, string(got))
}

func TestFileStoreEscapesKeys(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "data"))
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "../outside", []byte("x")))
	_, err = os.Stat(filepath.Join(dir, "outside.json"))
	assert.True(t, os.IsNotExist(err), "key must not escape the base directory")
}

func TestFileStoreRequiresDir(t *testing.T) {
	_, err := NewFileStore("")
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)
	require.NoError(t, s.Ping(context.Background()))

	raw, err := mr.Get("messages")
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, raw)
}

func TestRedisStoreUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), RedisOptions{Addr: addr})
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Options{Backend: "FILE", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	mr := miniredis.RunT(t)
	s, err = Open(ctx, Options{Backend: BackendRedis, RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	_ = s.Close()

	_, err = Open(ctx, Options{Backend: BackendPostgres})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Backend: "etcd"})
	assert.Error(t, err)
}
