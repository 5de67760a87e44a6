// Package store provides the key/value persistence backends the relay uses to
// keep its history log across restarts. Every backend stores opaque blobs under
// string keys; encoding is the caller's concern.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Get when no value is stored under the key.
	ErrNotFound = errors.New("store: key not found")
	// ErrClosed is returned by operations on a store that has been closed.
	ErrClosed = errors.New("store: closed")
)

// Store is a blob-oriented key/value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Pinger is implemented by backends that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend string

	Dir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PGURL     string
	PGMaxConn int32
}

// Open builds the backend named by opts.Backend. An empty backend selects the
// in-memory store.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(opts.Dir)
	case BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
	case BackendPostgres:
		return NewPostgresStore(ctx, opts.PGURL, opts.PGMaxConn)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", opts.Backend)
	}
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("store: empty key")
	}
	return nil
}
