// Package gallery persists the list of saved images under a single key in a
// device-local (or shared) key-value backend.
package gallery

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrUnknownBackend = errors.New("unknown gallery backend")
	ErrBucketRequired = errors.New("gallery bucket is required for the s3 backend")
)

// Backend is a minimal byte-oriented key-value store.
type Backend interface {
	// Get returns ErrNotFound when the key has never been written.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

type BackendKind string

const (
	BackendSQLite BackendKind = "sqlite"
	BackendS3     BackendKind = "s3"
	BackendMemory BackendKind = "memory"
)

func ValidBackends() []BackendKind {
	return []BackendKind{BackendSQLite, BackendS3, BackendMemory}
}

type Options struct {
	Kind BackendKind
	// DBPath is the sqlite file; empty means DefaultDBPath.
	DBPath string
	Bucket string
	Prefix string
}

// OpenBackend builds the backend selected by opts.
func OpenBackend(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Kind {
	case BackendSQLite, "":
		if opts.DBPath == "" {
			return NewSQLiteBackend()
		}
		return NewSQLiteBackendWithPath(opts.DBPath)
	case BackendS3:
		if opts.Bucket == "" {
			return nil, ErrBucketRequired
		}
		return NewS3Backend(ctx, opts.Bucket, opts.Prefix)
	case BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("%w: %q (valid: %v)", ErrUnknownBackend, opts.Kind, ValidBackends())
	}
}
