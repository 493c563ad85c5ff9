package store

import "errors"

var ErrNotFound = errors.New("key not found")

type WriteOptions struct {
	ContentType string
	TTL         int64
}

// Store is a flat key/value store. Keys are grouped by prefix, e.g. "rules:".
// Get returns ErrNotFound (possibly wrapped) when the key is missing.
type Store interface {
	Name() string

	Get(key string) ([]byte, error)
	Set(key string, value []byte, options *WriteOptions) error

	Delete(key string) error
	DeleteAll(prefix string) error

	Exists(key string) (bool, error)

	// Scan visits keys with prefix in key order, skipping the first skip and stopping
	// after limit of them (0 means no limit).
	Scan(prefix string, skip int, limit int, fn func(key string, val []byte)) error
	Count(prefix string) int

	Close() error
}
