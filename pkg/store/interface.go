package store

import "errors"

// ErrNotFound is returned by Get when no value exists under the key.
var ErrNotFound = errors.New("key not found")

// KeyValue defines the interface for the opaque blob storage the application
// state is persisted to. Callers treat every failure as a loss of durability
// only, never of correctness.
type KeyValue interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error

	Close() error
}
