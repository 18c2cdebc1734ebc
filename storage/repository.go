// Package storage provides the storage abstraction layer for bot records.
package storage

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for keyed record storage. Records are
// grouped by type and addressed by id; values are opaque JSON bytes. Each
// call is a single atomic operation.
type Repository interface {
	Put(recordType string, recordID string, data []byte) error
	Get(recordType string, recordID string) ([]byte, error)
	Delete(recordType string, recordID string) error
	List(recordType string) ([]string, error)
}
