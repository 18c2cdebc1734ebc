// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"sync"

	"github.com/ntdev/gatekeeper/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func (r *Repository) Put(recordType, recordID string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[recordType]; !ok {
		r.data[recordType] = make(map[string][]byte)
	}
	r.data[recordType][recordID] = append([]byte(nil), data...)
	return nil
}

func (r *Repository) Get(recordType, recordID string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records, ok := r.data[recordType]
	if !ok {
		return nil, storage.ErrNotFound
	}
	data, ok := records[recordID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (r *Repository) Delete(recordType, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, ok := r.data[recordType]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := records[recordID]; !ok {
		return storage.ErrNotFound
	}
	delete(records, recordID)
	return nil
}

func (r *Repository) List(recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id := range r.data[recordType] {
		ids = append(ids, id)
	}
	return ids, nil
}
