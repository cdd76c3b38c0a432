package blob

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"depot-go/internal/core"
)

// MemoryStore is an in-memory implementation of the core.BlobStore
// interface, useful for tests and throwaway deployments.
// Safe for concurrent use.
type MemoryStore struct {
	blobs map[string][]byte // key -> bytes
	idgen core.IDGenerator
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore(idgen core.IDGenerator) *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
		idgen: idgen,
	}
}

// Put stores the bytes under a freshly generated key.
func (m *MemoryStore) Put(r io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read blob: %w", err)
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	key := m.idgen.New()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	return key, nil
}

// Get retrieves the blob for key and writes it to w.
func (m *MemoryStore) Get(key string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[key]
	if !ok {
		return fmt.Errorf("blob not found: %s", key)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	return nil
}

// Delete removes the blob for key. Deleting an absent key succeeds.
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Exists reports whether a blob is present for key.
func (m *MemoryStore) Exists(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup() error {
	return nil
}

// Drop removes a blob without going through Delete, simulating
// out-of-band loss. Test helper.
func (m *MemoryStore) Drop(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
}

// Len returns the number of stored blobs. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Compile-time check that MemoryStore implements core.BlobStore.
var _ core.BlobStore = (*MemoryStore)(nil)
