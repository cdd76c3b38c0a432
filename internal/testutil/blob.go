package testutil

import (
	"depot-go/internal/blob"
)

// NewTestBlobStore creates a new in-memory blob store for testing.
func NewTestBlobStore() *blob.MemoryStore {
	return blob.NewMemoryStore(NewStubIDGenerator())
}
