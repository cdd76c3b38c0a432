package core

import "io"

// BlobStore is the opaque byte storage the registry writes through.
// Keys are generated by the store, globally unique and never reused;
// the core never parses or constructs them.
//
// All operations use io.Reader/io.Writer for streaming so large
// payloads never have to fit in memory.
type BlobStore interface {
	// Put stores the bytes read from r and returns a fresh storage key.
	// size is the number of bytes that will be read from r.
	Put(r io.Reader, size int64) (string, error)

	// Get retrieves the blob for key and writes it to w.
	Get(key string, w io.Writer) error

	// Delete removes the blob for key. Idempotent: deleting an absent
	// key is not an error.
	Delete(key string) error

	// Exists reports whether a blob is physically present for key.
	Exists(key string) (bool, error)

	// ValidateSetup verifies the backend is accessible and configured.
	ValidateSetup() error
}
