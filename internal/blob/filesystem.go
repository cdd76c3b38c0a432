package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"depot-go/internal/core"
)

// FileSystemStore is a filesystem-backed implementation of the
// core.BlobStore interface. Blobs live as flat files under a root
// directory injected at construction, named by their storage key:
//
//	<root>/
//	  <key>     (blob files, named by generated key)
//
// The root is the only filesystem knowledge in the system; the core
// deals exclusively in opaque keys.
type FileSystemStore struct {
	root  string
	idgen core.IDGenerator
}

// NewFileSystemStore creates a filesystem blob store rooted at the
// given directory, creating it if needed.
func NewFileSystemStore(root string, idgen core.IDGenerator) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FileSystemStore{root: root, idgen: idgen}, nil
}

// Put stores the bytes under a freshly generated key using an atomic
// write (temp file + rename).
func (s *FileSystemStore) Put(r io.Reader, size int64) (string, error) {
	key := s.idgen.New()
	destPath := filepath.Join(s.root, key)

	tmpFile, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return key, nil
}

// Get retrieves the blob for key and writes it to w.
func (s *FileSystemStore) Get(key string, w io.Writer) error {
	f, err := os.Open(filepath.Join(s.root, key))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("blob not found: %s", key)
		}
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}
	return nil
}

// Delete removes the blob for key. Deleting an absent key succeeds.
func (s *FileSystemStore) Delete(key string) error {
	if err := os.Remove(filepath.Join(s.root, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Exists reports whether a blob file is present for key.
func (s *FileSystemStore) Exists(key string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.root, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	return true, nil
}

// ValidateSetup verifies that the root directory is accessible.
func (s *FileSystemStore) ValidateSetup() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("blob root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("blob root is not a directory: %s", s.root)
	}
	return nil
}

// Compile-time check that FileSystemStore implements core.BlobStore.
var _ core.BlobStore = (*FileSystemStore)(nil)
