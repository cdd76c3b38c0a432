package blob

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// seqIDGen returns sequential keys: "key-1", "key-2", etc.
// Safe for concurrent use.
type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("key-%d", g.n)
}

func TestFileSystemStore_PutGet(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir(), &seqIDGen{})
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	content := "hello blob store"
	key, err := store.Put(strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if key == "" {
		t.Fatal("Put() returned empty key")
	}

	var buf bytes.Buffer
	if err := store.Get(key, &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != content {
		t.Errorf("Get() = %q, want %q", buf.String(), content)
	}
}

func TestFileSystemStore_Put_sizeMismatch(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileSystemStore(root, &seqIDGen{})
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	_, err = store.Put(strings.NewReader("short"), 100)
	if err == nil {
		t.Fatal("Put() with wrong size succeeded, want error")
	}

	// No partial state: neither blob nor temp file left behind.
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("blob root has %d entries after failed Put, want 0", len(entries))
	}
}

func TestFileSystemStore_Get_missing(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir(), &seqIDGen{})
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	var buf bytes.Buffer
	if err := store.Get("no-such-key", &buf); err == nil {
		t.Error("Get() on missing key succeeded, want error")
	}
}

func TestFileSystemStore_Delete(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir(), &seqIDGen{})
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	key, err := store.Put(strings.NewReader("bye"), 3)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := store.Delete(key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	exists, err := store.Exists(key)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Error("Exists() = true after delete")
	}

	// Deleting an absent key is not an error.
	if err := store.Delete(key); err != nil {
		t.Errorf("Delete() of absent key error = %v, want nil", err)
	}
}

func TestFileSystemStore_Exists(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir(), &seqIDGen{})
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	key, err := store.Put(strings.NewReader("x"), 1)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	exists, err := store.Exists(key)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Error("Exists() = false for stored blob")
	}

	exists, err = store.Exists("unknown")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Error("Exists() = true for unknown key")
	}
}

func TestFileSystemStore_ValidateSetup(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileSystemStore(root, &seqIDGen{})
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	if err := store.ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}

	// A root that is a regular file fails validation.
	filePath := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(filePath, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	bad := &FileSystemStore{root: filePath, idgen: &seqIDGen{}}
	if err := bad.ValidateSetup(); err == nil {
		t.Error("ValidateSetup() on a file root succeeded, want error")
	}
}
