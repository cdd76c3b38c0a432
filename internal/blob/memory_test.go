package blob

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore(&seqIDGen{})

	key, err := store.Put(strings.NewReader("in memory"), 9)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	var buf bytes.Buffer
	if err := store.Get(key, &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != "in memory" {
		t.Errorf("Get() = %q, want %q", buf.String(), "in memory")
	}
}

func TestMemoryStore_Put_sizeMismatch(t *testing.T) {
	store := NewMemoryStore(&seqIDGen{})

	if _, err := store.Put(strings.NewReader("short"), 99); err == nil {
		t.Error("Put() with wrong size succeeded, want error")
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d after failed Put, want 0", store.Len())
	}
}

func TestMemoryStore_DeleteExists(t *testing.T) {
	store := NewMemoryStore(&seqIDGen{})

	key, err := store.Put(strings.NewReader("x"), 1)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	exists, _ := store.Exists(key)
	if !exists {
		t.Error("Exists() = false for stored blob")
	}

	if err := store.Delete(key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	exists, _ = store.Exists(key)
	if exists {
		t.Error("Exists() = true after delete")
	}

	if err := store.Delete(key); err != nil {
		t.Errorf("Delete() of absent key error = %v, want nil", err)
	}
}

func TestMemoryStore_concurrent(t *testing.T) {
	store := NewMemoryStore(&seqIDGen{})

	var mu sync.Mutex
	var keys []string

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := store.Put(strings.NewReader("data"), 4)
			if err != nil {
				t.Errorf("Put() error = %v", err)
				return
			}
			mu.Lock()
			keys = append(keys, key)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if store.Len() != 16 {
		t.Errorf("Len() = %d, want 16", store.Len())
	}
	for _, key := range keys {
		var buf bytes.Buffer
		if err := store.Get(key, &buf); err != nil {
			t.Errorf("Get(%s) error = %v", key, err)
		}
	}
}
