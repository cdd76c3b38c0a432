package core_test

import (
	"errors"
	"testing"

	"depot-go/internal/core"
	"depot-go/internal/testutil"
)

func TestReconciler_ReconcileOwner(t *testing.T) {
	store := testutil.NewTestStore(t)
	blobs := testutil.NewTestBlobStore()
	reg := core.NewRegistry(store, blobs, core.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	rec := core.NewReconciler(store, blobs, core.NewNopLogger())

	write(t, reg, "/docs/healthy.txt", "still here", "alice")
	lost, _ := write(t, reg, "/docs/lost.txt", "going away", "alice")
	write(t, reg, "/docs/other.txt", "bob's file", "bob")

	// Simulate out-of-band blob loss.
	blobs.Drop(lost.StorageKey)

	purged, err := rec.ReconcileOwner("alice")
	if err != nil {
		t.Fatalf("ReconcileOwner() error = %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	// The lost file's record and versions are gone.
	if _, err := reg.GetFile("/docs/lost.txt"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetFile(lost) error = %v, want ErrNotFound", err)
	}

	// The healthy file and the other owner's file survive.
	if _, err := reg.GetFile("/docs/healthy.txt"); err != nil {
		t.Errorf("GetFile(healthy) error = %v", err)
	}
	if _, err := reg.GetFile("/docs/other.txt"); err != nil {
		t.Errorf("GetFile(other) error = %v", err)
	}
}

func TestReconciler_ReconcileOwner_nothingToDo(t *testing.T) {
	store := testutil.NewTestStore(t)
	blobs := testutil.NewTestBlobStore()
	reg := core.NewRegistry(store, blobs, core.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	rec := core.NewReconciler(store, blobs, core.NewNopLogger())

	write(t, reg, "/docs/a.txt", "fine", "alice")

	purged, err := rec.ReconcileOwner("alice")
	if err != nil {
		t.Fatalf("ReconcileOwner() error = %v", err)
	}
	if purged != 0 {
		t.Errorf("purged = %d, want 0", purged)
	}
}

func TestReconciler_ForceRemove(t *testing.T) {
	store := testutil.NewTestStore(t)
	blobs := testutil.NewTestBlobStore()
	reg := core.NewRegistry(store, blobs, core.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	rec := core.NewReconciler(store, blobs, core.NewNopLogger())

	write(t, reg, "/docs/doomed.txt", "one", "alice")
	write(t, reg, "/docs/doomed.txt", "two", "alice")
	write(t, reg, "/docs/keep.txt", "keep", "alice")

	if err := rec.ForceRemove("/docs/doomed.txt"); err != nil {
		t.Fatalf("ForceRemove() error = %v", err)
	}

	if _, err := reg.GetFile("/docs/doomed.txt"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetFile(doomed) error = %v, want ErrNotFound", err)
	}
	if blobs.Len() != 1 {
		t.Errorf("blob count = %d, want only keep.txt's blob", blobs.Len())
	}
	if _, err := reg.GetFile("/docs/keep.txt"); err != nil {
		t.Errorf("GetFile(keep) error = %v", err)
	}
}

func TestReconciler_ForceRemove_missingRecord(t *testing.T) {
	store := testutil.NewTestStore(t)
	blobs := testutil.NewTestBlobStore()
	rec := core.NewReconciler(store, blobs, core.NewNopLogger())

	if err := rec.ForceRemove("/never/existed.txt"); err != nil {
		t.Errorf("ForceRemove() on absent path error = %v, want nil", err)
	}
}
