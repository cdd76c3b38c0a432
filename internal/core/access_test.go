package core_test

import (
	"errors"
	"testing"
	"time"

	"depot-go/internal/core"
	"depot-go/internal/database"
	"depot-go/internal/model"
	"depot-go/internal/testutil"
)

func newTestAccessControl(t *testing.T) (*core.AccessControl, *database.SQLiteStore) {
	t.Helper()
	store := testutil.NewTestStore(t)
	ac := core.NewAccessControl(store, store, core.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	return ac, store
}

func addUser(t *testing.T, store *database.SQLiteStore, id, email string) {
	t.Helper()
	err := store.CreateUser(&model.User{
		ID:        id,
		Email:     email,
		Name:      id,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", email, err)
	}
}

func TestAccessControl_Authorize(t *testing.T) {
	ac, store := newTestAccessControl(t)
	addUser(t, store, "u-alice", "alice@example.com")
	addUser(t, store, "u-bob", "bob@example.com")
	addUser(t, store, "u-carol", "carol@example.com")

	if _, err := ac.SetAccess("u-alice", "/private.txt", model.AccessPrivate, nil); err != nil {
		t.Fatalf("SetAccess() error = %v", err)
	}
	if _, err := ac.SetAccess("u-alice", "/public.txt", model.AccessPublic, nil); err != nil {
		t.Fatalf("SetAccess() error = %v", err)
	}
	if _, err := ac.SetAccess("u-alice", "/shared.txt", model.AccessShared, []core.GrantRequest{
		{Identity: "bob@example.com", Read: true, Write: true},
	}); err != nil {
		t.Fatalf("SetAccess() error = %v", err)
	}

	tests := []struct {
		name   string
		userID string
		path   string
		action model.Action
		want   bool
	}{
		{"no record denies", "u-alice", "/unclaimed.txt", model.ActionRead, false},
		{"owner reads private", "u-alice", "/private.txt", model.ActionRead, true},
		{"owner deletes private", "u-alice", "/private.txt", model.ActionDelete, true},
		{"stranger denied on private", "u-bob", "/private.txt", model.ActionRead, false},
		{"anyone reads public", "u-carol", "/public.txt", model.ActionRead, true},
		{"anyone writes public", "u-carol", "/public.txt", model.ActionWrite, true},
		{"anyone deletes public", "u-carol", "/public.txt", model.ActionDelete, true},
		{"grantee reads shared", "u-bob", "/shared.txt", model.ActionRead, true},
		{"grantee writes shared", "u-bob", "/shared.txt", model.ActionWrite, true},
		{"grantee denied ungranted action", "u-bob", "/shared.txt", model.ActionDelete, false},
		{"non-grantee denied on shared", "u-carol", "/shared.txt", model.ActionRead, false},
		{"owner bypasses shared grants", "u-alice", "/shared.txt", model.ActionDelete, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ac.Authorize(tt.userID, tt.path, tt.action)
			if err != nil {
				t.Fatalf("Authorize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Authorize(%s, %s, %s) = %v, want %v", tt.userID, tt.path, tt.action, got, tt.want)
			}
		})
	}
}

func TestAccessControl_Controlled(t *testing.T) {
	ac, _ := newTestAccessControl(t)

	got, err := ac.Controlled("/free.txt")
	if err != nil {
		t.Fatalf("Controlled() error = %v", err)
	}
	if got {
		t.Error("Controlled() = true for a path without a record")
	}

	if _, err := ac.SetAccess("u-alice", "/free.txt", model.AccessPrivate, nil); err != nil {
		t.Fatalf("SetAccess() error = %v", err)
	}
	got, err = ac.Controlled("/free.txt")
	if err != nil {
		t.Fatalf("Controlled() error = %v", err)
	}
	if !got {
		t.Error("Controlled() = false after SetAccess")
	}
}

func TestAccessControl_SetAccess(t *testing.T) {
	t.Run("invalid access type", func(t *testing.T) {
		ac, _ := newTestAccessControl(t)
		_, err := ac.SetAccess("u-alice", "/a.txt", "everyone", nil)
		if !errors.Is(err, core.ErrValidation) {
			t.Errorf("SetAccess() error = %v, want ErrValidation", err)
		}
	})

	t.Run("empty type defaults to private", func(t *testing.T) {
		ac, _ := newTestAccessControl(t)
		perm, err := ac.SetAccess("u-alice", "/a.txt", "", nil)
		if err != nil {
			t.Fatalf("SetAccess() error = %v", err)
		}
		if perm.AccessType != model.AccessPrivate {
			t.Errorf("AccessType = %s, want private", perm.AccessType)
		}
	})

	t.Run("only owner may change", func(t *testing.T) {
		ac, _ := newTestAccessControl(t)
		if _, err := ac.SetAccess("u-alice", "/a.txt", model.AccessPrivate, nil); err != nil {
			t.Fatalf("SetAccess() error = %v", err)
		}
		_, err := ac.SetAccess("u-bob", "/a.txt", model.AccessPublic, nil)
		if !errors.Is(err, core.ErrPermissionDenied) {
			t.Errorf("SetAccess() by non-owner error = %v, want ErrPermissionDenied", err)
		}
	})

	t.Run("unknown identities are dropped", func(t *testing.T) {
		ac, store := newTestAccessControl(t)
		addUser(t, store, "u-bob", "bob@example.com")

		perm, err := ac.SetAccess("u-alice", "/a.txt", model.AccessShared, []core.GrantRequest{
			{Identity: "bob@example.com", Read: true},
			{Identity: "nobody@example.com", Read: true, Write: true, Delete: true},
		})
		if err != nil {
			t.Fatalf("SetAccess() error = %v", err)
		}
		if len(perm.SharedWith) != 1 {
			t.Fatalf("got %d grants, want 1; unknown identity must be dropped silently", len(perm.SharedWith))
		}
		if perm.SharedWith[0].UserID != "u-bob" {
			t.Errorf("grant UserID = %s, want resolved u-bob", perm.SharedWith[0].UserID)
		}
	})

	t.Run("duplicate identities collapse to one grant", func(t *testing.T) {
		ac, store := newTestAccessControl(t)
		addUser(t, store, "u-bob", "bob@example.com")

		perm, err := ac.SetAccess("u-alice", "/a.txt", model.AccessShared, []core.GrantRequest{
			{Identity: "bob@example.com", Read: true},
			{Identity: "u-bob", Write: true},
		})
		if err != nil {
			t.Fatalf("SetAccess() error = %v", err)
		}
		if len(perm.SharedWith) != 1 {
			t.Errorf("got %d grants, want 1 per identity", len(perm.SharedWith))
		}
	})

	t.Run("reconfiguration replaces grants", func(t *testing.T) {
		ac, store := newTestAccessControl(t)
		addUser(t, store, "u-bob", "bob@example.com")
		addUser(t, store, "u-carol", "carol@example.com")

		if _, err := ac.SetAccess("u-alice", "/a.txt", model.AccessShared, []core.GrantRequest{
			{Identity: "u-bob", Read: true},
		}); err != nil {
			t.Fatalf("SetAccess() error = %v", err)
		}
		perm, err := ac.SetAccess("u-alice", "/a.txt", model.AccessShared, []core.GrantRequest{
			{Identity: "u-carol", Read: true},
		})
		if err != nil {
			t.Fatalf("SetAccess() error = %v", err)
		}
		if len(perm.SharedWith) != 1 || perm.SharedWith[0].UserID != "u-carol" {
			t.Errorf("grants = %+v, want only u-carol", perm.SharedWith)
		}
	})
}

func TestAccessControl_GetPermissions(t *testing.T) {
	ac, _ := newTestAccessControl(t)

	if _, err := ac.GetPermissions("u-alice", "/a.txt"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetPermissions() on unconfigured path error = %v, want ErrNotFound", err)
	}

	if _, err := ac.SetAccess("u-alice", "/a.txt", model.AccessPrivate, nil); err != nil {
		t.Fatalf("SetAccess() error = %v", err)
	}

	perm, err := ac.GetPermissions("u-alice", "/a.txt")
	if err != nil {
		t.Fatalf("GetPermissions() error = %v", err)
	}
	if perm.OwnerID != "u-alice" {
		t.Errorf("OwnerID = %s, want u-alice", perm.OwnerID)
	}

	if _, err := ac.GetPermissions("u-bob", "/a.txt"); !errors.Is(err, core.ErrPermissionDenied) {
		t.Errorf("GetPermissions() by non-owner error = %v, want ErrPermissionDenied", err)
	}
}

func TestAccessControl_Revoke(t *testing.T) {
	ac, store := newTestAccessControl(t)
	addUser(t, store, "u-bob", "bob@example.com")

	if _, err := ac.SetAccess("u-alice", "/a.txt", model.AccessShared, []core.GrantRequest{
		{Identity: "u-bob", Read: true, Write: true},
	}); err != nil {
		t.Fatalf("SetAccess() error = %v", err)
	}

	t.Run("only owner may revoke", func(t *testing.T) {
		_, err := ac.Revoke("u-bob", "/a.txt", "u-bob")
		if !errors.Is(err, core.ErrPermissionDenied) {
			t.Errorf("Revoke() by non-owner error = %v, want ErrPermissionDenied", err)
		}
	})

	t.Run("revoke by email removes the grant", func(t *testing.T) {
		perm, err := ac.Revoke("u-alice", "/a.txt", "bob@example.com")
		if err != nil {
			t.Fatalf("Revoke() error = %v", err)
		}
		if len(perm.SharedWith) != 0 {
			t.Errorf("grants remaining = %d, want 0", len(perm.SharedWith))
		}

		ok, err := ac.Authorize("u-bob", "/a.txt", model.ActionRead)
		if err != nil {
			t.Fatalf("Authorize() error = %v", err)
		}
		if ok {
			t.Error("Authorize() = true after revoke")
		}
	})

	t.Run("revoking an absent grant is a no-op", func(t *testing.T) {
		perm, err := ac.Revoke("u-alice", "/a.txt", "nobody@example.com")
		if err != nil {
			t.Fatalf("Revoke() error = %v", err)
		}
		if len(perm.SharedWith) != 0 {
			t.Errorf("grants = %d, want 0", len(perm.SharedWith))
		}
	})
}

func TestAccessControl_ListSharedWith(t *testing.T) {
	ac, store := newTestAccessControl(t)
	addUser(t, store, "u-bob", "bob@example.com")

	if _, err := ac.SetAccess("u-alice", "/a.txt", model.AccessShared, []core.GrantRequest{
		{Identity: "u-bob", Read: true},
	}); err != nil {
		t.Fatalf("SetAccess() error = %v", err)
	}
	if _, err := ac.SetAccess("u-alice", "/b.txt", model.AccessShared, []core.GrantRequest{
		{Identity: "u-bob", Read: true, Write: true},
	}); err != nil {
		t.Fatalf("SetAccess() error = %v", err)
	}
	if _, err := ac.SetAccess("u-alice", "/c.txt", model.AccessPrivate, nil); err != nil {
		t.Fatalf("SetAccess() error = %v", err)
	}

	perms, err := ac.ListSharedWith("u-bob")
	if err != nil {
		t.Fatalf("ListSharedWith() error = %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("got %d permissions, want 2", len(perms))
	}
	if perms[0].Path != "/a.txt" || perms[1].Path != "/b.txt" {
		t.Errorf("paths = %s, %s; want /a.txt, /b.txt", perms[0].Path, perms[1].Path)
	}
}
