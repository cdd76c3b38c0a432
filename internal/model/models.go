package model

import (
	"fmt"
	"time"
)

// AccessType is the per-path visibility policy consulted before
// individual grants.
type AccessType string

const (
	AccessPrivate AccessType = "private"
	AccessPublic  AccessType = "public"
	AccessShared  AccessType = "shared"
)

// Valid reports whether t is one of the known access types.
func (t AccessType) Valid() bool {
	switch t {
	case AccessPrivate, AccessPublic, AccessShared:
		return true
	}
	return false
}

// Action is a permission kind checked against a path.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// Metadata is a caller-controlled mapping of string keys to
// JSON-representable values. Stored as a JSON document; no reserved
// prefixes are enforced at this layer.
type Metadata map[string]any

// Clone returns a shallow copy of m. A nil map clones to nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FileRecord is the metadata row for one logical path. The size, MIME
// type and storage key always describe the *current* version.
type FileRecord struct {
	ID             string // UUID
	Name           string // Base name of the path
	Path           string // Normalized slash-separated path, unique
	Size           int64  // Size of the current version in bytes
	MimeType       string
	StorageKey     string // Opaque blob store key of the current version
	OwnerID        string // Immutable after creation
	CurrentVersion int64  // Version the record currently points to
	TotalVersions  int64  // Count of versions ever created, non-decreasing
	Metadata       Metadata
	CreatedAt      time.Time
	UpdatedAt      time.Time // Refreshed on every mutation
}

// Touch refreshes the record's UpdatedAt. Every mutating operation
// must call this before persisting.
func (f *FileRecord) Touch(now time.Time) {
	f.UpdatedAt = now
}

// VersionRecord is an immutable snapshot of a file's state. The pair
// (FileID, Version) is globally unique; the metadata store enforces it.
type VersionRecord struct {
	ID         string // UUID
	FileID     string // Owning FileRecord
	Version    int64  // Positive, unique per FileID
	Path       string
	Size       int64
	MimeType   string
	StorageKey string
	CreatedBy  string // Identity that produced this version
	Metadata   Metadata
	CreatedAt  time.Time
}

// SharedGrant is one sharedWith entry: an identity plus its
// read/write/delete flags.
type SharedGrant struct {
	UserID string
	Read   bool
	Write  bool
	Delete bool
}

// Allows reports whether the grant covers the given action.
func (g SharedGrant) Allows(action Action) bool {
	switch action {
	case ActionRead:
		return g.Read
	case ActionWrite:
		return g.Write
	case ActionDelete:
		return g.Delete
	}
	return false
}

// PermissionRecord governs access to one path. It is keyed by path, not
// by file identity: permissions may be provisioned for paths that have
// no FileRecord yet.
type PermissionRecord struct {
	ID         string // UUID
	Path       string // Unique
	OwnerID    string // Always present; a record without an owner is invalid
	AccessType AccessType
	SharedWith []SharedGrant // At most one entry per UserID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewPermissionRecord validates and builds a permission record. It
// replaces the storage-layer save hook of older designs: owner and path
// are checked here, once, before anything is persisted.
func NewPermissionRecord(id, path, ownerID string, accessType AccessType, now time.Time) (*PermissionRecord, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if ownerID == "" {
		return nil, fmt.Errorf("owner is required")
	}
	if accessType == "" {
		accessType = AccessPrivate
	}
	if !accessType.Valid() {
		return nil, fmt.Errorf("unknown access type: %s", accessType)
	}
	return &PermissionRecord{
		ID:         id,
		Path:       path,
		OwnerID:    ownerID,
		AccessType: accessType,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Grant returns the sharedWith entry for userID, or nil.
func (p *PermissionRecord) Grant(userID string) *SharedGrant {
	for i := range p.SharedWith {
		if p.SharedWith[i].UserID == userID {
			return &p.SharedWith[i]
		}
	}
	return nil
}

// Touch refreshes the record's UpdatedAt.
func (p *PermissionRecord) Touch(now time.Time) {
	p.UpdatedAt = now
}

// User is a known identity. Credential handling lives outside the core;
// users exist here only so sharing grants can be resolved.
type User struct {
	ID        string // UUID
	Email     string // Unique
	Name      string
	CreatedAt time.Time
}
