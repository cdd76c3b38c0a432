package core

import "depot-go/internal/model"

// MetadataStore is the metadata persistence layer behind the engines.
// Every method is a short transaction against the store; no method
// holds locks across calls. Lookups return (nil, nil) when the record
// does not exist so callers can distinguish absence from failure.
type MetadataStore interface {
	// File records

	// FindFileByPath returns the file record with an exact path match.
	FindFileByPath(path string) (*model.FileRecord, error)

	// FindFilesByOwner returns every file record owned by ownerID.
	FindFilesByOwner(ownerID string) ([]*model.FileRecord, error)

	// CreateFileWithVersion atomically inserts a new file record and
	// its initial version record in one transaction.
	CreateFileWithVersion(file *model.FileRecord, version *model.VersionRecord) error

	// UpdateFileCurrent persists the current-version fields of file:
	// size, MIME type, storage key, current/total version counters and
	// UpdatedAt.
	UpdateFileCurrent(file *model.FileRecord) error

	// UpdateFileMetadata replaces the file's metadata document
	// wholesale and refreshes UpdatedAt.
	UpdateFileMetadata(file *model.FileRecord) error

	// DeleteFile removes the file record. Version records are owned by
	// the file and must be removed by the caller first (or via
	// DeleteVersionsForFile).
	DeleteFile(fileID string) error

	// Version records

	// FindVersionsForFile returns all versions of a file, newest first.
	FindVersionsForFile(fileID string) ([]*model.VersionRecord, error)

	// FindVersion returns the version record for (fileID, version).
	FindVersion(fileID string, version int64) (*model.VersionRecord, error)

	// LatestVersionNumber returns the highest version number recorded
	// for the file, or 0 when it has no version records.
	LatestVersionNumber(fileID string) (int64, error)

	// CreateVersion inserts a version record. A duplicate
	// (fileID, version) pair fails with an error wrapping ErrConflict.
	CreateVersion(version *model.VersionRecord) error

	// DeleteVersion removes one version record.
	DeleteVersion(fileID string, version int64) error

	// DeleteVersionsForFile removes every version record of a file.
	DeleteVersionsForFile(fileID string) error

	// CountVersionsByStorageKey returns how many version records
	// reference the given storage key.
	CountVersionsByStorageKey(key string) (int64, error)

	// Permission records

	// FindPermissionByPath returns the permission record for a path,
	// including its shared grants.
	FindPermissionByPath(path string) (*model.PermissionRecord, error)

	// UpsertPermission inserts or replaces the permission record for
	// its path, including the full sharedWith set, in one transaction.
	UpsertPermission(perm *model.PermissionRecord) error

	// FindPermissionsSharedWith returns every permission record whose
	// sharedWith set contains userID.
	FindPermissionsSharedWith(userID string) ([]*model.PermissionRecord, error)

	// DeletePermissionByPath removes the permission record for a path,
	// if any.
	DeletePermissionByPath(path string) error

	// Users

	// CreateUser inserts a user.
	CreateUser(user *model.User) error

	// FindUserByID returns the user with the given ID.
	FindUserByID(id string) (*model.User, error)

	// FindUserByEmail returns the user with the given email.
	FindUserByEmail(email string) (*model.User, error)

	// ListUsers returns all users ordered by creation time.
	ListUsers() ([]*model.User, error)

	// Close closes the underlying connection.
	Close() error
}

// IdentityResolver turns an external identity reference (a user ID or
// an email address) into a stable user ID. Resolution failures return
// an error wrapping ErrNotFound.
type IdentityResolver interface {
	ResolveIdentity(ref string) (string, error)
}
