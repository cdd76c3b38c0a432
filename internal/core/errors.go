package core

import "errors"

// Sentinel errors for the failure classes the engines distinguish.
// Callers discriminate with errors.Is; everything else is wrapped
// context from the layer that failed.
var (
	// ErrNotFound: unknown path, version, user or permission record.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied: authorization failed. Never silently
	// downgraded; always surfaced to the caller.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConflict: invalid state transition, such as deleting the
	// active version, or a duplicate (file, version) pair.
	ErrConflict = errors.New("conflict")

	// ErrValidation: malformed input, e.g. an empty path or a
	// permission record without an owner.
	ErrValidation = errors.New("validation failed")

	// ErrStorage: the blob store failed. A storage failure during a
	// write aborts the operation with no metadata committed.
	ErrStorage = errors.New("storage failure")
)
