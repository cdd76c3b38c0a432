package core

import (
	"fmt"
)

// Reconciler repairs drift between metadata records and the physical
// blob store. It runs opportunistically before read-heavy operations,
// not on a schedule. Physical absence is authoritative over metadata:
// a file whose current blob is gone is purged, versions first.
type Reconciler struct {
	store  MetadataStore
	blobs  BlobStore
	logger Logger
}

// NewReconciler creates a Reconciler with the provided dependencies.
func NewReconciler(store MetadataStore, blobs BlobStore, logger Logger) *Reconciler {
	return &Reconciler{store: store, blobs: blobs, logger: logger}
}

// ReconcileOwner checks every file record owned by ownerID against the
// blob store and removes records whose current blob no longer exists.
// Individual repair failures are logged and skipped; the pass is
// best-effort and returns the number of records purged.
func (r *Reconciler) ReconcileOwner(ownerID string) (int, error) {
	files, err := r.store.FindFilesByOwner(ownerID)
	if err != nil {
		return 0, fmt.Errorf("listing files: %w", err)
	}

	purged := 0
	for _, file := range files {
		exists, err := r.blobs.Exists(file.StorageKey)
		if err != nil {
			r.logger.Warn("checking blob existence", "path", file.Path, "key", file.StorageKey, "error", err)
			continue
		}
		if exists {
			continue
		}

		r.logger.Info("purging orphaned record", "path", file.Path, "key", file.StorageKey)
		if err := r.store.DeleteVersionsForFile(file.ID); err != nil {
			r.logger.Warn("deleting orphaned versions", "path", file.Path, "error", err)
			continue
		}
		if err := r.store.DeleteFile(file.ID); err != nil {
			r.logger.Warn("deleting orphaned file record", "path", file.Path, "error", err)
			continue
		}
		purged++
	}

	if purged > 0 {
		r.logger.Info("reconciliation complete", "owner", ownerID, "purged", purged)
	}
	return purged, nil
}

// ForceRemove unconditionally purges a path: every version record, the
// file record, and best-effort removal of all referenced blobs, with no
// ownership or existence checks. This bypasses the normal deletion
// authorization flow entirely; the calling layer must gate it behind
// explicit administrative intent. A missing record is not an error.
func (r *Reconciler) ForceRemove(path string) error {
	normalized, err := NormalizePath(path)
	if err != nil {
		return err
	}

	file, err := r.store.FindFileByPath(normalized)
	if err != nil {
		return fmt.Errorf("finding file: %w", err)
	}
	if file == nil {
		r.logger.Info("force remove: no record", "path", normalized)
		return nil
	}

	versions, err := r.store.FindVersionsForFile(file.ID)
	if err != nil {
		return fmt.Errorf("listing versions: %w", err)
	}

	keys := make(map[string]struct{}, len(versions)+1)
	keys[file.StorageKey] = struct{}{}
	for _, v := range versions {
		keys[v.StorageKey] = struct{}{}
	}

	if err := r.store.DeleteVersionsForFile(file.ID); err != nil {
		return fmt.Errorf("deleting versions: %w", err)
	}
	if err := r.store.DeleteFile(file.ID); err != nil {
		return fmt.Errorf("deleting file record: %w", err)
	}

	for key := range keys {
		if err := r.blobs.Delete(key); err != nil {
			r.logger.Warn("deleting blob", "key", key, "error", err)
		}
	}

	r.logger.Info("force removed", "path", normalized, "versions", len(versions))
	return nil
}
