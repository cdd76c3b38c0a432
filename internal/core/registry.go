package core

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"depot-go/internal/model"
)

// Registry owns all mutations and reads of file and version state. It
// coordinates the metadata store and the blob store so the two never
// diverge on the happy path: bytes are always committed before
// metadata, so the worst partial failure is an orphaned blob, never a
// metadata pointer to bytes that do not exist.
type Registry struct {
	store  MetadataStore
	blobs  BlobStore
	logger Logger
	clock  Clock
	idgen  IDGenerator
	locks  pathLocks
}

// NewRegistry creates a Registry with the provided dependencies.
func NewRegistry(store MetadataStore, blobs BlobStore, logger Logger, clock Clock, idgen IDGenerator) *Registry {
	return &Registry{
		store:  store,
		blobs:  blobs,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
	}
}

// pathLocks serializes in-process writers per path. The unique
// (fileID, version) constraint in the store remains the correctness
// floor for writers this lock cannot see (other processes).
type pathLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *pathLocks) get(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	if _, ok := l.m[path]; !ok {
		l.m[path] = &sync.Mutex{}
	}
	return l.m[path]
}

// Write stores the bytes as a new version of path, creating the file
// record on first write. Returns the updated file record and the new
// version number.
//
// The blob is stored first; only then is metadata committed. A blob
// write failure aborts with no metadata change. Version-record
// uniqueness conflicts from concurrent writers are treated as
// already-correct and skipped rather than failing the write.
func (r *Registry) Write(path string, data io.Reader, size int64, mimeType, userID string) (*model.FileRecord, int64, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, 0, err
	}
	if normalized == "" {
		return nil, 0, fmt.Errorf("path is required: %w", ErrValidation)
	}
	if userID == "" {
		return nil, 0, fmt.Errorf("user is required: %w", ErrValidation)
	}

	key, err := r.blobs.Put(data, size)
	if err != nil {
		return nil, 0, fmt.Errorf("storing blob: %v: %w", err, ErrStorage)
	}

	lock := r.locks.get(normalized)
	lock.Lock()
	defer lock.Unlock()

	now := r.clock.Now()

	file, err := r.store.FindFileByPath(normalized)
	if err != nil {
		return nil, 0, fmt.Errorf("finding file: %w", err)
	}

	if file == nil {
		file = &model.FileRecord{
			ID:             r.idgen.New(),
			Name:           BaseName(normalized),
			Path:           normalized,
			Size:           size,
			MimeType:       mimeType,
			StorageKey:     key,
			OwnerID:        userID,
			CurrentVersion: 1,
			TotalVersions:  1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		initial := &model.VersionRecord{
			ID:         r.idgen.New(),
			FileID:     file.ID,
			Version:    1,
			Path:       normalized,
			Size:       size,
			MimeType:   mimeType,
			StorageKey: key,
			CreatedBy:  userID,
			CreatedAt:  now,
		}
		if err := r.store.CreateFileWithVersion(file, initial); err != nil {
			return nil, 0, fmt.Errorf("creating file: %w", err)
		}
		r.logger.Info("file created", "path", normalized, "version", 1)
		return file, 1, nil
	}

	// Next version is max(latest recorded, current pointer) + 1. The
	// pointer can lag the records (after rollback) or lead them (if a
	// snapshot was lost), so neither alone is safe against regression
	// or collision.
	latest, err := r.store.LatestVersionNumber(file.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("finding latest version: %w", err)
	}
	next := latest + 1
	if file.CurrentVersion >= latest {
		next = file.CurrentVersion + 1
	}

	// Snapshot the state being superseded under its own version number.
	// After a clean history that record already exists, so a uniqueness
	// conflict here is the expected case, not an error.
	snapshot := &model.VersionRecord{
		ID:         r.idgen.New(),
		FileID:     file.ID,
		Version:    file.CurrentVersion,
		Path:       file.Path,
		Size:       file.Size,
		MimeType:   file.MimeType,
		StorageKey: file.StorageKey,
		CreatedBy:  file.OwnerID,
		Metadata:   file.Metadata.Clone(),
		CreatedAt:  now,
	}
	if err := r.store.CreateVersion(snapshot); err != nil {
		if !errors.Is(err, ErrConflict) {
			return nil, 0, fmt.Errorf("snapshotting version %d: %w", snapshot.Version, err)
		}
		r.logger.Debug("version record already exists", "path", normalized, "version", snapshot.Version)
	}

	// Record the new version so the current pointer always has a
	// backing version record.
	created := &model.VersionRecord{
		ID:         r.idgen.New(),
		FileID:     file.ID,
		Version:    next,
		Path:       normalized,
		Size:       size,
		MimeType:   mimeType,
		StorageKey: key,
		CreatedBy:  userID,
		Metadata:   file.Metadata.Clone(),
		CreatedAt:  now,
	}
	if err := r.store.CreateVersion(created); err != nil {
		if !errors.Is(err, ErrConflict) {
			return nil, 0, fmt.Errorf("creating version %d: %w", next, err)
		}
		r.logger.Debug("version record already exists", "path", normalized, "version", next)
	}

	file.Size = size
	file.MimeType = mimeType
	file.StorageKey = key
	file.CurrentVersion = next
	file.TotalVersions = next
	file.Touch(now)
	if err := r.store.UpdateFileCurrent(file); err != nil {
		return nil, 0, fmt.Errorf("updating file: %w", err)
	}

	r.logger.Info("file version created", "path", normalized, "version", next)
	return file, next, nil
}

// Read streams the current version's bytes to w and returns the file
// record, so callers know the size and MIME type of what they got.
func (r *Registry) Read(path string, w io.Writer) (*model.FileRecord, error) {
	file, err := r.getFile(path)
	if err != nil {
		return nil, err
	}
	if err := r.blobs.Get(file.StorageKey, w); err != nil {
		return nil, fmt.Errorf("reading blob: %v: %w", err, ErrStorage)
	}
	return file, nil
}

// GetFile returns the file record for path.
func (r *Registry) GetFile(path string) (*model.FileRecord, error) {
	return r.getFile(path)
}

// GetVersions returns all versions of path, newest first.
func (r *Registry) GetVersions(path string) ([]*model.VersionRecord, error) {
	file, err := r.getFile(path)
	if err != nil {
		return nil, err
	}
	versions, err := r.store.FindVersionsForFile(file.ID)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return versions, nil
}

// GetVersion returns one version of path.
func (r *Registry) GetVersion(path string, version int64) (*model.VersionRecord, error) {
	file, err := r.getFile(path)
	if err != nil {
		return nil, err
	}
	ver, err := r.store.FindVersion(file.ID, version)
	if err != nil {
		return nil, fmt.Errorf("finding version: %w", err)
	}
	if ver == nil {
		return nil, fmt.Errorf("version %d of %s: %w", version, file.Path, ErrNotFound)
	}
	return ver, nil
}

// ReadVersion streams a specific version's bytes to w.
func (r *Registry) ReadVersion(path string, version int64, w io.Writer) (*model.VersionRecord, error) {
	ver, err := r.GetVersion(path, version)
	if err != nil {
		return nil, err
	}
	if err := r.blobs.Get(ver.StorageKey, w); err != nil {
		return nil, fmt.Errorf("reading blob: %v: %w", err, ErrStorage)
	}
	return ver, nil
}

// Rollback repoints the file at an earlier version. TotalVersions is
// untouched: rollback moves the current pointer, it does not consume a
// version slot or destroy intervening history.
func (r *Registry) Rollback(path string, targetVersion int64, userID string) (*model.FileRecord, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}

	lock := r.locks.get(normalized)
	lock.Lock()
	defer lock.Unlock()

	file, err := r.getFile(normalized)
	if err != nil {
		return nil, err
	}
	ver, err := r.store.FindVersion(file.ID, targetVersion)
	if err != nil {
		return nil, fmt.Errorf("finding version: %w", err)
	}
	if ver == nil {
		return nil, fmt.Errorf("version %d of %s: %w", targetVersion, file.Path, ErrNotFound)
	}

	oldKey := file.StorageKey

	file.Size = ver.Size
	file.MimeType = ver.MimeType
	file.StorageKey = ver.StorageKey
	file.CurrentVersion = targetVersion
	file.Touch(r.clock.Now())
	if err := r.store.UpdateFileCurrent(file); err != nil {
		return nil, fmt.Errorf("updating file: %w", err)
	}

	// Clean up the superseded blob only if no version record still
	// references it. Metadata is authoritative: a failed delete leaves
	// an orphan blob, which is acceptable, so it is logged and
	// swallowed.
	if oldKey != ver.StorageKey {
		refs, err := r.store.CountVersionsByStorageKey(oldKey)
		if err != nil {
			r.logger.Warn("checking blob references", "key", oldKey, "error", err)
		} else if refs == 0 {
			if err := r.blobs.Delete(oldKey); err != nil {
				r.logger.Warn("deleting superseded blob", "key", oldKey, "error", err)
			}
		}
	}

	r.logger.Info("file rolled back", "path", file.Path, "version", targetVersion)
	return file, nil
}

// DeleteVersion removes one non-current version and its bytes. The
// active version can never be deleted directly; roll back first. The
// blob is deleted before the record so a freed key is never left
// referenced; the reverse drift (a record with no blob) is repaired by
// the reconciler at file granularity.
func (r *Registry) DeleteVersion(path string, version int64, userID string) error {
	normalized, err := NormalizePath(path)
	if err != nil {
		return err
	}

	lock := r.locks.get(normalized)
	lock.Lock()
	defer lock.Unlock()

	file, err := r.getFile(normalized)
	if err != nil {
		return err
	}
	ver, err := r.store.FindVersion(file.ID, version)
	if err != nil {
		return fmt.Errorf("finding version: %w", err)
	}
	if ver == nil {
		return fmt.Errorf("version %d of %s: %w", version, file.Path, ErrNotFound)
	}
	if ver.Version == file.CurrentVersion {
		return fmt.Errorf("cannot delete current version %d of %s: %w", version, file.Path, ErrConflict)
	}

	if err := r.blobs.Delete(ver.StorageKey); err != nil {
		return fmt.Errorf("deleting blob: %v: %w", err, ErrStorage)
	}
	if err := r.store.DeleteVersion(file.ID, ver.Version); err != nil {
		return fmt.Errorf("deleting version record: %w", err)
	}

	r.logger.Info("version deleted", "path", file.Path, "version", version)
	return nil
}

// DeleteFile removes every version's blob and record, then the file
// record. A failure mid-loop leaves the file and remaining versions in
// place; the caller must retry. No two-phase guarantee is provided.
func (r *Registry) DeleteFile(path string, userID string) error {
	normalized, err := NormalizePath(path)
	if err != nil {
		return err
	}

	lock := r.locks.get(normalized)
	lock.Lock()
	defer lock.Unlock()

	file, err := r.getFile(normalized)
	if err != nil {
		return err
	}
	versions, err := r.store.FindVersionsForFile(file.ID)
	if err != nil {
		return fmt.Errorf("listing versions: %w", err)
	}

	for _, ver := range versions {
		if err := r.blobs.Delete(ver.StorageKey); err != nil {
			return fmt.Errorf("deleting blob for version %d: %v: %w", ver.Version, err, ErrStorage)
		}
		if err := r.store.DeleteVersion(file.ID, ver.Version); err != nil {
			return fmt.Errorf("deleting version %d: %w", ver.Version, err)
		}
	}

	if err := r.store.DeleteFile(file.ID); err != nil {
		return fmt.Errorf("deleting file record: %w", err)
	}

	r.logger.Info("file deleted", "path", file.Path, "versions", len(versions))
	return nil
}

// UpdateMetadata replaces the file's metadata mapping wholesale.
func (r *Registry) UpdateMetadata(path string, metadata model.Metadata, userID string) (*model.FileRecord, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}

	lock := r.locks.get(normalized)
	lock.Lock()
	defer lock.Unlock()

	file, err := r.getFile(normalized)
	if err != nil {
		return nil, err
	}
	file.Metadata = metadata.Clone()
	file.Touch(r.clock.Now())
	if err := r.store.UpdateFileMetadata(file); err != nil {
		return nil, fmt.Errorf("updating metadata: %w", err)
	}
	return file, nil
}

// FindByMetadata returns the owner's files whose metadata contains
// every key/value pair of filter. Matching happens here, not in the
// storage engine, so the store needs no document-query support.
func (r *Registry) FindByMetadata(ownerID string, filter model.Metadata) ([]*model.FileRecord, error) {
	files, err := r.store.FindFilesByOwner(ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	if len(filter) == 0 {
		return files, nil
	}
	var matched []*model.FileRecord
	for _, f := range files {
		if metadataContains(f.Metadata, filter) {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

func metadataContains(md, filter model.Metadata) bool {
	for k, want := range filter {
		got, ok := md[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func (r *Registry) getFile(path string) (*model.FileRecord, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	file, err := r.store.FindFileByPath(normalized)
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	if file == nil {
		return nil, fmt.Errorf("file %s: %w", normalized, ErrNotFound)
	}
	return file, nil
}
