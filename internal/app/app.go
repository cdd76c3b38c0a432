package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"depot-go/internal/blob"
	"depot-go/internal/config"
	"depot-go/internal/core"
	"depot-go/internal/database"
	"depot-go/internal/database/migrations"
	"depot-go/internal/model"
)

// App is the application layer between the CLI and the engines. It
// constructs all dependencies from config, composes access checks with
// registry operations, and manages the store lifecycle on Close.
//
// Identity is assumed already resolved: every operation takes the
// stable user ID of the caller.
type App struct {
	cfg        *config.Config
	store      *database.SQLiteStore
	blobs      core.BlobStore
	registry   *core.Registry
	access     *core.AccessControl
	reconciler *core.Reconciler
	logFile    *os.File
	logger     core.Logger
	clock      core.Clock
	idgen      core.IDGenerator
}

// NewApp creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "Put", "Rollback") and
// tags every log line. The caller must call Close when done.
func NewApp(cfg *config.Config, operation string) (*App, error) {
	idgen := core.UUIDGenerator{}

	blobs, err := blob.NewBlobStoreFromConfig(cfg.Blob, idgen)
	if err != nil {
		return nil, fmt.Errorf("creating blob store: %w", err)
	}
	if err := blobs.ValidateSetup(); err != nil {
		return nil, fmt.Errorf("validating blob store: %w", err)
	}

	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating metadata store: %w", err)
	}

	if err := migrations.MigrateUp(store.DB()); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID+"/"+operation)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	clock := core.RealClock{}
	return &App{
		cfg:        cfg,
		store:      store,
		blobs:      blobs,
		registry:   core.NewRegistry(store, blobs, logger, clock, idgen),
		access:     core.NewAccessControl(store, store, logger, clock, idgen),
		reconciler: core.NewReconciler(store, blobs, logger),
		logFile:    logFile,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
	}, nil
}

// Close releases the store connection and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = err
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// authorize checks that userID may perform action on path. Owners of
// the file record pass unconditionally; everyone else goes through the
// permission record.
func (a *App) authorize(userID, path string, action model.Action) error {
	file, err := a.registry.GetFile(path)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	if file != nil && file.OwnerID == userID {
		return nil
	}
	ok, err := a.access.Authorize(userID, path, action)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s may not %s %s: %w", userID, action, path, core.ErrPermissionDenied)
	}
	return nil
}

// Put stores a new version of path. A first write to an unclaimed,
// uncontrolled path is always allowed and makes the caller the file's
// owner; writes to controlled or existing paths require write access.
func (a *App) Put(path string, data io.Reader, size int64, mimeType, userID string) (*model.FileRecord, int64, error) {
	file, err := a.registry.GetFile(path)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, 0, err
	}

	if file != nil {
		if err := a.authorize(userID, path, model.ActionWrite); err != nil {
			return nil, 0, err
		}
	} else {
		controlled, err := a.access.Controlled(path)
		if err != nil {
			return nil, 0, err
		}
		if controlled {
			if err := a.authorize(userID, path, model.ActionWrite); err != nil {
				return nil, 0, err
			}
		}
	}

	return a.registry.Write(path, data, size, mimeType, userID)
}

// Get streams the current version of path to w.
func (a *App) Get(path string, w io.Writer, userID string) (*model.FileRecord, error) {
	if err := a.authorize(userID, path, model.ActionRead); err != nil {
		return nil, err
	}
	return a.registry.Read(path, w)
}

// Stat returns the file record for path.
func (a *App) Stat(path, userID string) (*model.FileRecord, error) {
	if err := a.authorize(userID, path, model.ActionRead); err != nil {
		return nil, err
	}
	return a.registry.GetFile(path)
}

// Remove deletes path with all its versions. The path's permission
// record, if any, is removed with it: a deleted file does not leave a
// stale grant behind.
func (a *App) Remove(path, userID string) error {
	if err := a.authorize(userID, path, model.ActionDelete); err != nil {
		return err
	}
	if err := a.registry.DeleteFile(path, userID); err != nil {
		return err
	}
	normalized, err := core.NormalizePath(path)
	if err != nil {
		return err
	}
	if err := a.store.DeletePermissionByPath(normalized); err != nil {
		a.logger.Warn("removing permission record", "path", normalized, "error", err)
	}
	return nil
}

// Versions lists all versions of path, newest first.
func (a *App) Versions(path, userID string) ([]*model.VersionRecord, error) {
	if err := a.authorize(userID, path, model.ActionRead); err != nil {
		return nil, err
	}
	return a.registry.GetVersions(path)
}

// GetVersion streams one version's bytes to w.
func (a *App) GetVersion(path string, version int64, w io.Writer, userID string) (*model.VersionRecord, error) {
	if err := a.authorize(userID, path, model.ActionRead); err != nil {
		return nil, err
	}
	return a.registry.ReadVersion(path, version, w)
}

// Rollback repoints path at an earlier version.
func (a *App) Rollback(path string, version int64, userID string) (*model.FileRecord, error) {
	if err := a.authorize(userID, path, model.ActionWrite); err != nil {
		return nil, err
	}
	return a.registry.Rollback(path, version, userID)
}

// RemoveVersion deletes one non-current version of path.
func (a *App) RemoveVersion(path string, version int64, userID string) error {
	if err := a.authorize(userID, path, model.ActionDelete); err != nil {
		return err
	}
	return a.registry.DeleteVersion(path, version, userID)
}

// SetMetadata replaces the metadata mapping of path.
func (a *App) SetMetadata(path string, metadata model.Metadata, userID string) (*model.FileRecord, error) {
	if err := a.authorize(userID, path, model.ActionWrite); err != nil {
		return nil, err
	}
	return a.registry.UpdateMetadata(path, metadata, userID)
}

// FindByMetadata returns the caller's files matching the filter.
func (a *App) FindByMetadata(userID string, filter model.Metadata) ([]*model.FileRecord, error) {
	return a.registry.FindByMetadata(userID, filter)
}

// List reconciles the caller's records against the blob store, then
// returns the surviving file records. Reconciliation before listing is
// the opportunistic repair pass; its failures don't block the listing.
func (a *App) List(userID string) ([]*model.FileRecord, error) {
	if _, err := a.reconciler.ReconcileOwner(userID); err != nil {
		a.logger.Warn("reconciliation failed", "owner", userID, "error", err)
	}
	return a.registry.FindByMetadata(userID, nil)
}

// Reconcile runs the repair pass for the caller's records and returns
// the number purged.
func (a *App) Reconcile(userID string) (int, error) {
	return a.reconciler.ReconcileOwner(userID)
}

// AdminPurge unconditionally removes a path, bypassing all
// authorization. The CLI gates this behind explicit confirmation.
func (a *App) AdminPurge(path string) error {
	return a.reconciler.ForceRemove(path)
}

// SetAccess configures sharing for a path.
func (a *App) SetAccess(userID, path string, accessType model.AccessType, grants []core.GrantRequest) (*model.PermissionRecord, error) {
	return a.access.SetAccess(userID, path, accessType, grants)
}

// GetPermissions returns the permission record for a path (owner-only).
func (a *App) GetPermissions(userID, path string) (*model.PermissionRecord, error) {
	return a.access.GetPermissions(userID, path)
}

// Revoke removes a sharing grant from a path.
func (a *App) Revoke(userID, path, targetIdentity string) (*model.PermissionRecord, error) {
	return a.access.Revoke(userID, path, targetIdentity)
}

// SharedWithMe lists paths shared with the caller.
func (a *App) SharedWithMe(userID string) ([]*model.PermissionRecord, error) {
	return a.access.ListSharedWith(userID)
}

// AddUser registers an identity so sharing grants can reference it.
func (a *App) AddUser(email, name string) (*model.User, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required: %w", core.ErrValidation)
	}
	user := &model.User{
		ID:        a.idgen.New(),
		Email:     email,
		Name:      name,
		CreatedAt: a.clock.Now(),
	}
	if err := a.store.CreateUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Users lists all registered identities.
func (a *App) Users() ([]*model.User, error) {
	return a.store.ListUsers()
}

// ResolveUser turns an identity reference (email or user ID) into a
// stable user ID.
func (a *App) ResolveUser(ref string) (string, error) {
	return a.store.ResolveIdentity(ref)
}
