package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"

	"depot-go/internal/core"
	"depot-go/internal/model"
)

// SQLiteStore implements the core.MetadataStore and
// core.IdentityResolver interfaces using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite metadata store.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite connection with the
// PRAGMAs the store relies on. Exported for tools and tests that need
// a properly configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: is a separate empty database, so the
	// pool must never grow past one.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Foreign keys are OFF by default in SQLite.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Concurrent callers share one metadata store; wait for locks
	// instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// isUniqueViolation reports whether err is a SQLite unique or primary
// key constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func marshalMetadata(m model.Metadata) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(data), nil
}

func unmarshalMetadata(s string) (model.Metadata, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m model.Metadata
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return m, nil
}

// File records

const fileColumns = `id, name, path, size, mime_type, storage_key, owner_id,
	current_version, total_versions, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*model.FileRecord, error) {
	var f model.FileRecord
	var metadata string
	err := row.Scan(&f.ID, &f.Name, &f.Path, &f.Size, &f.MimeType, &f.StorageKey,
		&f.OwnerID, &f.CurrentVersion, &f.TotalVersions, &metadata, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.Metadata, err = unmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteStore) FindFileByPath(path string) (*model.FileRecord, error) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT `+fileColumns+` FROM files WHERE path = ?`, path)
	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file by path: %w", err)
	}
	return file, nil
}

func (s *SQLiteStore) FindFilesByOwner(ownerID string) ([]*model.FileRecord, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT `+fileColumns+` FROM files WHERE owner_id = ? ORDER BY path`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("finding files by owner: %w", err)
	}
	defer rows.Close()

	var files []*model.FileRecord
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating files: %w", err)
	}
	return files, nil
}

func (s *SQLiteStore) CreateFileWithVersion(file *model.FileRecord, version *model.VersionRecord) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	fileMeta, err := marshalMetadata(file.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.ID, file.Name, file.Path, file.Size, file.MimeType, file.StorageKey,
		file.OwnerID, file.CurrentVersion, file.TotalVersions, fileMeta,
		file.CreatedAt, file.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("file already exists at %s: %w", file.Path, core.ErrConflict)
		}
		return fmt.Errorf("inserting file: %w", err)
	}

	if err := insertVersion(ctx, tx, version); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateFileCurrent(file *model.FileRecord) error {
	_, err := s.db.ExecContext(context.Background(),
		`UPDATE files SET size = ?, mime_type = ?, storage_key = ?,
			current_version = ?, total_versions = ?, updated_at = ?
		 WHERE id = ?`,
		file.Size, file.MimeType, file.StorageKey,
		file.CurrentVersion, file.TotalVersions, file.UpdatedAt, file.ID)
	if err != nil {
		return fmt.Errorf("updating file current state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateFileMetadata(file *model.FileRecord) error {
	metadata, err := marshalMetadata(file.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(context.Background(),
		`UPDATE files SET metadata = ?, updated_at = ? WHERE id = ?`,
		metadata, file.UpdatedAt, file.ID)
	if err != nil {
		return fmt.Errorf("updating file metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteFile(fileID string) error {
	if _, err := s.db.ExecContext(context.Background(),
		`DELETE FROM files WHERE id = ?`, fileID); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// Version records

const versionColumns = `id, file_id, version, path, size, mime_type, storage_key,
	created_by, metadata, created_at`

func scanVersion(row rowScanner) (*model.VersionRecord, error) {
	var v model.VersionRecord
	var metadata string
	err := row.Scan(&v.ID, &v.FileID, &v.Version, &v.Path, &v.Size, &v.MimeType,
		&v.StorageKey, &v.CreatedBy, &metadata, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.Metadata, err = unmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLiteStore) FindVersionsForFile(fileID string) ([]*model.VersionRecord, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT `+versionColumns+` FROM file_versions WHERE file_id = ? ORDER BY version DESC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("finding versions: %w", err)
	}
	defer rows.Close()

	var versions []*model.VersionRecord
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating versions: %w", err)
	}
	return versions, nil
}

func (s *SQLiteStore) FindVersion(fileID string, version int64) (*model.VersionRecord, error) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT `+versionColumns+` FROM file_versions WHERE file_id = ? AND version = ?`,
		fileID, version)
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding version: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) LatestVersionNumber(fileID string) (int64, error) {
	var latest sql.NullInt64
	err := s.db.QueryRowContext(context.Background(),
		`SELECT MAX(version) FROM file_versions WHERE file_id = ?`, fileID).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("finding latest version: %w", err)
	}
	if !latest.Valid {
		return 0, nil
	}
	return latest.Int64, nil
}

func insertVersion(ctx context.Context, tx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, v *model.VersionRecord) error {
	metadata, err := marshalMetadata(v.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO file_versions (`+versionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.FileID, v.Version, v.Path, v.Size, v.MimeType, v.StorageKey,
		v.CreatedBy, metadata, v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("version %d already exists for file %s: %w", v.Version, v.FileID, core.ErrConflict)
		}
		return fmt.Errorf("inserting version: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateVersion(version *model.VersionRecord) error {
	return insertVersion(context.Background(), s.db, version)
}

func (s *SQLiteStore) DeleteVersion(fileID string, version int64) error {
	if _, err := s.db.ExecContext(context.Background(),
		`DELETE FROM file_versions WHERE file_id = ? AND version = ?`, fileID, version); err != nil {
		return fmt.Errorf("deleting version: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteVersionsForFile(fileID string) error {
	if _, err := s.db.ExecContext(context.Background(),
		`DELETE FROM file_versions WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("deleting versions: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountVersionsByStorageKey(key string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM file_versions WHERE storage_key = ?`, key).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting versions by storage key: %w", err)
	}
	return count, nil
}

// Permission records

func (s *SQLiteStore) FindPermissionByPath(path string) (*model.PermissionRecord, error) {
	var p model.PermissionRecord
	err := s.db.QueryRowContext(context.Background(),
		`SELECT id, path, owner_id, access_type, created_at, updated_at
		 FROM permissions WHERE path = ?`, path).
		Scan(&p.ID, &p.Path, &p.OwnerID, &p.AccessType, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding permission by path: %w", err)
	}

	grants, err := s.findGrants(p.ID)
	if err != nil {
		return nil, err
	}
	p.SharedWith = grants
	return &p, nil
}

func (s *SQLiteStore) findGrants(permissionID string) ([]model.SharedGrant, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT user_id, can_read, can_write, can_delete
		 FROM permission_grants WHERE permission_id = ? ORDER BY user_id`, permissionID)
	if err != nil {
		return nil, fmt.Errorf("finding grants: %w", err)
	}
	defer rows.Close()

	var grants []model.SharedGrant
	for rows.Next() {
		var g model.SharedGrant
		if err := rows.Scan(&g.UserID, &g.Read, &g.Write, &g.Delete); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grants: %w", err)
	}
	return grants, nil
}

func (s *SQLiteStore) UpsertPermission(perm *model.PermissionRecord) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO permissions (id, path, owner_id, access_type, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			owner_id = excluded.owner_id,
			access_type = excluded.access_type,
			updated_at = excluded.updated_at`,
		perm.ID, perm.Path, perm.OwnerID, perm.AccessType, perm.CreatedAt, perm.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting permission: %w", err)
	}

	// The sharedWith set is replaced wholesale; resolve the row ID in
	// case the upsert kept an earlier record's ID.
	var permID string
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM permissions WHERE path = ?`, perm.Path).Scan(&permID); err != nil {
		return fmt.Errorf("resolving permission id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM permission_grants WHERE permission_id = ?`, permID); err != nil {
		return fmt.Errorf("clearing grants: %w", err)
	}
	for _, g := range perm.SharedWith {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO permission_grants (permission_id, user_id, can_read, can_write, can_delete)
			 VALUES (?, ?, ?, ?, ?)`,
			permID, g.UserID, g.Read, g.Write, g.Delete)
		if err != nil {
			return fmt.Errorf("inserting grant for %s: %w", g.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	perm.ID = permID
	return nil
}

func (s *SQLiteStore) FindPermissionsSharedWith(userID string) ([]*model.PermissionRecord, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT p.id, p.path, p.owner_id, p.access_type, p.created_at, p.updated_at
		 FROM permissions p
		 JOIN permission_grants g ON g.permission_id = p.id
		 WHERE g.user_id = ?
		 ORDER BY p.path`, userID)
	if err != nil {
		return nil, fmt.Errorf("finding shared permissions: %w", err)
	}
	defer rows.Close()

	var perms []*model.PermissionRecord
	for rows.Next() {
		var p model.PermissionRecord
		if err := rows.Scan(&p.ID, &p.Path, &p.OwnerID, &p.AccessType, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning permission: %w", err)
		}
		perms = append(perms, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating permissions: %w", err)
	}

	for _, p := range perms {
		grants, err := s.findGrants(p.ID)
		if err != nil {
			return nil, err
		}
		p.SharedWith = grants
	}
	return perms, nil
}

func (s *SQLiteStore) DeletePermissionByPath(path string) error {
	if _, err := s.db.ExecContext(context.Background(),
		`DELETE FROM permissions WHERE path = ?`, path); err != nil {
		return fmt.Errorf("deleting permission: %w", err)
	}
	return nil
}

// Users

func (s *SQLiteStore) CreateUser(user *model.User) error {
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s already exists: %w", user.Email, core.ErrConflict)
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindUserByID(id string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(context.Background(),
		`SELECT id, email, name, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding user by id: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) FindUserByEmail(email string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(context.Background(),
		`SELECT id, email, name, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding user by email: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) ListUsers() ([]*model.User, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT id, email, name, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// ResolveIdentity resolves an external identity reference to a user ID.
// Email references are tried first, then raw IDs.
func (s *SQLiteStore) ResolveIdentity(ref string) (string, error) {
	user, err := s.FindUserByEmail(ref)
	if err != nil {
		return "", err
	}
	if user == nil {
		user, err = s.FindUserByID(ref)
		if err != nil {
			return "", err
		}
	}
	if user == nil {
		return "", fmt.Errorf("identity %s: %w", ref, core.ErrNotFound)
	}
	return user.ID, nil
}

// DB exposes the underlying connection for migrations and tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time checks against the core interfaces.
var (
	_ core.MetadataStore    = (*SQLiteStore)(nil)
	_ core.IdentityResolver = (*SQLiteStore)(nil)
)
