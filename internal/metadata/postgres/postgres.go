// Package postgres provides a PostgreSQL-backed metadata store with metrics.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/metrics"
)

// Store is a PostgreSQL metadata store.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL metadata store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// Read runs fn in a read-only transaction.
func (s *Store) Read(ctx context.Context, fn func(metadata.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

// Write runs fn in a read-committed transaction.
func (s *Store) Write(ctx context.Context, fn func(metadata.Tx) error) error {
	return s.run(ctx, nil, fn)
}

// WriteSerializable runs fn under serializable isolation. Concurrent
// writers for the same owner conflict here instead of racing past the
// quota check.
func (s *Store) WriteSerializable(ctx context.Context, fn func(metadata.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(metadata.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// pgTx implements metadata.Tx on a *sql.Tx.
type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

// ─── Owners ──────────────────────────────────────────────────────────────────

func (t *pgTx) InsertOwner(o *metadata.Owner) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert_owner", time.Since(start)) }()

	err := t.tx.QueryRowContext(t.ctx,
		`INSERT INTO owners (email, password, first_name, last_name)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, date_created, date_modified`,
		o.Email, o.Password, o.FirstName, o.LastName).
		Scan(&o.ID, &o.DateCreated, &o.DateModified)
	if err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}
	return nil
}

func (t *pgTx) GetOwner(id int64) (*metadata.Owner, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_owner", time.Since(start)) }()

	var o metadata.Owner
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT id, email, password, first_name, last_name, date_created, date_modified
		 FROM owners WHERE id = $1`, id).
		Scan(&o.ID, &o.Email, &o.Password, &o.FirstName, &o.LastName, &o.DateCreated, &o.DateModified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get owner: %w", err)
	}
	return &o, nil
}

func (t *pgTx) OwnerByEmail(email string) (*metadata.Owner, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("owner_by_email", time.Since(start)) }()

	var o metadata.Owner
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT id, email, password, first_name, last_name, date_created, date_modified
		 FROM owners WHERE LOWER(email) = LOWER($1)`, email).
		Scan(&o.ID, &o.Email, &o.Password, &o.FirstName, &o.LastName, &o.DateCreated, &o.DateModified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("owner by email: %w", err)
	}
	return &o, nil
}

func (t *pgTx) OwnerExists(id int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT EXISTS(SELECT 1 FROM owners WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("owner exists: %w", err)
	}
	return exists, nil
}

func (t *pgTx) UpdateOwner(o *metadata.Owner) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_owner", time.Since(start)) }()

	err := t.tx.QueryRowContext(t.ctx,
		`UPDATE owners SET email = $1, password = $2, first_name = $3, last_name = $4,
		 date_modified = NOW()
		 WHERE id = $5
		 RETURNING date_modified`,
		o.Email, o.Password, o.FirstName, o.LastName, o.ID).
		Scan(&o.DateModified)
	if err == sql.ErrNoRows {
		return errs.NotFound(errs.KindOwner, o.ID)
	}
	if err != nil {
		return fmt.Errorf("update owner: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteOwner(id int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_owner", time.Since(start)) }()

	result, err := t.tx.ExecContext(t.ctx, `DELETE FROM owners WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete owner: %w", err)
	}
	rows, _ := result.RowsAffected()
	logging.Debug("deleted owner", zap.Int64("owner_id", id), zap.Int64("rows", rows))
	return nil
}

// ─── Folders ─────────────────────────────────────────────────────────────────

const folderColumns = `id, version, name, is_root, parent_id, owner_id, date_created, date_modified`

func scanFolder(row interface{ Scan(...any) error }) (*metadata.Folder, error) {
	var f metadata.Folder
	var parentID sql.NullInt64
	if err := row.Scan(&f.ID, &f.Version, &f.Name, &f.Root, &parentID,
		&f.OwnerID, &f.DateCreated, &f.DateModified); err != nil {
		return nil, err
	}
	if parentID.Valid {
		f.ParentID = &parentID.Int64
	}
	return &f, nil
}

func (t *pgTx) queryFolders(name, query string, args ...any) ([]metadata.Folder, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery(name, time.Since(start)) }()

	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer rows.Close()

	var folders []metadata.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, *f)
	}
	return folders, rows.Err()
}

func (t *pgTx) InsertFolder(f *metadata.Folder) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert_folder", time.Since(start)) }()

	err := t.tx.QueryRowContext(t.ctx,
		`INSERT INTO folders (name, is_root, parent_id, owner_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, version, date_created, date_modified`,
		f.Name, f.Root, nullableID(f.ParentID), f.OwnerID).
		Scan(&f.ID, &f.Version, &f.DateCreated, &f.DateModified)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

func (t *pgTx) GetFolder(id int64) (*metadata.Folder, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_folder", time.Since(start)) }()

	f, err := scanFolder(t.tx.QueryRowContext(t.ctx,
		`SELECT `+folderColumns+` FROM folders WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get folder: %w", err)
	}
	return f, nil
}

func (t *pgTx) RootFolder(ownerID int64) (*metadata.Folder, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("root_folder", time.Since(start)) }()

	f, err := scanFolder(t.tx.QueryRowContext(t.ctx,
		`SELECT `+folderColumns+` FROM folders WHERE owner_id = $1 AND is_root = TRUE`, ownerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("root folder: %w", err)
	}
	return f, nil
}

func (t *pgTx) UpdateFolder(f *metadata.Folder) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_folder", time.Since(start)) }()

	err := t.tx.QueryRowContext(t.ctx,
		`UPDATE folders SET name = $1, parent_id = $2,
		 version = version + 1, date_modified = NOW()
		 WHERE id = $3 AND version = $4
		 RETURNING version, date_modified`,
		f.Name, nullableID(f.ParentID), f.ID, f.Version).
		Scan(&f.Version, &f.DateModified)
	if err == sql.ErrNoRows {
		return errs.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("update folder: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteFolder(id int64) error {
	return t.DeleteFolders([]int64{id})
}

func (t *pgTx) DeleteFolders(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_folders", time.Since(start)) }()

	// Subfolder and file rows go with the folder via FK cascade.
	result, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM folders WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete folders: %w", err)
	}
	rows, _ := result.RowsAffected()
	logging.Debug("deleted folders", zap.Int("requested", len(ids)), zap.Int64("rows", rows))
	return nil
}

func (t *pgTx) FoldersByParent(parentID int64) ([]metadata.Folder, error) {
	return t.queryFolders("folders_by_parent",
		`SELECT `+folderColumns+` FROM folders WHERE parent_id = $1 ORDER BY name`, parentID)
}

func (t *pgTx) SubtreeFolderIDs(ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("subtree_folder_ids", time.Since(start)) }()

	rows, err := t.tx.QueryContext(t.ctx,
		`WITH RECURSIVE tree AS (
		    SELECT id FROM folders WHERE id = ANY($1)
		    UNION ALL
		    SELECT f.id FROM folders f JOIN tree ON f.parent_id = tree.id)
		 SELECT id FROM tree`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("subtree folder ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan folder id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (t *pgTx) FilesInFolderTree(ids []int64) ([]metadata.File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return t.queryFiles("files_in_folder_tree",
		`SELECT `+fileColumns+` FROM files WHERE parent_id IN (
		    WITH RECURSIVE tree AS (
		        SELECT id FROM folders WHERE id = ANY($1)
		        UNION ALL
		        SELECT f.id FROM folders f JOIN tree ON f.parent_id = tree.id)
		    SELECT id FROM tree)`, pq.Array(ids))
}

func (t *pgTx) DisconnectedFolders(ownerID int64) ([]metadata.Folder, error) {
	return t.queryFolders("disconnected_folders",
		`SELECT `+folderColumns+` FROM folders
		 WHERE owner_id = $1 AND parent_id IS NULL AND is_root = FALSE`, ownerID)
}

func (t *pgTx) FoldersModifiedAfter(ownerID int64, after time.Time) ([]metadata.Folder, error) {
	return t.queryFolders("folders_modified_after",
		`SELECT `+folderColumns+` FROM folders
		 WHERE owner_id = $1 AND date_modified > $2`, ownerID, after)
}

func (t *pgTx) FindFolders(filter metadata.ItemFilter) ([]metadata.Folder, error) {
	query := `SELECT ` + folderColumns + ` FROM folders WHERE owner_id = $1`
	args := []any{filter.OwnerID}
	if filter.Name != "" {
		args = append(args, filter.Name)
		query += fmt.Sprintf(` AND name ILIKE '%%' || $%d || '%%'`, len(args))
	}
	if filter.ParentID != nil {
		args = append(args, *filter.ParentID)
		query += fmt.Sprintf(` AND parent_id = $%d`, len(args))
	}
	return t.queryFolders("find_folders", query, args...)
}

// ─── Files ───────────────────────────────────────────────────────────────────

const fileColumns = `id, version, name, size, mime_type, location, parent_id, owner_id, date_created, date_modified`

func scanFile(row interface{ Scan(...any) error }) (*metadata.File, error) {
	var f metadata.File
	var parentID sql.NullInt64
	if err := row.Scan(&f.ID, &f.Version, &f.Name, &f.Size, &f.MimeType, &f.Location,
		&parentID, &f.OwnerID, &f.DateCreated, &f.DateModified); err != nil {
		return nil, err
	}
	if parentID.Valid {
		f.ParentID = &parentID.Int64
	}
	return &f, nil
}

func (t *pgTx) queryFiles(name, query string, args ...any) ([]metadata.File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery(name, time.Since(start)) }()

	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer rows.Close()

	var files []metadata.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func (t *pgTx) InsertFile(f *metadata.File) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert_file", time.Since(start)) }()

	err := t.tx.QueryRowContext(t.ctx,
		`INSERT INTO files (name, size, mime_type, location, parent_id, owner_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, version, date_created, date_modified`,
		f.Name, f.Size, f.MimeType, f.Location, nullableID(f.ParentID), f.OwnerID).
		Scan(&f.ID, &f.Version, &f.DateCreated, &f.DateModified)
	if err != nil {
		// Locations are generated from 128 random bits; a collision
		// means broken generation, never a retryable condition.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" && pqErr.Constraint == "files_location_key" {
			return fmt.Errorf("fatal location collision at %s: %w", f.Location, err)
		}
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (t *pgTx) GetFile(id int64) (*metadata.File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_file", time.Since(start)) }()

	f, err := scanFile(t.tx.QueryRowContext(t.ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

func (t *pgTx) FileExists(id int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT EXISTS(SELECT 1 FROM files WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("file exists: %w", err)
	}
	return exists, nil
}

func (t *pgTx) UpdateFile(f *metadata.File) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_file", time.Since(start)) }()

	err := t.tx.QueryRowContext(t.ctx,
		`UPDATE files SET name = $1, parent_id = $2,
		 version = version + 1, date_modified = NOW()
		 WHERE id = $3 AND version = $4
		 RETURNING version, date_modified`,
		f.Name, nullableID(f.ParentID), f.ID, f.Version).
		Scan(&f.Version, &f.DateModified)
	if err == sql.ErrNoRows {
		return errs.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteFile(id int64) error {
	return t.DeleteFiles([]int64{id})
}

func (t *pgTx) DeleteFiles(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_files", time.Since(start)) }()

	result, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM files WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete files: %w", err)
	}
	rows, _ := result.RowsAffected()
	logging.Debug("deleted files", zap.Int("requested", len(ids)), zap.Int64("rows", rows))
	return nil
}

func (t *pgTx) FilesByParent(parentID int64) ([]metadata.File, error) {
	return t.queryFiles("files_by_parent",
		`SELECT `+fileColumns+` FROM files WHERE parent_id = $1 ORDER BY name`, parentID)
}

func (t *pgTx) FilesByOwner(ownerID int64) ([]metadata.File, error) {
	return t.queryFiles("files_by_owner",
		`SELECT `+fileColumns+` FROM files WHERE owner_id = $1`, ownerID)
}

func (t *pgTx) DisconnectedFiles(ownerID int64) ([]metadata.File, error) {
	return t.queryFiles("disconnected_files",
		`SELECT `+fileColumns+` FROM files
		 WHERE owner_id = $1 AND parent_id IS NULL`, ownerID)
}

func (t *pgTx) FilesModifiedAfter(ownerID int64, after time.Time) ([]metadata.File, error) {
	return t.queryFiles("files_modified_after",
		`SELECT `+fileColumns+` FROM files
		 WHERE owner_id = $1 AND date_modified > $2`, ownerID, after)
}

func (t *pgTx) FindFiles(filter metadata.ItemFilter) ([]metadata.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE owner_id = $1`
	args := []any{filter.OwnerID}
	if filter.Name != "" {
		args = append(args, filter.Name)
		query += fmt.Sprintf(` AND name ILIKE '%%' || $%d || '%%'`, len(args))
	}
	if filter.MimeType != "" {
		args = append(args, filter.MimeType)
		query += fmt.Sprintf(` AND mime_type ILIKE '%%' || $%d || '%%'`, len(args))
	}
	if filter.ParentID != nil {
		args = append(args, *filter.ParentID)
		query += fmt.Sprintf(` AND parent_id = $%d`, len(args))
	}
	return t.queryFiles("find_files", query, args...)
}

func (t *pgTx) TotalFileSizeByOwner(ownerID int64) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("total_file_size_by_owner", time.Since(start)) }()

	var used int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COALESCE(SUM(size), 0) FROM files WHERE owner_id = $1`, ownerID).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("total file size by owner: %w", err)
	}
	return used, nil
}

// ─── Properties ──────────────────────────────────────────────────────────────

func (t *pgTx) PropertiesByFile(fileID int64) ([]metadata.Property, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("properties_by_file", time.Since(start)) }()

	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT id, file_id, key, value FROM properties WHERE file_id = $1 ORDER BY key`, fileID)
	if err != nil {
		return nil, fmt.Errorf("properties by file: %w", err)
	}
	defer rows.Close()

	var props []metadata.Property
	for rows.Next() {
		var p metadata.Property
		if err := rows.Scan(&p.ID, &p.FileID, &p.Key, &p.Value); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		props = append(props, p)
	}
	return props, rows.Err()
}

func (t *pgTx) UpsertProperty(fileID int64, key, value string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("upsert_property", time.Since(start)) }()

	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO properties (file_id, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (file_id, key) DO UPDATE SET value = EXCLUDED.value`,
		fileID, key, value)
	if err != nil {
		return fmt.Errorf("upsert property: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteProperties(fileID int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_properties", time.Since(start)) }()

	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM properties WHERE file_id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("delete properties: %w", err)
	}
	return nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
