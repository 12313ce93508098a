package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/log"
	"github.com/tidwall/btree"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteBackend stores files in a SQLite database using three tables:
//
//	tbf_files  one row per live file, pointing at its content
//	tbf_data   file content keyed by a generated UUID
//	tbf_tags   one row per tag of a file
//
// The next ID to allocate lives in tbf_state and is bumped in the same
// transaction that inserts the file. Live IDs are mirrored in an in-memory
// B-tree so lookups of unknown IDs never hit the database.
type SQLiteBackend struct {
	mu     sync.RWMutex
	dbPath string
	db     *sql.DB

	opts *tbf.BackendOptions
	log  *log.Logger

	// In-memory B-tree of live file IDs
	files *btree.Set[tbf.FileId]
}

// NewSQLiteBackend creates a new SQLite-backed file store.
// The dbPath can be ":memory:" for an in-memory database or a file path.
func NewSQLiteBackend(dbPath string, opts ...tbf.BackendOption) (*SQLiteBackend, error) {
	options, err := tbf.NewBackendOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &SQLiteBackend{
		dbPath: dbPath,
		opts:   options,
		log:    options.Logger.Named("sqlite"),
		files:  &btree.Set[tbf.FileId]{},
	}, nil
}

// initSchema creates the database schema.
func (sb *SQLiteBackend) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tbf_state (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tbf_data (
		id TEXT PRIMARY KEY,
		content BLOB NOT NULL,
		size INTEGER NOT NULL CHECK(size >= 0),
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tbf_files (
		id INTEGER PRIMARY KEY,
		data_id TEXT NOT NULL REFERENCES tbf_data(id),
		create_time INTEGER NOT NULL,
		modify_time INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tbf_tags (
		file_id INTEGER NOT NULL REFERENCES tbf_files(id) ON DELETE CASCADE,
		custom INTEGER NOT NULL,
		grp TEXT NOT NULL,
		name TEXT NOT NULL,
		UNIQUE(file_id, custom, grp, name)
	);
	CREATE INDEX IF NOT EXISTS idx_tbf_tags_name ON tbf_tags(name);
	`

	if _, err := sb.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	_, err := sb.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO tbf_state (key, value) VALUES ('next_id', ?)",
		int64(tbf.FirstFileId))
	return err
}

// Returns the identifier name defined for this backend
func (*SQLiteBackend) Name() string {
	return "sqlite"
}

// Open connects to the database, creates the schema and loads all live IDs.
func (sb *SQLiteBackend) Open(ctx context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	db, err := sql.Open("sqlite", sb.dbPath)
	if err != nil {
		return tbf.Source("open", err)
	}

	// A single connection keeps ":memory:" databases alive and the pragmas applied
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return tbf.Source("open", err)
		}
	}

	sb.db = db
	if err := sb.initSchema(ctx); err != nil {
		sb.closeDB()
		return tbf.Source("init schema", err)
	}

	if err := sb.loadFiles(ctx); err != nil {
		sb.closeDB()
		return tbf.Source("load files", err)
	}

	sb.log.Info("Opened database '%s' with %d files", sb.dbPath, sb.files.Len())
	return nil
}

func (sb *SQLiteBackend) loadFiles(ctx context.Context) error {
	rows, err := sb.db.QueryContext(ctx, "SELECT id FROM tbf_files")
	if err != nil {
		return err
	}
	defer rows.Close()

	sb.files.Clear()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		sb.files.Insert(tbf.FileId(id))
	}

	return rows.Err()
}

// Close folds the write-ahead log back into the database before closing it.
func (sb *SQLiteBackend) Close(ctx context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	var errs tbf.Errors
	if sb.db != nil {
		_, err := sb.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
		errs.Add(tbf.Source("checkpoint", err))
	}
	errs.Add(sb.closeDB())

	return errs.Errors()
}

func (sb *SQLiteBackend) closeDB() error {
	sb.files.Clear()
	if sb.db == nil {
		return nil
	}

	err := sb.db.Close()
	sb.db = nil

	return tbf.Source("close", err)
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (sb *SQLiteBackend) GetCapabilities() *tbf.Capabilities {
	capabilities := []tbf.Capability{
		tbf.CapabilityIdempotentRemove,
		tbf.CapabilityAtomicAdd,
	}
	if sb.dbPath != ":memory:" {
		capabilities = append(capabilities, tbf.CapabilityPersistent)
	}

	return &tbf.Capabilities{
		Capabilities:  capabilities,
		MaxObjectSize: sb.opts.MaxObjectSize,
	}
}

// usable must be called with the lock held.
func (sb *SQLiteBackend) usable() error {
	if sb.db == nil {
		return tbf.ErrNotOpen
	}

	return nil
}

// toRow converts an ID into the signed integer SQLite stores.
func toRow(id tbf.FileId) (int64, error) {
	if uint64(id) > uint64(1<<63-1) {
		return 0, fmt.Errorf("%w: id %s exceeds the sqlite integer range", tbf.ErrInvalidArgument, id)
	}

	return int64(id), nil
}
