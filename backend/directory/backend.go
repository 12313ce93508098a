package directory

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/log"
)

const (
	dataExt = ".dat"
	tagsExt = ".tag"
)

// DirectoryBackend persists files inside a single directory of a standard filesystem.
// Every file is stored as two sibling artifacts named after its ID: the raw data
// (<ID>.dat) and the encoded tag stream (<ID>.tag). The next ID to allocate is
// kept in a small counter file.
//
// ID allocation holds the write lock for the whole add operation, all other
// operations share the read lock. Concurrent edits of the same ID race at the
// filesystem, the last writer wins.
type DirectoryBackend struct {
	mu   sync.RWMutex
	path string

	opts  *tbf.BackendOptions
	log   *log.Logger
	state *savedState

	// poisoned holds the failure that left the counter inconsistent
	poisoned error
	// beforeCommit runs after both artifacts of an add are written
	beforeCommit func(id tbf.FileId)
}

// NewDirectoryBackend creates a backend storing its files in path.
// The directory is created on Open if it does not exist.
func NewDirectoryBackend(path string, opts ...tbf.BackendOption) (*DirectoryBackend, error) {
	options, err := tbf.NewBackendOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &DirectoryBackend{
		path: filepath.Clean(path),
		opts: options,
		log:  options.Logger.Named("directory"),
	}, nil
}

// Name returns the identifier name defined for this backend.
func (*DirectoryBackend) Name() string {
	return "directory"
}

// Open creates the directory if needed and loads the persisted counter.
func (db *DirectoryBackend) Open(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	info, err := os.Stat(db.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(db.path, 0755); err != nil {
			return tbf.Source("open", err)
		}
	case err != nil:
		return tbf.Source("open", err)
	case !info.IsDir():
		return tbf.Source("open", tbf.ErrNotDirectory)
	}

	state, err := loadState(db.counterPath())
	if err != nil {
		return err
	}

	if err := db.recoverState(state); err != nil {
		return err
	}

	db.state = state
	db.poisoned = nil
	db.log.Info("Opened directory '%s' with next id %s", db.path, tbf.FileId(state.next))

	return nil
}

// Close is part of the lifecycle behaviour; the directory persists independently.
func (db *DirectoryBackend) Close(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.state = nil
	db.log.Info("Closed directory '%s'", db.path)

	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (db *DirectoryBackend) GetCapabilities() *tbf.Capabilities {
	return &tbf.Capabilities{
		Capabilities: []tbf.Capability{
			tbf.CapabilityPersistent,
			tbf.CapabilityIdempotentRemove,
		},
		MaxObjectSize: db.opts.MaxObjectSize,
	}
}

// Path returns the backing directory.
func (db *DirectoryBackend) Path() string {
	return db.path
}

// recoverState moves the counter past every ID found on disk. Artifacts newer than
// the counter are left behind when a crash happens between writing a file and
// persisting the counter.
func (db *DirectoryBackend) recoverState(state *savedState) error {
	entries, err := os.ReadDir(db.path)
	if err != nil {
		return tbf.Source("open", err)
	}

	next := state.next
	for _, entry := range entries {
		name := entry.Name()
		ext := filepath.Ext(name)
		if entry.IsDir() || (ext != dataExt && ext != tagsExt) {
			continue
		}

		id, err := tbf.ParseFileId(strings.TrimSuffix(name, ext))
		if err != nil || id.IsSpecial() {
			continue
		}
		if uint64(id) >= next {
			next = uint64(id) + 1
		}
	}

	if next == state.next {
		return nil
	}

	db.log.Warn("Counter %s is behind stored artifacts, advancing to %s", tbf.FileId(state.next), tbf.FileId(next))
	state.next = next

	return state.save(db.counterPath())
}

// usable checks the instance state and re-validates the backing directory.
// Callers must hold the lock.
func (db *DirectoryBackend) usable() error {
	if db.poisoned != nil {
		return db.poisoned
	}
	if db.state == nil {
		return tbf.ErrNotOpen
	}

	info, err := os.Stat(db.path)
	if err != nil {
		return tbf.Source("stat", err)
	}
	if !info.IsDir() {
		return tbf.Source("stat", tbf.ErrNotDirectory)
	}

	return nil
}

func (db *DirectoryBackend) counterPath() string {
	return filepath.Join(db.path, db.opts.CounterFile)
}

func (db *DirectoryBackend) dataPath(id tbf.FileId) string {
	return filepath.Join(db.path, id.String()+dataExt)
}

func (db *DirectoryBackend) tagsPath(id tbf.FileId) string {
	return filepath.Join(db.path, id.String()+tagsExt)
}
