package directory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/codec"
)

// AddFile writes both artifacts and persists the bumped counter as one critical section.
func (db *DirectoryBackend) AddFile(ctx context.Context, data []byte, tags []tbf.Tag) (tbf.FileId, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := db.opts.CheckSize(data); err != nil {
		return 0, err
	}
	if err := tbf.ValidateTags(tags); err != nil {
		return 0, err
	}

	encoded, err := codec.Marshal(tags)
	if err != nil {
		return 0, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.usable(); err != nil {
		return 0, err
	}

	defer func() {
		if r := recover(); r != nil {
			db.poisoned = fmt.Errorf("%w: panic while allocating: %v", tbf.ErrPoisoned, r)
			panic(r)
		}
	}()

	if db.state.next == math.MaxUint64 {
		return 0, fmt.Errorf("%w: id space exhausted", tbf.ErrState)
	}

	id := tbf.FileId(db.state.next)
	if err := os.WriteFile(db.dataPath(id), data, 0644); err != nil {
		db.discard(id)
		return 0, tbf.Source("write data", err)
	}
	if err := db.writeTags(id, encoded); err != nil {
		db.discard(id)
		return 0, err
	}

	if db.beforeCommit != nil {
		db.beforeCommit(id)
	}

	db.state.next++
	if err := db.state.save(db.counterPath()); err != nil {
		// The artifacts for id exist but the counter still points at it
		db.poisoned = fmt.Errorf("%w: %w", tbf.ErrPoisoned, err)
		db.log.Error("Failed to persist counter after adding %s: %v", id, err)
		return 0, db.poisoned
	}

	db.log.Debug("Added file %s with %d bytes and %d tags", id, len(data), len(tags))
	return id, nil
}

// EditFile replaces the selected artifacts of a live file.
func (db *DirectoryBackend) EditFile(ctx context.Context, id tbf.FileId, update *tbf.FileUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if update.HasData() {
		if err := db.opts.CheckSize(update.Data); err != nil {
			return err
		}
	}

	var encoded []byte
	if update.HasTags() {
		if err := tbf.ValidateTags(update.Tags); err != nil {
			return err
		}

		b, err := codec.Marshal(update.Tags)
		if err != nil {
			return err
		}
		encoded = b
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := db.usable(); err != nil {
		return err
	}

	if _, err := os.Stat(db.tagsPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return tbf.FileNotFound(id)
		}
		return tbf.Source("stat tags", err)
	}

	if update.HasData() {
		if err := os.WriteFile(db.dataPath(id), update.Data, 0644); err != nil {
			return tbf.Source("write data", err)
		}
	}
	if update.HasTags() {
		if err := db.writeTags(id, encoded); err != nil {
			return err
		}
	}

	db.log.Debug("Edited file %s (data: %t, tags: %t)", id, update.HasData(), update.HasTags())
	return nil
}

// RemoveFile deletes both artifacts. Missing artifacts are ignored, so removing
// a file twice succeeds.
func (db *DirectoryBackend) RemoveFile(ctx context.Context, id tbf.FileId) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := db.usable(); err != nil {
		return err
	}

	for _, path := range []string{db.dataPath(id), db.tagsPath(id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return tbf.Source("remove", err)
		}
	}

	db.log.Debug("Removed file %s", id)
	return nil
}

// SearchTags scans every tag artifact in the directory. Entries whose name is
// not '<16 hex digits>.tag' are skipped.
func (db *DirectoryBackend) SearchTags(ctx context.Context, pattern tbf.TagPattern) ([]tbf.FileId, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := db.usable(); err != nil {
		return nil, err
	}

	// ReadDir sorts by name, and fixed-width hex names sort by ID
	entries, err := os.ReadDir(db.path)
	if err != nil {
		return nil, tbf.Source("read dir", err)
	}

	result := make([]tbf.FileId, 0)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != tagsExt {
			continue
		}

		id, err := tbf.ParseFileId(strings.TrimSuffix(name, tagsExt))
		if err != nil || id.IsSpecial() {
			db.log.Debug("Skipping foreign entry '%s'", name)
			continue
		}

		matched, err := db.matchFile(id, pattern)
		if err != nil {
			return nil, err
		}
		if matched {
			result = append(result, id)
		}
	}

	return result, nil
}

// GetInfo reads both artifacts into an owned snapshot.
func (db *DirectoryBackend) GetInfo(ctx context.Context, id tbf.FileId) (*tbf.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := db.usable(); err != nil {
		return nil, err
	}

	tags, err := db.readTags(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(db.dataPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, tbf.FileNotFound(id)
		}
		return nil, tbf.Source("read data", err)
	}

	return tbf.NewFileInfo(id, data, tags), nil
}

// discard removes whatever a failed add left behind for id.
func (db *DirectoryBackend) discard(id tbf.FileId) {
	for _, path := range []string{db.tagsPath(id), db.dataPath(id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			db.log.Warn("Failed to discard '%s': %v", path, err)
		}
	}
}

// writeTags replaces the tag artifact with an already encoded stream.
func (db *DirectoryBackend) writeTags(id tbf.FileId, encoded []byte) error {
	return tbf.Source("write tags", os.WriteFile(db.tagsPath(id), encoded, 0644))
}

func (db *DirectoryBackend) readTags(id tbf.FileId) ([]tbf.Tag, error) {
	file, err := os.Open(db.tagsPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, tbf.FileNotFound(id)
		}
		return nil, tbf.Source("read tags", err)
	}
	defer file.Close()

	tags, err := codec.Decode(file)
	if err != nil {
		return nil, classify("read tags", fmt.Errorf("%s: %w", id, err))
	}

	return tags, nil
}

// matchFile streams the tag artifact into the pattern. A file removed while the
// search is running simply does not match.
func (db *DirectoryBackend) matchFile(id tbf.FileId, pattern tbf.TagPattern) (bool, error) {
	file, err := os.Open(db.tagsPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, tbf.Source("read tags", err)
	}
	defer file.Close()

	var decodeErr error
	decoder := codec.NewDecoder(file)
	matched := pattern.MatchTags(func(yield func(tbf.Tag) bool) {
		for tag, err := range decoder.All() {
			if err != nil {
				decodeErr = err
				return
			}
			if !yield(tag) {
				return
			}
		}
	})

	if decodeErr != nil {
		return false, classify("read tags", fmt.Errorf("%s: %w", id, decodeErr))
	}

	return matched, nil
}

func classify(op string, err error) error {
	if codec.IsFormatError(err) {
		return err
	}

	return tbf.Source(op, err)
}
