package memory

import (
	"context"
	"slices"

	"github.com/mwantia/tbf"
)

func (mb *MemoryBackend) AddFile(ctx context.Context, data []byte, tags []tbf.Tag) (tbf.FileId, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := mb.opts.CheckSize(data); err != nil {
		return 0, err
	}
	if err := tbf.ValidateTags(tags); err != nil {
		return 0, err
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if !mb.open {
		return 0, tbf.ErrNotOpen
	}

	id := mb.next
	mb.files.Set(id, &memoryFile{
		data: slices.Clone(data),
		tags: tbf.NewTagSet(tags...),
	})
	mb.next++

	mb.log.Debug("Added file %s", id)
	return id, nil
}

func (mb *MemoryBackend) EditFile(ctx context.Context, id tbf.FileId, update *tbf.FileUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if update.HasData() {
		if err := mb.opts.CheckSize(update.Data); err != nil {
			return err
		}
	}
	if update.HasTags() {
		if err := tbf.ValidateTags(update.Tags); err != nil {
			return err
		}
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if !mb.open {
		return tbf.ErrNotOpen
	}

	file, exists := mb.files.Get(id)
	if !exists {
		return tbf.FileNotFound(id)
	}

	info := update.Apply(tbf.NewFileInfo(id, file.data, file.tags))
	mb.files.Set(id, &memoryFile{
		data: info.Data(),
		tags: info.Tags(),
	})

	return nil
}

// RemoveFile deletes a live file. Unlike the durable backends, removing an
// unknown ID is reported as ErrFileNotFound.
func (mb *MemoryBackend) RemoveFile(ctx context.Context, id tbf.FileId) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if !mb.open {
		return tbf.ErrNotOpen
	}

	if _, deleted := mb.files.Delete(id); !deleted {
		return tbf.FileNotFound(id)
	}

	return nil
}

func (mb *MemoryBackend) SearchTags(ctx context.Context, pattern tbf.TagPattern) ([]tbf.FileId, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mb.mu.RLock()
	defer mb.mu.RUnlock()

	if !mb.open {
		return nil, tbf.ErrNotOpen
	}

	result := make([]tbf.FileId, 0)
	mb.files.Scan(func(id tbf.FileId, file *memoryFile) bool {
		if pattern.MatchTags(slices.Values(file.tags)) {
			result = append(result, id)
		}
		return true
	})

	return result, nil
}

func (mb *MemoryBackend) GetInfo(ctx context.Context, id tbf.FileId) (*tbf.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mb.mu.RLock()
	defer mb.mu.RUnlock()

	if !mb.open {
		return nil, tbf.ErrNotOpen
	}

	file, exists := mb.files.Get(id)
	if !exists {
		return nil, tbf.FileNotFound(id)
	}

	return tbf.NewFileInfo(id, file.data, file.tags), nil
}
