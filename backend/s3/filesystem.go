package s3

import (
	"context"
	"fmt"
	"math"

	"github.com/minio/minio-go/v7"
	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/codec"
)

func (sb *S3Backend) AddFile(ctx context.Context, data []byte, tags []tbf.Tag) (tbf.FileId, error) {
	if err := sb.opts.CheckSize(data); err != nil {
		return 0, err
	}
	if err := tbf.ValidateTags(tags); err != nil {
		return 0, err
	}

	encoded, err := codec.Marshal(tags)
	if err != nil {
		return 0, err
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()

	if err := sb.usable(); err != nil {
		return 0, err
	}
	if sb.next == math.MaxUint64 {
		return 0, fmt.Errorf("%w: id space exhausted", tbf.ErrState)
	}

	id := tbf.FileId(sb.next)
	if err := sb.putObject(ctx, sb.dataKey(id), data); err != nil {
		return 0, err
	}
	if err := sb.putObject(ctx, sb.tagsKey(id), encoded); err != nil {
		return 0, err
	}

	if err := sb.saveCounter(ctx, sb.next+1); err != nil {
		sb.poisoned = fmt.Errorf("%w: %w", tbf.ErrPoisoned, err)
		sb.log.Error("Failed to persist counter after adding %s: %v", id, err)
		return 0, sb.poisoned
	}
	sb.next++

	sb.log.Debug("Added file %s with %d bytes and %d tags", id, len(data), len(tags))
	return id, nil
}

func (sb *S3Backend) EditFile(ctx context.Context, id tbf.FileId, update *tbf.FileUpdate) error {
	if update.HasData() {
		if err := sb.opts.CheckSize(update.Data); err != nil {
			return err
		}
	}
	if update.HasTags() {
		if err := tbf.ValidateTags(update.Tags); err != nil {
			return err
		}
	}

	sb.mu.RLock()
	defer sb.mu.RUnlock()

	if err := sb.usable(); err != nil {
		return err
	}

	if _, err := sb.client.StatObject(ctx, sb.config.Bucket, sb.tagsKey(id), minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return tbf.FileNotFound(id)
		}
		return tbf.Source("stat tags", err)
	}

	if update.HasData() {
		if err := sb.putObject(ctx, sb.dataKey(id), update.Data); err != nil {
			return err
		}
	}
	if update.HasTags() {
		encoded, err := codec.Marshal(update.Tags)
		if err != nil {
			return err
		}
		if err := sb.putObject(ctx, sb.tagsKey(id), encoded); err != nil {
			return err
		}
	}

	return nil
}

// RemoveFile deletes both objects. S3 deletes of missing keys succeed, so removal is idempotent.
func (sb *S3Backend) RemoveFile(ctx context.Context, id tbf.FileId) error {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	if err := sb.usable(); err != nil {
		return err
	}

	for _, key := range []string{sb.tagsKey(id), sb.dataKey(id)} {
		if err := sb.client.RemoveObject(ctx, sb.config.Bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
			return tbf.Source("remove", err)
		}
	}

	return nil
}

// SearchTags lists the tag objects below the prefix. Listings are sorted by key,
// and fixed-width hex names sort by ID.
func (sb *S3Backend) SearchTags(ctx context.Context, pattern tbf.TagPattern) ([]tbf.FileId, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	if err := sb.usable(); err != nil {
		return nil, err
	}

	// Stops the listing goroutine when returning early
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make([]tbf.FileId, 0)
	for object := range sb.client.ListObjects(ctx, sb.config.Bucket, minio.ListObjectsOptions{
		Prefix: sb.config.Prefix,
	}) {
		if object.Err != nil {
			return nil, tbf.Source("list", object.Err)
		}

		id, ok := sb.parseKey(object.Key, tagsExt)
		if !ok {
			continue
		}

		raw, err := sb.getObject(ctx, object.Key)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, tbf.Source("read tags", err)
		}

		tags, err := codec.Unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}

		if tbf.Match(pattern, tags) {
			result = append(result, id)
		}
	}

	return result, nil
}

func (sb *S3Backend) GetInfo(ctx context.Context, id tbf.FileId) (*tbf.FileInfo, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	if err := sb.usable(); err != nil {
		return nil, err
	}

	raw, err := sb.getObject(ctx, sb.tagsKey(id))
	if err != nil {
		if isNotFound(err) {
			return nil, tbf.FileNotFound(id)
		}
		return nil, tbf.Source("read tags", err)
	}

	tags, err := codec.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}

	data, err := sb.getObject(ctx, sb.dataKey(id))
	if err != nil {
		if isNotFound(err) {
			return nil, tbf.FileNotFound(id)
		}
		return nil, tbf.Source("read data", err)
	}

	return tbf.NewFileInfo(id, data, tags), nil
}
