package s3

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/mwantia/tbf"
)

func (sb *S3Backend) loadCounter(ctx context.Context) (uint64, error) {
	buf, err := sb.getObject(ctx, sb.counterKey())
	if err != nil {
		if isNotFound(err) {
			return uint64(tbf.FirstFileId), nil
		}
		return 0, tbf.Source("load counter", err)
	}

	if len(buf) != 8 {
		return 0, fmt.Errorf("%w: counter has %d bytes", tbf.ErrState, len(buf))
	}

	next := binary.LittleEndian.Uint64(buf)
	if next < uint64(tbf.FirstFileId) {
		return 0, fmt.Errorf("%w: counter %d lies in the reserved range", tbf.ErrState, next)
	}

	return next, nil
}

func (sb *S3Backend) saveCounter(ctx context.Context, next uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], next)

	return sb.putObject(ctx, sb.counterKey(), buf[:])
}

// recoverCounter moves the counter past every artifact found below the prefix.
func (sb *S3Backend) recoverCounter(ctx context.Context, next uint64) (uint64, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	recovered := next
	for object := range sb.client.ListObjects(listCtx, sb.config.Bucket, minio.ListObjectsOptions{
		Prefix: sb.config.Prefix,
	}) {
		if object.Err != nil {
			return 0, tbf.Source("list", object.Err)
		}

		for _, ext := range []string{dataExt, tagsExt} {
			if id, ok := sb.parseKey(object.Key, ext); ok && uint64(id) >= recovered {
				recovered = uint64(id) + 1
			}
		}
	}

	if recovered == next {
		return next, nil
	}

	sb.log.Warn("Counter %s is behind stored objects, advancing to %s", tbf.FileId(next), tbf.FileId(recovered))
	if err := sb.saveCounter(ctx, recovered); err != nil {
		return 0, err
	}

	return recovered, nil
}

func (sb *S3Backend) getObject(ctx context.Context, key string) ([]byte, error) {
	object, err := sb.client.GetObject(ctx, sb.config.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer object.Close()

	return io.ReadAll(object)
}

func (sb *S3Backend) putObject(ctx context.Context, key string, data []byte) error {
	_, err := sb.client.PutObject(ctx, sb.config.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})

	return tbf.Source("put "+key, err)
}
