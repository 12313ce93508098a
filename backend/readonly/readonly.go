// Package readonly wraps a file store so that it can only be searched and read.
package readonly

import (
	"context"
	"slices"

	"github.com/mwantia/tbf"
)

// ReadOnlyFileSystem wraps any FileSystem implementation to make it read-only.
// Lifecycle, search and info operations are passed through to the underlying store.
// All write operations return ErrReadOnly.
type ReadOnlyFileSystem struct {
	fs tbf.FileSystem
}

var _ tbf.FileSystem = &ReadOnlyFileSystem{}

// NewReadOnly creates a new read-only wrapper around the given store.
func NewReadOnly(fs tbf.FileSystem) *ReadOnlyFileSystem {
	return &ReadOnlyFileSystem{
		fs: fs,
	}
}

func (ro *ReadOnlyFileSystem) Name() string {
	return ro.fs.Name()
}

func (ro *ReadOnlyFileSystem) Open(ctx context.Context) error {
	return ro.fs.Open(ctx)
}

func (ro *ReadOnlyFileSystem) Close(ctx context.Context) error {
	return ro.fs.Close(ctx)
}

// GetCapabilities reports the wrapped capabilities without the ones that only concern writes.
func (ro *ReadOnlyFileSystem) GetCapabilities() *tbf.Capabilities {
	inner := ro.fs.GetCapabilities()
	if inner == nil {
		return &tbf.Capabilities{}
	}

	return &tbf.Capabilities{
		Capabilities: slices.DeleteFunc(slices.Clone(inner.Capabilities), func(c tbf.Capability) bool {
			return c == tbf.CapabilityAtomicAdd || c == tbf.CapabilitySharedCounter || c == tbf.CapabilityIdempotentRemove
		}),
		MaxObjectSize: inner.MaxObjectSize,
	}
}

func (ro *ReadOnlyFileSystem) AddFile(ctx context.Context, data []byte, tags []tbf.Tag) (tbf.FileId, error) {
	return 0, tbf.ErrReadOnly
}

func (ro *ReadOnlyFileSystem) EditFile(ctx context.Context, id tbf.FileId, update *tbf.FileUpdate) error {
	return tbf.ErrReadOnly
}

func (ro *ReadOnlyFileSystem) RemoveFile(ctx context.Context, id tbf.FileId) error {
	return tbf.ErrReadOnly
}

func (ro *ReadOnlyFileSystem) SearchTags(ctx context.Context, pattern tbf.TagPattern) ([]tbf.FileId, error) {
	return ro.fs.SearchTags(ctx, pattern)
}

func (ro *ReadOnlyFileSystem) GetInfo(ctx context.Context, id tbf.FileId) (*tbf.FileInfo, error) {
	return ro.fs.GetInfo(ctx, id)
}
