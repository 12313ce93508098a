// Package tbf is a tag-based file store. Files are identified by numeric IDs,
// annotated with (group, name) tags and found by matching predicates over
// their tags. Storage is provided by the backends below backend/.
package tbf

import "context"

// Backend is used as lifecycle entrypoint for every store implementation.
type Backend interface {
	// Name returns the identifier name defined for this backend.
	Name() string
	// Open is part of the lifecycle behaviour and gets called before the first operation.
	Open(ctx context.Context) error
	// Close is part of the lifecycle behaviour and releases all resources held by the backend.
	Close(ctx context.Context) error
	// GetCapabilities returns a list of capabilities supported by this backend.
	GetCapabilities() *Capabilities
}

// FileSystem is a tag-based file store. Files are addressed by ID and found by
// matching patterns over their tags.
type FileSystem interface {
	Backend

	// AddFile stores a new file and returns its freshly allocated ID.
	// IDs are never reused, not even after the file was removed.
	AddFile(ctx context.Context, data []byte, tags []Tag) (FileId, error)

	// EditFile replaces the data and/or tags of a live file, as selected by the update mask.
	// Returns ErrFileNotFound if the ID is not live.
	EditFile(ctx context.Context, id FileId, update *FileUpdate) error

	// RemoveFile deletes the data and tags of a file. Whether removing a missing
	// file fails is backend specific, see CapabilityIdempotentRemove.
	RemoveFile(ctx context.Context, id FileId) error

	// SearchTags returns the IDs of every live file matching the pattern, in ascending order.
	SearchTags(ctx context.Context, pattern TagPattern) ([]FileId, error)

	// GetInfo returns a snapshot of a live file.
	// Returns ErrFileNotFound if the ID is not live.
	GetInfo(ctx context.Context, id FileId) (*FileInfo, error)
}
