package tbf

import "slices"

// FileInfo is an owned snapshot of a stored file. It shares no memory with the
// backend it was read from.
type FileInfo struct {
	id   FileId
	data []byte
	tags []Tag
}

// NewFileInfo creates a snapshot, copying data and normalizing tags into a set.
func NewFileInfo(id FileId, data []byte, tags []Tag) *FileInfo {
	return &FileInfo{
		id:   id,
		data: slices.Clone(data),
		tags: NewTagSet(tags...),
	}
}

// ID returns the ID of the file.
func (fi *FileInfo) ID() FileId {
	return fi.id
}

// Data returns the raw bytes of the file.
func (fi *FileInfo) Data() []byte {
	return fi.data
}

// Size returns the length of the file data in bytes.
func (fi *FileInfo) Size() int {
	return len(fi.data)
}

// Tags returns the sorted tag set of the file.
func (fi *FileInfo) Tags() []Tag {
	return fi.tags
}

// HasTag reports whether the file carries the exact tag.
func (fi *FileInfo) HasTag(tag Tag) bool {
	_, found := slices.BinarySearchFunc(fi.tags, tag, Tag.Compare)
	return found
}
