package tbf

import "slices"

// FileUpdateMask controls which parts of a file are replaced by EditFile.
type FileUpdateMask int

const (
	FileUpdateData FileUpdateMask = 1 << iota // Replace the file data
	FileUpdateTags                            // Replace the tag set

	FileUpdateAll = FileUpdateData | FileUpdateTags
)

// FileUpdate is a partial update to a stored file. Parts not selected by the mask
// are left untouched.
type FileUpdate struct {
	Mask FileUpdateMask
	Data []byte
	Tags []Tag
}

// UpdateData creates an update replacing only the data.
func UpdateData(data []byte) *FileUpdate {
	return &FileUpdate{Mask: FileUpdateData, Data: data}
}

// UpdateTags creates an update replacing only the tags.
func UpdateTags(tags ...Tag) *FileUpdate {
	return &FileUpdate{Mask: FileUpdateTags, Tags: tags}
}

// HasData reports whether the update replaces the data.
func (fu *FileUpdate) HasData() bool {
	return fu != nil && fu.Mask&FileUpdateData != 0
}

// HasTags reports whether the update replaces the tags.
func (fu *FileUpdate) HasTags() bool {
	return fu != nil && fu.Mask&FileUpdateTags != 0
}

// Merge combines two updates, the other update taking precedence.
func (fu *FileUpdate) Merge(other *FileUpdate) *FileUpdate {
	merged := &FileUpdate{}
	for _, u := range []*FileUpdate{fu, other} {
		if u.HasData() {
			merged.Mask |= FileUpdateData
			merged.Data = u.Data
		}
		if u.HasTags() {
			merged.Mask |= FileUpdateTags
			merged.Tags = u.Tags
		}
	}

	return merged
}

// Apply applies the update to a snapshot and returns the resulting snapshot.
// Backends that store files as a whole use it to compute the new state.
func (fu *FileUpdate) Apply(info *FileInfo) *FileInfo {
	data, tags := info.data, info.tags
	if fu.HasData() {
		data = fu.Data
	}
	if fu.HasTags() {
		tags = fu.Tags
	}

	return &FileInfo{
		id:   info.id,
		data: slices.Clone(data),
		tags: NewTagSet(tags...),
	}
}
