package tbf

import (
	"fmt"
	"strconv"
)

// FirstFileId is the first identifier handed out to an ordinary file.
const FirstFileId FileId = 256

// FileId identifies a stored file. The values 0-255 are reserved for special usage,
// every other value represents an ordinary file.
type FileId uint64

// FileIdFromUint64 converts a raw value into an ordinary file ID.
// Returns ErrReservedFileId if the value falls into the reserved range.
func FileIdFromUint64(v uint64) (FileId, error) {
	id := FileId(v)
	if id.IsSpecial() {
		return 0, fmt.Errorf("%w: %d", ErrReservedFileId, v)
	}

	return id, nil
}

// FileIdFromUint64Unchecked converts a raw value without checking the reserved range.
func FileIdFromUint64Unchecked(v uint64) FileId {
	return FileId(v)
}

// Uint64 returns the raw value of an ordinary file ID.
// Returns ErrReservedFileId if the ID is special.
func (id FileId) Uint64() (uint64, error) {
	if id.IsSpecial() {
		return 0, fmt.Errorf("%w: %d", ErrReservedFileId, uint64(id))
	}

	return uint64(id), nil
}

// Uint64Unchecked returns the raw value without checking the reserved range.
func (id FileId) Uint64Unchecked() uint64 {
	return uint64(id)
}

// IsSpecial reports whether the ID lies in the reserved range.
func (id FileId) IsSpecial() bool {
	return id < FirstFileId
}

// IsFile reports whether the ID represents an ordinary file.
func (id FileId) IsFile() bool {
	return id >= FirstFileId
}

// String renders the ID as 16 uppercase hexadecimal digits, the same form
// used by backends to name stored artifacts.
func (id FileId) String() string {
	return fmt.Sprintf("%016X", uint64(id))
}

// ParseFileId parses the 16 uppercase hex digit form produced by String.
func ParseFileId(s string) (FileId, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("%w: '%s'", ErrInvalidFileId, s)
	}

	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return 0, fmt.Errorf("%w: '%s'", ErrInvalidFileId, s)
		}
	}

	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: '%s'", ErrInvalidFileId, s)
	}

	return FileId(v), nil
}
