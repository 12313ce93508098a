package directory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/mwantia/tbf"
)

// savedState is the persisted allocation counter: a single little-endian u64
// holding the next ID to hand out.
type savedState struct {
	next uint64
}

func loadState(path string) (*savedState, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &savedState{next: uint64(tbf.FirstFileId)}, nil
		}
		return nil, tbf.Source("load counter", err)
	}
	defer file.Close()

	var buf [8]byte
	if _, err := io.ReadFull(file, buf[:]); err != nil {
		return nil, tbf.Source("load counter", err)
	}

	next := binary.LittleEndian.Uint64(buf[:])
	if next < uint64(tbf.FirstFileId) {
		return nil, fmt.Errorf("%w: counter %d lies in the reserved range", tbf.ErrState, next)
	}

	return &savedState{next: next}, nil
}

// save overwrites the counter file with the current value.
func (s *savedState) save(path string) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], s.next)

	if err := os.WriteFile(path, buf[:], 0644); err != nil {
		return tbf.Source("save counter", err)
	}

	return nil
}
