package memory

import (
	"context"
	"sync"

	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/log"
	"github.com/tidwall/btree"
)

type memoryFile struct {
	data []byte
	tags []tbf.Tag
}

// MemoryBackend keeps every file in process memory. Contents are lost on Close.
type MemoryBackend struct {
	mu sync.RWMutex

	opts  *tbf.BackendOptions
	log   *log.Logger
	files *btree.Map[tbf.FileId, *memoryFile]
	next  tbf.FileId
	open  bool
}

func NewMemoryBackend(opts ...tbf.BackendOption) (*MemoryBackend, error) {
	options, err := tbf.NewBackendOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &MemoryBackend{
		opts:  options,
		log:   options.Logger.Named("memory"),
		files: btree.NewMap[tbf.FileId, *memoryFile](0),
		next:  tbf.FirstFileId,
	}, nil
}

// Returns the identifier name defined for this backend
func (*MemoryBackend) Name() string {
	return "memory"
}

// Open is part of the lifecycle behaviour and gets called when opening this backend.
func (mb *MemoryBackend) Open(ctx context.Context) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.open = true
	return nil
}

// Close is part of the lifecycle behaviour and drops every stored file.
func (mb *MemoryBackend) Close(ctx context.Context) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.files.Clear()
	mb.next = tbf.FirstFileId
	mb.open = false

	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (mb *MemoryBackend) GetCapabilities() *tbf.Capabilities {
	return &tbf.Capabilities{
		Capabilities: []tbf.Capability{
			tbf.CapabilityAtomicAdd,
		},
		MaxObjectSize: mb.opts.MaxObjectSize,
	}
}

// Len returns the number of live files.
func (mb *MemoryBackend) Len() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	return mb.files.Len()
}
