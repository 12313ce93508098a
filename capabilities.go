package tbf

import "slices"

// Capability represents a property a backend provides.
type Capability string

const (
	// CapabilityPersistent means stored files survive a restart of the process.
	CapabilityPersistent Capability = "persistent"
	// CapabilityIdempotentRemove means removing a missing file succeeds silently
	// instead of returning ErrFileNotFound.
	CapabilityIdempotentRemove Capability = "idempotent_remove"
	// CapabilityAtomicAdd means data and tags of a new file become visible together.
	CapabilityAtomicAdd Capability = "atomic_add"
	// CapabilitySharedCounter means several processes may allocate IDs against the same storage.
	CapabilitySharedCounter Capability = "shared_counter"
)

// Capabilities describes what a backend supports.
type Capabilities struct {
	Capabilities []Capability `json:"capabilities"`
	// MaxObjectSize limits the size of file data in bytes, 0 means unlimited.
	MaxObjectSize int64 `json:"max_object_size,omitempty"`
}

// Contains checks if a capability is supported.
func (c *Capabilities) Contains(capability Capability) bool {
	return c != nil && slices.Contains(c.Capabilities, capability)
}
