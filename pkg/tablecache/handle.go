package tablecache

import (
	"fmt"
)

// Owner identifies the registry a handle belongs to.
type Owner struct {
	Scope  Scope
	Worker WorkerID // empty under ProcessWide

	// Generation increments on every completed scope switch. Registries from
	// earlier generations are gone, and so are their handles.
	Generation uint64
}

func (o Owner) String() string {
	if o.Scope == PerThread {
		return fmt.Sprintf("%s[%s]#%d", o.Scope, o.Worker, o.Generation)
	}

	return fmt.Sprintf("%s#%d", o.Scope, o.Generation)
}

// Handle is the single in-memory handle for one location within one registry.
//
// Each successful open returns the same *Handle and increments its reference
// count; each [Handle.Close] decrements it. At zero the table is closed and
// the handle is invalid. A scope switch invalidates it as well.
//
// All methods are safe for concurrent use. The [Table] returned by
// [Handle.Table] is not synchronized by this package.
type Handle struct {
	reg   *registry
	loc   Location
	table Table

	// Guarded by reg.mu.
	mode   LockMode
	refs   int
	closed bool
}

// Location returns the location the handle was opened for. It stays readable
// after the handle is closed.
func (h *Handle) Location() Location {
	return h.loc
}

// Owner returns the registry the handle is registered in.
func (h *Handle) Owner() Owner {
	return h.reg.owner
}

// Mode returns the handle's current lock mode.
func (h *Handle) Mode() LockMode {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()

	return h.mode
}

// RefCount returns the number of outstanding opens. It is 0 once closed.
func (h *Handle) RefCount() int {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()

	if h.closed {
		return 0
	}

	return h.refs
}

// Closed reports whether the handle was invalidated.
func (h *Handle) Closed() bool {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()

	return h.closed
}

// IsWritable reports whether the underlying table holds write access.
// A closed handle is never writable.
func (h *Handle) IsWritable() bool {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()

	return !h.closed && h.table.IsWritable()
}

// Table returns the underlying table.
//
// Returns [ErrClosed] once the handle is invalid.
func (h *Handle) Table() (Table, error) {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("table %s: %w", h.loc, ErrClosed)
	}

	return h.table, nil
}

// Close releases one reference. The last release closes the table and
// removes the handle from its registry, even if closing the table fails; that
// error is returned.
//
// Returns [ErrClosed] if the handle is already invalid.
func (h *Handle) Close() error {
	return h.reg.release(h)
}

// HandleInfo is a point-in-time snapshot of one registered handle.
type HandleInfo struct {
	Location Location
	Mode     LockMode
	RefCount int
	Owner    Owner
}
