package tablecache

import (
	"fmt"
	"strings"
)

// LockMode is the access mode a table is opened with.
//
// While a handle is shared its mode only moves from [ReadOnly] to [ReadWrite].
type LockMode uint8

const (
	ReadOnly LockMode = iota
	ReadWrite
)

func (m LockMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("LockMode(%d)", uint8(m))
	}
}

func (m LockMode) valid() bool {
	return m == ReadOnly || m == ReadWrite
}

// ParseLockMode parses "ro", "readonly", "read-only", "rw", "readwrite" or
// "read-write", case-insensitively.
func ParseLockMode(s string) (LockMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ro", "readonly", "read-only":
		return ReadOnly, nil
	case "rw", "readwrite", "read-write":
		return ReadWrite, nil
	default:
		return 0, fmt.Errorf("unknown lock mode %q: %w", s, ErrInvalidInput)
	}
}

// Scope selects how widely the single-handle guarantee is enforced.
type Scope uint8

const (
	// ProcessWide shares one registry across all callers. This is the default.
	ProcessWide Scope = iota

	// PerThread gives each [WorkerID] its own registry. Only read-only handles
	// may be originated.
	PerThread
)

func (s Scope) String() string {
	switch s {
	case ProcessWide:
		return "process-wide"
	case PerThread:
		return "per-thread"
	default:
		return fmt.Sprintf("Scope(%d)", uint8(s))
	}
}

func (s Scope) valid() bool {
	return s == ProcessWide || s == PerThread
}

// ParseScope parses "process", "process-wide", "thread" or "per-thread",
// case-insensitively.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "process", "process-wide":
		return ProcessWide, nil
	case "thread", "per-thread":
		return PerThread, nil
	default:
		return 0, fmt.Errorf("unknown scope %q: %w", s, ErrInvalidInput)
	}
}
