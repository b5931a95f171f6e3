package tablecache

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by tablecache operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, tablecache.ErrPolicyViolation) {
//	    // open read-only instead
//	}
var (
	// ErrScopeSwitch indicates a scope switch could not close every handle.
	//
	// The previous scope stays active. Handles that closed are invalid; the
	// ones listed in [ScopeSwitchError.Failures] are still open and usable.
	//
	// Recovery: fix the cause (e.g. free disk space) and call the switch again;
	// it retries only the remaining handles.
	ErrScopeSwitch = errors.New("tablecache: scope switch incomplete")

	// ErrModeConflict indicates an existing read-only handle could not be
	// upgraded to read-write.
	//
	// The handle keeps its previous mode and reference count.
	//
	// Recovery: retry once the conflicting writer is gone, or open read-only.
	ErrModeConflict = errors.New("tablecache: mode conflict")

	// ErrPolicyViolation indicates a read-write handle was requested for a
	// location with no handle while the per-thread scope is active.
	//
	// No I/O was attempted.
	//
	// Recovery: open read-only, or switch to the process-wide scope.
	ErrPolicyViolation = errors.New("tablecache: policy violation")

	// ErrInvariantViolation is the panic value used when a registry would hold
	// two handles for one location.
	//
	// This is a programming error and never returned.
	ErrInvariantViolation = errors.New("tablecache: invariant violation")

	// ErrClosed indicates the [Handle] or [Controller] was already closed, either
	// explicitly or by a scope switch.
	//
	// This is a programming error.
	ErrClosed = errors.New("tablecache: closed")

	// ErrAlreadyOpen indicates [Controller.Adopt] was given a location that
	// already has a handle in the target registry.
	//
	// Recovery: close the adopted table and use [Controller.Open] instead.
	ErrAlreadyOpen = errors.New("tablecache: already open")

	// ErrInvalidInput indicates invalid arguments were provided.
	//
	// Common causes: empty path, unknown [LockMode] or [Scope], missing
	// [WorkerID] under the per-thread scope.
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("tablecache: invalid input")
)

// CloseFailure records a handle whose table could not be closed.
type CloseFailure struct {
	Location Location
	Worker   WorkerID // empty for the process-wide registry
	Err      error
}

func (f *CloseFailure) Error() string {
	if f.Worker == "" {
		return fmt.Sprintf("closing %s: %v", f.Location, f.Err)
	}

	return fmt.Sprintf("closing %s (worker %s): %v", f.Location, f.Worker, f.Err)
}

func (f *CloseFailure) Unwrap() error {
	return f.Err
}

// ScopeSwitchError is returned by [Controller.UseProcessWide] and
// [Controller.UseThreadLocal] when the switch did not complete.
//
// It satisfies errors.Is(err, [ErrScopeSwitch]) and unwraps to every
// [CloseFailure].
type ScopeSwitchError struct {
	From     Scope
	To       Scope
	Failures []*CloseFailure
}

func (e *ScopeSwitchError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "switching table cache from %s to %s: %d table(s) still open", e.From, e.To, len(e.Failures))

	for _, f := range e.Failures {
		b.WriteString("; ")
		b.WriteString(f.Error())
	}

	return b.String()
}

func (e *ScopeSwitchError) Is(target error) bool {
	return target == ErrScopeSwitch
}

func (e *ScopeSwitchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}

	return errs
}
