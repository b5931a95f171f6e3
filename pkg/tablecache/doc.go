// Package tablecache tracks open table handles so that every table, identified
// by its storage location, has at most one live in-memory handle per cache
// scope.
//
// # Basic Usage
//
//	ctl, err := tablecache.New(tablefile.New(tablefile.Options{}), tablecache.Options{})
//	if err != nil {
//	    return err
//	}
//	defer ctl.Close()
//
//	h, err := ctl.Open("", "/data/t1", tablecache.ReadOnly)
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
// A second Open of "/data/t1" returns the same *Handle with its reference
// count incremented. Opening it [ReadWrite] upgrades the shared handle in place,
// so every holder sees the new mode.
//
// # Scopes
//
// Exactly one [Scope] is active per [Controller]:
//   - [ProcessWide] (default): one registry shared by every caller.
//   - [PerThread]: one registry per [WorkerID], created on the worker's first
//     open. Workers cannot see each other's handles, so a worker may only
//     originate [ReadOnly] handles (see [ValidateMode]).
//
// [Controller.UseProcessWide] and [Controller.UseThreadLocal] switch scope.
// A switch closes every handle in every registry of the previous scope before
// the new scope becomes active; handles obtained earlier return [ErrClosed]
// afterward.
//
// # Concurrency
//
// Each registry serializes its opens and closes behind one mutex, which is what
// keeps two racing opens of one location from creating two handles. Switches
// exclude opens through a transition lock. Nothing else is synchronized: the
// tables behind the handles are not made safe for concurrent use by this
// package.
//
// [Controller.Scope] may be stale if another goroutine switches concurrently.
// Confine switches to one control goroutine, typically at start-up.
//
// # Error Handling
//
// Sentinels are matched with [errors.Is]:
//   - [ErrScopeSwitch]: some handles could not be closed; the previous scope is
//     still active. See [ScopeSwitchError].
//   - [ErrModeConflict]: an in-place upgrade to [ReadWrite] failed.
//   - [ErrPolicyViolation]: a [ReadWrite] handle was requested for a fresh
//     location under [PerThread].
//   - [ErrClosed]: the handle or controller is closed.
package tablecache
