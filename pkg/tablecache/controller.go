package tablecache

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/tablecache/internal/logging"
)

// Options configures a [Controller].
type Options struct {
	// Scope is the initial scope. The zero value is [ProcessWide].
	Scope Scope

	// Logger receives scope switches (Info), close failures (Warn) and
	// open/upgrade events (Debug). Nil discards.
	Logger *slog.Logger
}

// Controller owns the active [Scope] and every registry under it.
//
// A Controller is safe for concurrent use.
type Controller struct {
	engine Engine
	logger *slog.Logger

	// transition is held exclusively by scope switches and Close, and shared
	// by every operation that routes to a registry.
	transition sync.RWMutex

	scope atomic.Uint32 // Scope. Written with transition held exclusively.

	// Guarded by transition.
	generation uint64
	closed     bool
	shared     *registry // ProcessWide only

	// workers is PerThread only. Shared holders of transition lock workersMu
	// to touch it; exclusive holders may touch it directly.
	workersMu sync.Mutex
	workers   map[WorkerID]*registry
}

// New creates a controller that opens tables through engine.
//
// Returns [ErrInvalidInput] if engine is nil or opts.Scope is unknown.
func New(engine Engine, opts Options) (*Controller, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required: %w", ErrInvalidInput)
	}

	if !opts.Scope.valid() {
		return nil, fmt.Errorf("scope %s: %w", opts.Scope, ErrInvalidInput)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	c := &Controller{
		engine: engine,
		logger: logger,
	}

	c.activate(opts.Scope)

	return c, nil
}

// Scope returns the active scope. It does not synchronize with a concurrent
// switch and may be stale.
func (c *Controller) Scope() Scope {
	return Scope(c.scope.Load())
}

// UseProcessWide switches to the [ProcessWide] scope.
//
// Every handle of the current scope is closed first. If any close fails, the
// current scope stays active, the failed handles stay open and a
// [*ScopeSwitchError] is returned. Calling again retries the remaining ones.
// Switching to the active scope does nothing.
func (c *Controller) UseProcessWide() error {
	return c.switchTo(ProcessWide)
}

// UseThreadLocal switches to the [PerThread] scope. See [Controller.UseProcessWide].
func (c *Controller) UseThreadLocal() error {
	return c.switchTo(PerThread)
}

// Worker returns a view of the controller bound to id.
func (c *Controller) Worker(id WorkerID) *Worker {
	return &Worker{ctl: c, id: id}
}

// Open resolves path with [ResolveLocation] and opens it. See
// [Controller.OpenLocation].
func (c *Controller) Open(worker WorkerID, path string, mode LockMode) (*Handle, error) {
	loc, err := ResolveLocation(path)
	if err != nil {
		return nil, err
	}

	return c.OpenLocation(worker, loc, mode)
}

// OpenLocation returns the handle for loc in the caller's registry.
//
// Under [ProcessWide] worker is ignored. Under [PerThread] it selects the
// registry and must be non-empty.
//
// If a handle exists its reference count is incremented. A [ReadWrite]
// request on a [ReadOnly] handle first upgrades it in place; if that fails
// [ErrModeConflict] is returned and the handle is unchanged.
//
// If no handle exists the mode is checked with [ValidateMode] before any I/O,
// then the engine opens the table. Nothing is registered on error.
func (c *Controller) OpenLocation(worker WorkerID, loc Location, mode LockMode) (*Handle, error) {
	if loc == "" {
		return nil, fmt.Errorf("location is required: %w", ErrInvalidInput)
	}

	if !mode.valid() {
		return nil, fmt.Errorf("lock mode %s: %w", mode, ErrInvalidInput)
	}

	c.transition.RLock()
	defer c.transition.RUnlock()

	reg, err := c.registryFor(worker)
	if err != nil {
		return nil, err
	}

	return reg.open(loc, mode)
}

// Adopt registers table, already opened by the caller with mode, as the
// handle for loc.
//
// Returns [ErrAlreadyOpen] if the registry has a handle for loc, and
// [ErrPolicyViolation] for a [ReadWrite] table under [PerThread]. On error the
// caller still owns table.
func (c *Controller) Adopt(worker WorkerID, loc Location, table Table, mode LockMode) (*Handle, error) {
	if loc == "" || table == nil {
		return nil, fmt.Errorf("location and table are required: %w", ErrInvalidInput)
	}

	if !mode.valid() {
		return nil, fmt.Errorf("lock mode %s: %w", mode, ErrInvalidInput)
	}

	c.transition.RLock()
	defer c.transition.RUnlock()

	reg, err := c.registryFor(worker)
	if err != nil {
		return nil, err
	}

	return reg.adopt(loc, table, mode)
}

// Retire closes every handle in worker's per-thread registry and discards the
// registry. Handles that fail to close keep the registry alive; their errors
// are joined and returned.
//
// Does nothing under [ProcessWide] or for an unknown worker.
func (c *Controller) Retire(worker WorkerID) error {
	c.transition.RLock()
	defer c.transition.RUnlock()

	if c.closed {
		return fmt.Errorf("retiring worker %s: %w", worker, ErrClosed)
	}

	if c.Scope() != PerThread {
		return nil
	}

	c.workersMu.Lock()
	reg := c.workers[worker]
	c.workersMu.Unlock()

	if reg == nil {
		return nil
	}

	failures := reg.closeAll()

	c.workersMu.Lock()
	if reg.len() == 0 && c.workers[worker] == reg {
		delete(c.workers, worker)
	}
	c.workersMu.Unlock()

	if len(failures) > 0 {
		return fmt.Errorf("retiring worker %s: %w", worker, joinFailures(failures))
	}

	c.logger.Debug("retired worker", "worker", string(worker))

	return nil
}

// Tables returns a snapshot of every registered handle, sorted by worker then
// location.
func (c *Controller) Tables() []HandleInfo {
	c.transition.RLock()
	defer c.transition.RUnlock()

	var infos []HandleInfo

	if c.shared != nil {
		infos = append(infos, c.shared.snapshot()...)
	}

	c.workersMu.Lock()
	regs := slices.Collect(maps.Values(c.workers))
	c.workersMu.Unlock()

	for _, reg := range regs {
		infos = append(infos, reg.snapshot()...)
	}

	slices.SortFunc(infos, func(a, b HandleInfo) int {
		return cmp.Or(
			cmp.Compare(a.Owner.Worker, b.Owner.Worker),
			cmp.Compare(a.Location, b.Location),
		)
	})

	return infos
}

// Close closes every handle in every registry. If any close fails the
// controller stays usable, the failed handles stay open and the joined errors
// are returned; calling Close again retries them.
//
// After a successful Close every operation returns [ErrClosed]. Closing twice
// is a no-op.
func (c *Controller) Close() error {
	c.transition.Lock()
	defer c.transition.Unlock()

	if c.closed {
		return nil
	}

	failures := c.closeEverything()
	if len(failures) > 0 {
		return fmt.Errorf("closing table cache: %w", joinFailures(failures))
	}

	c.closed = true
	c.shared = nil
	c.workers = nil

	return nil
}

// registryFor must be called with transition held shared.
func (c *Controller) registryFor(worker WorkerID) (*registry, error) {
	if c.closed {
		return nil, fmt.Errorf("table cache: %w", ErrClosed)
	}

	if c.Scope() == ProcessWide {
		return c.shared, nil
	}

	if worker == "" {
		return nil, fmt.Errorf("worker is required under the %s scope: %w", PerThread, ErrInvalidInput)
	}

	c.workersMu.Lock()
	defer c.workersMu.Unlock()

	reg, ok := c.workers[worker]
	if !ok {
		reg = newRegistry(Owner{Scope: PerThread, Worker: worker, Generation: c.generation}, c.engine, c.logger)
		c.workers[worker] = reg
	}

	return reg, nil
}

func (c *Controller) switchTo(target Scope) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	if c.closed {
		return fmt.Errorf("switching to %s: %w", target, ErrClosed)
	}

	from := c.Scope()
	if from == target {
		return nil
	}

	failures := c.closeEverything()
	if len(failures) > 0 {
		c.logger.Warn("scope switch incomplete",
			"from", from.String(), "to", target.String(), "still_open", len(failures))

		return &ScopeSwitchError{From: from, To: target, Failures: failures}
	}

	c.generation++
	c.activate(target)

	c.logger.Info("switched table cache scope",
		"from", from.String(), "to", target.String(), "generation", c.generation)

	return nil
}

// activate installs empty registries for scope. Called from New or with
// transition held exclusively.
func (c *Controller) activate(scope Scope) {
	c.shared = nil
	c.workers = nil

	switch scope {
	case ProcessWide:
		c.shared = newRegistry(Owner{Scope: ProcessWide, Generation: c.generation}, c.engine, c.logger)
	case PerThread:
		c.workers = make(map[WorkerID]*registry)
	}

	c.scope.Store(uint32(scope))
}

// closeEverything must be called with transition held exclusively. Worker
// registries left empty are dropped.
func (c *Controller) closeEverything() []*CloseFailure {
	var failures []*CloseFailure

	if c.shared != nil {
		failures = append(failures, c.shared.closeAll()...)
	}

	for _, id := range slices.Sorted(maps.Keys(c.workers)) {
		reg := c.workers[id]

		failures = append(failures, reg.closeAll()...)
		if reg.len() == 0 {
			delete(c.workers, id)
		}
	}

	return failures
}

func joinFailures(failures []*CloseFailure) error {
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}

	return errors.Join(errs...)
}
