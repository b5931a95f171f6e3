package tablecache

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// registry maps locations to their single handle.
//
// mu is held for the whole of open, including engine I/O. That is what makes
// concurrent opens of one location return one handle.
type registry struct {
	owner  Owner
	engine Engine
	logger *slog.Logger

	mu      sync.Mutex
	entries map[Location]*Handle
}

func newRegistry(owner Owner, engine Engine, logger *slog.Logger) *registry {
	return &registry{
		owner:   owner,
		engine:  engine,
		logger:  logger.With("owner", owner.String()),
		entries: make(map[Location]*Handle),
	}
}

// open returns the existing handle for loc, upgrading it if needed, or opens
// a new one through the engine.
func (r *registry) open(loc Location, mode LockMode) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.entries[loc]; ok {
		if mode == ReadWrite && h.mode == ReadOnly {
			err := h.table.Reopen(ReadWrite)
			if err != nil {
				r.logger.Debug("upgrade failed", "location", loc.String(), "error", err)

				return nil, fmt.Errorf("%w: upgrading %s to %s: %w", ErrModeConflict, loc, ReadWrite, err)
			}

			h.mode = ReadWrite
			r.logger.Debug("upgraded table", "location", loc.String(), "refs", h.refs)
		}

		h.refs++

		return h, nil
	}

	err := ValidateMode(r.owner.Scope, mode)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", loc, err)
	}

	table, err := r.engine.Open(loc, mode)
	if err != nil {
		return nil, fmt.Errorf("opening %s %s: %w", loc, mode, err)
	}

	h := &Handle{reg: r, loc: loc, table: table, mode: mode, refs: 1}
	r.insert(h)

	r.logger.Debug("opened table", "location", loc.String(), "mode", mode.String())

	return h, nil
}

// adopt registers a table the caller opened outside the cache.
func (r *registry) adopt(loc Location, table Table, mode LockMode) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[loc]; ok {
		return nil, fmt.Errorf("adopting %s: %w", loc, ErrAlreadyOpen)
	}

	err := ValidateMode(r.owner.Scope, mode)
	if err != nil {
		return nil, fmt.Errorf("adopting %s: %w", loc, err)
	}

	h := &Handle{reg: r, loc: loc, table: table, mode: mode, refs: 1}
	r.insert(h)

	r.logger.Debug("adopted table", "location", loc.String(), "mode", mode.String())

	return h, nil
}

// insert must be called with mu held.
func (r *registry) insert(h *Handle) {
	if _, dup := r.entries[h.loc]; dup {
		panic(fmt.Errorf("%w: %s registered twice in %s", ErrInvariantViolation, h.loc, r.owner))
	}

	r.entries[h.loc] = h
}

func (r *registry) release(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.closed {
		return fmt.Errorf("closing %s: %w", h.loc, ErrClosed)
	}

	h.refs--
	if h.refs > 0 {
		return nil
	}

	h.closed = true
	delete(r.entries, h.loc)

	err := h.table.Close()
	if err != nil {
		r.logger.Warn("close failed", "location", h.loc.String(), "error", err)

		return fmt.Errorf("closing %s: %w", h.loc, err)
	}

	r.logger.Debug("closed table", "location", h.loc.String())

	return nil
}

// closeAll closes every registered table regardless of reference counts.
// Tables that fail to close stay registered and usable.
func (r *registry) closeAll() []*CloseFailure {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failures []*CloseFailure

	for _, loc := range slices.Sorted(maps.Keys(r.entries)) {
		h := r.entries[loc]

		err := h.table.Close()
		if err != nil {
			r.logger.Warn("close failed", "location", loc.String(), "error", err)
			failures = append(failures, &CloseFailure{Location: loc, Worker: r.owner.Worker, Err: err})

			continue
		}

		h.closed = true
		delete(r.entries, loc)
	}

	return failures
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

func (r *registry) snapshot() []HandleInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]HandleInfo, 0, len(r.entries))
	for _, h := range r.entries {
		infos = append(infos, HandleInfo{
			Location: h.loc,
			Mode:     h.mode,
			RefCount: h.refs,
			Owner:    r.owner,
		})
	}

	return infos
}
