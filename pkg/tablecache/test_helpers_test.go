package tablecache_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/calvinalkan/tablecache/pkg/tablecache"
)

var (
	errDiskFull = errors.New("disk full")
	errLocked   = errors.New("locked by another writer")
	errNoTable  = errors.New("no such table")
)

// memEngine is an in-memory [tablecache.Engine] whose tables can be told to
// fail opens, reopens and closes.
type memEngine struct {
	mu      sync.Mutex
	opens   map[tablecache.Location]int
	openErr map[tablecache.Location]error
	tables  map[tablecache.Location][]*memTable
	delay   time.Duration
}

func newMemEngine() *memEngine {
	return &memEngine{
		opens:   make(map[tablecache.Location]int),
		openErr: make(map[tablecache.Location]error),
		tables:  make(map[tablecache.Location][]*memTable),
	}
}

func (e *memEngine) Open(loc tablecache.Location, mode tablecache.LockMode) (tablecache.Table, error) {
	e.mu.Lock()
	delay := e.delay
	e.opens[loc]++
	err := e.openErr[loc]
	e.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if err != nil {
		return nil, err
	}

	t := &memTable{loc: loc, writable: mode == tablecache.ReadWrite}

	e.mu.Lock()
	e.tables[loc] = append(e.tables[loc], t)
	e.mu.Unlock()

	return t, nil
}

func (e *memEngine) failOpen(loc tablecache.Location, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.openErr[loc] = err
}

func (e *memEngine) openCount(loc tablecache.Location) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.opens[loc]
}

// latest returns the most recently opened table for loc.
func (e *memEngine) latest(t *testing.T, loc tablecache.Location) *memTable {
	t.Helper()

	e.mu.Lock()
	defer e.mu.Unlock()

	tables := e.tables[loc]
	if len(tables) == 0 {
		t.Fatalf("no table opened for %s", loc)
	}

	return tables[len(tables)-1]
}

// memTable counts lifecycle calls. A failing Close leaves it open.
type memTable struct {
	mu        sync.Mutex
	loc       tablecache.Location
	writable  bool
	closed    bool
	closes    int
	reopens   int
	closeErr  error
	reopenErr error
}

func (m *memTable) Reopen(mode tablecache.LockMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reopens++

	if m.closed {
		return errors.New("reopen after close")
	}

	if m.reopenErr != nil {
		return m.reopenErr
	}

	m.writable = mode == tablecache.ReadWrite

	return nil
}

func (m *memTable) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closes++

	if m.closeErr != nil {
		return m.closeErr
	}

	m.closed = true

	return nil
}

func (m *memTable) IsWritable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.writable && !m.closed
}

func (m *memTable) failClose(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeErr = err
}

func (m *memTable) failReopen(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reopenErr = err
}

func (m *memTable) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

func (m *memTable) closeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closes
}

func newTestController(t *testing.T, scope tablecache.Scope) (*tablecache.Controller, *memEngine) {
	t.Helper()

	engine := newMemEngine()

	ctl, err := tablecache.New(engine, tablecache.Options{Scope: scope})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return ctl, engine
}

func mustOpen(t *testing.T, ctl *tablecache.Controller, worker tablecache.WorkerID, loc tablecache.Location, mode tablecache.LockMode) *tablecache.Handle {
	t.Helper()

	h, err := ctl.OpenLocation(worker, loc, mode)
	if err != nil {
		t.Fatalf("OpenLocation(%q, %s, %s): %v", worker, loc, mode, err)
	}

	return h
}
