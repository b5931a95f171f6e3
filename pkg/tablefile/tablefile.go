// Package tablefile stores tables as directories and implements
// [tablecache.Engine] on top of them.
//
// A table directory holds [InfoFile] and [LockFile]. A read-only open holds a
// shared flock on the lock file and a read-write open an exclusive one, so
// readers and one writer exclude each other across processes.
//
// Locks belong to the open file, not the process. Two Tables for one location
// in the same process conflict exactly like two processes would; sharing one
// Table per location is what [tablecache] is for.
package tablefile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/calvinalkan/tablecache/internal/fs"
	"github.com/calvinalkan/tablecache/internal/logging"
	"github.com/calvinalkan/tablecache/pkg/tablecache"
)

// DefaultLockTimeout bounds lock acquisition and upgrades when
// [Options.LockTimeout] is zero.
const DefaultLockTimeout = 2 * time.Second

// Options configures an [Engine].
type Options struct {
	// FS is the filesystem tables live on. Nil uses [fs.NewReal].
	FS fs.FS

	// LockTimeout bounds how long an open or upgrade waits for a conflicting
	// holder. Zero uses [DefaultLockTimeout].
	LockTimeout time.Duration

	// CreateMissing makes a read-write open of a missing table create it.
	CreateMissing bool

	// Logger receives Debug events for lock acquisition and flushes. Nil
	// discards.
	Logger *slog.Logger

	// Now overrides the clock for timestamps.
	Now func() time.Time
}

// Engine opens table directories.
//
// An Engine is safe for concurrent use.
type Engine struct {
	fs            fs.FS
	locker        *fs.Locker
	timeout       time.Duration
	createMissing bool
	logger        *slog.Logger
	now           func() time.Time
}

var _ tablecache.Engine = (*Engine)(nil)

// New creates an Engine.
func New(opts Options) *Engine {
	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	timeout := opts.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		fs:            fsys,
		locker:        fs.NewLocker(fsys),
		timeout:       timeout,
		createMissing: opts.CreateMissing,
		logger:        logger,
		now:           now,
	}
}

// Open implements [tablecache.Engine].
func (e *Engine) Open(loc tablecache.Location, mode tablecache.LockMode) (tablecache.Table, error) {
	t, err := e.OpenTable(loc, mode)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// OpenTable opens the table at loc, waiting up to the lock timeout for
// conflicting holders.
//
// Returns [ErrNoTable] if loc has no table, unless CreateMissing is set and
// mode is [tablecache.ReadWrite].
func (e *Engine) OpenTable(loc tablecache.Location, mode tablecache.LockMode) (*Table, error) {
	dir := string(loc)
	infoPath := filepath.Join(dir, InfoFile)

	exists, err := e.fs.Exists(infoPath)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", dir, err)
	}

	if !exists && !(e.createMissing && mode == tablecache.ReadWrite) {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, dir)
	}

	lock, err := e.acquire(dir, mode)
	if err != nil {
		return nil, err
	}

	info, err := e.loadOrInit(dir, mode)
	if err != nil {
		_ = lock.Close()

		return nil, err
	}

	e.logger.Debug("opened table file", "location", dir, "mode", mode.String(), "version", info.Version)

	return &Table{
		engine:   e,
		loc:      loc,
		lock:     lock,
		info:     info,
		writable: mode == tablecache.ReadWrite,
	}, nil
}

// Create creates an empty table at path. The directory may already exist but
// must not hold a table.
func (e *Engine) Create(path string) (Info, error) {
	loc, err := tablecache.ResolveLocation(path)
	if err != nil {
		return Info{}, err
	}

	dir := string(loc)

	err = e.fs.MkdirAll(dir, 0o755)
	if err != nil {
		return Info{}, fmt.Errorf("creating %s: %w", dir, err)
	}

	lock, err := e.acquire(dir, tablecache.ReadWrite)
	if err != nil {
		return Info{}, err
	}

	defer func() { _ = lock.Close() }()

	exists, err := e.fs.Exists(filepath.Join(dir, InfoFile))
	if err != nil {
		return Info{}, fmt.Errorf("checking %s: %w", dir, err)
	}

	if exists {
		return Info{}, fmt.Errorf("%w: %s", ErrExists, dir)
	}

	return e.initInfo(dir)
}

// Stat reads the info file at path without locking. Info files are replaced
// atomically, so a concurrent writer is never observed half-way.
func (e *Engine) Stat(path string) (Info, error) {
	loc, err := tablecache.ResolveLocation(path)
	if err != nil {
		return Info{}, err
	}

	return e.readInfo(string(loc))
}

func (e *Engine) acquire(dir string, mode tablecache.LockMode) (*fs.Lock, error) {
	lockPath := filepath.Join(dir, LockFile)

	var (
		lock *fs.Lock
		err  error
	)

	if mode == tablecache.ReadWrite {
		lock, err = e.locker.LockWithTimeout(lockPath, e.timeout)
	} else {
		lock, err = e.locker.RLockWithTimeout(lockPath, e.timeout)
	}

	if err != nil {
		return nil, fmt.Errorf("locking %s %s: %w", dir, mode, err)
	}

	return lock, nil
}

// loadOrInit must be called with the table lock held.
func (e *Engine) loadOrInit(dir string, mode tablecache.LockMode) (Info, error) {
	info, err := e.readInfo(dir)
	if err == nil || !errors.Is(err, ErrNoTable) {
		return info, err
	}

	if !e.createMissing || mode != tablecache.ReadWrite {
		return Info{}, err
	}

	info, err = e.initInfo(dir)
	if err != nil {
		return Info{}, err
	}

	e.logger.Debug("created table", "location", dir)

	return info, nil
}

func (e *Engine) initInfo(dir string) (Info, error) {
	now := e.now().UTC()
	info := Info{Name: filepath.Base(dir), CreatedAt: now, UpdatedAt: now}

	err := e.writeInfo(dir, info)
	if err != nil {
		return Info{}, err
	}

	return info, nil
}

func (e *Engine) readInfo(dir string) (Info, error) {
	data, err := e.fs.ReadFile(filepath.Join(dir, InfoFile))
	if errors.Is(err, os.ErrNotExist) {
		return Info{}, fmt.Errorf("%w: %s", ErrNoTable, dir)
	}

	if err != nil {
		return Info{}, fmt.Errorf("reading %s: %w", dir, err)
	}

	info, err := decodeInfo(data)
	if err != nil {
		return Info{}, fmt.Errorf("reading %s: %w", dir, err)
	}

	return info, nil
}

func (e *Engine) writeInfo(dir string, info Info) error {
	data, err := encodeInfo(info)
	if err != nil {
		return err
	}

	err = e.fs.WriteFileAtomic(filepath.Join(dir, InfoFile), data, 0o644)
	if err != nil {
		return fmt.Errorf("writing %s: %w", dir, err)
	}

	return nil
}

// Table is one open table directory. It implements [tablecache.Table].
//
// A Table is safe for concurrent use.
type Table struct {
	engine *Engine
	loc    tablecache.Location

	mu       sync.Mutex
	lock     *fs.Lock
	info     Info
	writable bool
	closed   bool
}

var _ tablecache.Table = (*Table)(nil)

// Location returns the table directory.
func (t *Table) Location() tablecache.Location {
	return t.loc
}

// Info returns the metadata loaded at open, or written by the last flush.
func (t *Table) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.info
}

// IsWritable implements [tablecache.Table].
func (t *Table) IsWritable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.writable && !t.closed
}

// Reopen implements [tablecache.Table]. Upgrading to read-write takes the
// exclusive lock in place and fails with an error wrapping [fs.ErrWouldBlock]
// while another holder remains after the lock timeout. Downgrading returns
// [ErrDowngrade].
//
// If the shared lock is lost during a failed upgrade ([fs.ErrLockLost]) the
// table is closed.
func (t *Table) Reopen(mode tablecache.LockMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("reopening %s: %w", t.loc, os.ErrClosed)
	}

	if mode != tablecache.ReadWrite {
		if t.writable {
			return fmt.Errorf("reopening %s %s: %w", t.loc, mode, ErrDowngrade)
		}

		return nil
	}

	if t.writable {
		return nil
	}

	err := t.lock.Upgrade(t.engine.timeout)
	if err != nil {
		if errors.Is(err, fs.ErrLockLost) {
			t.closed = true
			t.engine.logger.Warn("lost table lock during upgrade", "location", t.loc.String(), "error", err)
		}

		return fmt.Errorf("reopening %s %s: %w", t.loc, mode, err)
	}

	t.writable = true
	t.engine.logger.Debug("upgraded table lock", "location", t.loc.String())

	return nil
}

// Close implements [tablecache.Table]. A writable table first flushes its
// info file with the version incremented; if that fails the table stays open
// and writable and Close may be retried. Close is idempotent.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	if t.writable {
		info := t.info
		info.Version++
		info.UpdatedAt = t.engine.now().UTC()

		err := t.engine.writeInfo(string(t.loc), info)
		if err != nil {
			return fmt.Errorf("flushing %s: %w", t.loc, err)
		}

		t.info = info
		t.engine.logger.Debug("flushed table", "location", t.loc.String(), "version", info.Version)
	}

	t.closed = true

	err := t.lock.Close()
	if err != nil {
		return fmt.Errorf("releasing %s: %w", t.loc, err)
	}

	return nil
}
