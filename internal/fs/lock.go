package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned when a lock cannot be acquired without waiting.
	//
	// It is returned by [Locker.TryLock]/[Locker.TryRLock] when the lock is held
	// elsewhere, and by the *WithTimeout methods and [Lock.Upgrade] when the
	// timeout expires.
	ErrWouldBlock = errors.New("lock would block")

	// ErrInvalidTimeout is returned when a timeout is <= 0.
	ErrInvalidTimeout = errors.New("invalid lock timeout")

	// ErrLockLost is returned by [Lock.Upgrade] when the upgrade failed and the
	// shared lock could not be restored. The lock is released in that case.
	ErrLockLost = errors.New("lock lost")

	// errInodeMismatch is an internal sentinel indicating the lock file was
	// replaced between open and flock. Callers should retry.
	errInodeMismatch = errors.New("inode mismatch")
)

// Locker provides file-based locking using flock(2).
//
// flock is advisory and applies to an open file description, not a pathname.
// A table lock file must stay stable on disk while locks may be held; do not
// replace or unlink it.
//
// Locker verifies that the descriptor it locked still refers to the file at
// path at the moment the lock is acquired, so a lock file swapped during the
// open→lock window is retried instead of silently locking a stale inode.
//
// Because flock locks belong to an open file description, two locks taken by
// the same process through different descriptors conflict with each other
// exactly like locks taken by different processes. Upgrading a shared lock
// must therefore go through [Lock.Upgrade] on the same [Lock].
//
// This implementation is Unix-only. It is safe for concurrent use as long as
// the underlying [FS] is.
type Locker struct {
	fs    FS
	flock func(fd int, how int) error
}

// NewLocker creates a Locker that uses the given filesystem for file operations.
func NewLocker(fs FS) *Locker {
	return &Locker{
		fs:    fs,
		flock: unix.Flock,
	}
}

// Lock represents a held file lock. Call [Lock.Close] to release it.
type Lock struct {
	mu        sync.Mutex
	file      File
	path      string
	exclusive bool
	flock     func(fd int, how int) error
}

// Path returns the lock file path.
func (lk *Lock) Path() string {
	return lk.path
}

// Exclusive reports whether the lock is currently held in exclusive mode.
// Returns false once the lock is closed.
func (lk *Lock) Exclusive() bool {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	return lk.file != nil && lk.exclusive
}

// Upgrade converts a shared lock into an exclusive lock, polling until the
// timeout expires. It is a no-op on a lock that is already exclusive.
//
// flock(2) does not convert locks atomically: the kernel drops the shared lock
// before trying to take the exclusive one. If the upgrade times out, Upgrade
// retakes the shared lock and returns an error wrapping [ErrWouldBlock]. If a
// writer slipped in and the shared lock cannot be retaken either, the lock is
// released and the error also wraps [ErrLockLost].
func (lk *Lock) Upgrade(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: timeout must be > 0", ErrInvalidTimeout)
	}

	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return fmt.Errorf("upgrading lock %s: %w", lk.path, os.ErrClosed)
	}

	if lk.exclusive {
		return nil
	}

	fd := int(lk.file.Fd())
	deadline := time.Now().Add(timeout)
	backoff := time.Millisecond

	for {
		err := flockRetryEINTR(lk.flock, fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			lk.exclusive = true

			return nil
		}

		if !isWouldBlock(err) {
			return lk.restoreShared(fd, fmt.Errorf("upgrading lock %s: flock: %w", lk.path, err))
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return lk.restoreShared(fd, fmt.Errorf("%w: upgrading lock %s timed out after %s", ErrWouldBlock, lk.path, timeout))
		}

		time.Sleep(min(backoff, remaining))

		backoff = min(backoff*2, 25*time.Millisecond)
	}
}

// restoreShared retakes the shared lock after a failed upgrade. cause is
// returned as-is on success.
func (lk *Lock) restoreShared(fd int, cause error) error {
	err := flockRetryEINTR(lk.flock, fd, unix.LOCK_SH|unix.LOCK_NB)
	if err == nil {
		return cause
	}

	closeErr := lk.file.Close()
	lk.file = nil

	return errors.Join(cause, fmt.Errorf("%w: restoring shared lock: %w", ErrLockLost, err), closeErr)
}

// Close releases the lock and closes the underlying file descriptor.
//
// Close is idempotent - calling it multiple times is safe and subsequent calls
// return nil.
//
// Closing the descriptor releases the flock even when the explicit unlock
// fails. If both unlocking and closing fail, Close returns an error that wraps
// both (see [errors.Join]); the caller cannot make strong guarantees about the
// lock state afterward, so logging it is all that is reasonable.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	fd := int(lk.file.Fd())

	unlockErr := flockRetryEINTR(lk.flock, fd, unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking %s: %w", lk.path, unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing lock fd %s: %w", lk.path, closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// Lock acquires an exclusive lock on the file at path, blocking until the lock
// is available. Missing files and parent directories are created.
//
// There is no timeout; prefer [Locker.LockWithTimeout] when the holder may be
// another long-lived table handle.
func (l *Locker) Lock(path string) (*Lock, error) {
	return l.lockBlocking(path, exclusiveLock)
}

// RLock acquires a shared lock on the file at path, blocking until the lock
// is available. Any number of shared locks may be held together; they exclude
// exclusive locks and vice versa.
func (l *Locker) RLock(path string) (*Lock, error) {
	return l.lockBlocking(path, sharedLock)
}

// LockWithTimeout attempts to acquire an exclusive lock, retrying with
// exponential backoff (1ms to 25ms) until the timeout expires.
//
// The timeout is best-effort and may overshoot slightly under scheduler delay.
//
// Returns an error satisfying [errors.Is] with [ErrWouldBlock] if the timeout
// expires, and [ErrInvalidTimeout] if timeout <= 0.
func (l *Locker) LockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be > 0", ErrInvalidTimeout)
	}

	return l.lockPolling(path, exclusiveLock, timeout)
}

// RLockWithTimeout is [Locker.LockWithTimeout] for a shared lock.
func (l *Locker) RLockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be > 0", ErrInvalidTimeout)
	}

	return l.lockPolling(path, sharedLock, timeout)
}

// TryLock attempts to acquire an exclusive lock without blocking.
// Returns [ErrWouldBlock] immediately on contention.
func (l *Locker) TryLock(path string) (*Lock, error) {
	return l.lockPolling(path, exclusiveLock, 0)
}

// TryRLock attempts to acquire a shared lock without blocking.
// Returns [ErrWouldBlock] immediately if an exclusive lock is held.
func (l *Locker) TryRLock(path string) (*Lock, error) {
	return l.lockPolling(path, sharedLock, 0)
}

type lockType int

const (
	sharedLock    lockType = unix.LOCK_SH
	exclusiveLock lockType = unix.LOCK_EX
)

type lockMode int

const (
	lockModeBlocking lockMode = iota + 1
	lockModeNonBlocking
)

func (l *Locker) newLock(file File, path string, lt lockType) *Lock {
	return &Lock{file: file, path: path, exclusive: lt == exclusiveLock, flock: l.flock}
}

func (l *Locker) lockBlocking(path string, lt lockType) (*Lock, error) {
	for {
		file, err := l.openLockFile(path)
		if err != nil {
			return nil, fmt.Errorf("opening lockfile: %w", err)
		}

		err = l.acquire(file, path, lt, lockModeBlocking)
		if err == nil {
			return l.newLock(file, path, lt), nil
		}

		_ = file.Close()

		if errors.Is(err, errInodeMismatch) {
			continue
		}

		return nil, err
	}
}

// lockPolling attempts to acquire a lock using non-blocking flock with retries.
//
//   - timeout == 0: try once (TryLock behavior)
//   - timeout > 0: retry with backoff until timeout (LockWithTimeout behavior)
func (l *Locker) lockPolling(path string, lt lockType, timeout time.Duration) (*Lock, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	backoff := time.Millisecond

	for {
		file, err := l.openLockFile(path)
		if err != nil {
			return nil, fmt.Errorf("opening lockfile: %w", err)
		}

		err = l.acquire(file, path, lt, lockModeNonBlocking)
		if err == nil {
			return l.newLock(file, path, lt), nil
		}

		_ = file.Close()

		retryable := errors.Is(err, ErrWouldBlock) || errors.Is(err, errInodeMismatch)
		if !retryable {
			return nil, err
		}

		if timeout == 0 {
			return nil, fmt.Errorf("%w: %s", ErrWouldBlock, path)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s: timed out after %s", ErrWouldBlock, path, timeout)
		}

		time.Sleep(min(backoff, remaining))

		backoff = min(backoff*2, 25*time.Millisecond)
	}
}

// acquire flocks file and verifies the inode still matches path. On failure
// the file is unlocked (if needed) but NOT closed - the caller must close it.
//
// Returns:
//   - nil: lock acquired
//   - ErrWouldBlock: lock held elsewhere (only when mode==lockModeNonBlocking)
//   - errInodeMismatch: file at path was replaced, caller should retry
//   - other error: something went wrong
func (l *Locker) acquire(file File, path string, lt lockType, mode lockMode) error {
	fd := int(file.Fd())

	flags := int(lt)
	if mode == lockModeNonBlocking {
		flags |= unix.LOCK_NB
	}

	if err := flockRetryEINTR(l.flock, fd, flags); err != nil {
		if isWouldBlock(err) {
			return ErrWouldBlock
		}

		return fmt.Errorf("flock: %w", err)
	}

	match, err := l.inodeMatchesPath(path, file)
	if err != nil {
		_ = flockRetryEINTR(l.flock, fd, unix.LOCK_UN)
		if errors.Is(err, os.ErrNotExist) {
			return errInodeMismatch
		}

		return fmt.Errorf("verifying inode match: %w", err)
	}

	if !match {
		_ = flockRetryEINTR(l.flock, fd, unix.LOCK_UN)

		return errInodeMismatch
	}

	return nil
}

const (
	lockFilePerm = 0o644
	lockDirPerm  = 0o755
)

// openLockFile opens the lock file read-write for both lock types, so a
// shared lock can later be upgraded on the same descriptor.
func (l *Locker) openLockFile(path string) (File, error) {
	f, err := l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), lockDirPerm); err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
}

// inodeMatchesPath compares (dev,inode) of the open fd to the current
// (dev,inode) at path. A mismatch means path was renamed over or recreated
// after we opened it, and our flock would guard an orphaned inode.
func (l *Locker) inodeMatchesPath(path string, f File) (bool, error) {
	openInfo, err := f.Stat()
	if err != nil {
		return false, err
	}

	openSys, ok := openInfo.Sys().(*syscall.Stat_t)
	if !ok || openSys == nil {
		return false, fmt.Errorf("file.Stat Sys=%T, want *syscall.Stat_t", openInfo.Sys())
	}

	pathInfo, err := l.fs.Stat(path)
	if err != nil {
		return false, err
	}

	pathSys, ok := pathInfo.Sys().(*syscall.Stat_t)
	if !ok || pathSys == nil {
		return false, fmt.Errorf("fs.Stat Sys=%T, want *syscall.Stat_t", pathInfo.Sys())
	}

	return openSys.Dev == pathSys.Dev && openSys.Ino == pathSys.Ino, nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN)
}

// flockRetryEINTR wraps flock, retrying on EINTR.
//
// Signals such as SIGCHLD or SIGWINCH interrupt blocking syscalls; the call
// did not fail and only needs retrying. The retry cap keeps a signal storm
// from spinning forever.
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
