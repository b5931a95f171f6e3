package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// InjectedError marks an error as intentionally injected by [Faulty].
//
// It wraps the underlying error so errors.Is/As continue to work.
type InjectedError struct {
	Op   Op
	Path string
	Err  error
}

// Error returns the operation, path and the underlying error's message.
func (e *InjectedError) Error() string {
	return string(e.Op) + " " + e.Path + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *InjectedError) Unwrap() error {
	return e.Err
}

// IsInjected reports whether err (or any wrapped error) was injected by [Faulty].
// Returns false if err is nil.
func IsInjected(err error) bool {
	if err == nil {
		return false
	}

	var injected *InjectedError

	return errors.As(err, &injected)
}

// Faulty wraps an [FS] and fails operations that match registered rules.
//
// Unlike random chaos testing, injection is deterministic: a rule matches an
// [Op] and a path suffix, and fails the next n matching calls (or all of them
// when n < 0). Calls that match no rule pass through to the wrapped FS.
//
// Faulty is safe for concurrent use.
type Faulty struct {
	fs FS

	mu    sync.Mutex
	rules []*faultRule
	hits  map[Op]int
}

type faultRule struct {
	op        Op
	suffix    string
	err       error
	remaining int // < 0 means unlimited
}

// NewFaulty returns a [Faulty] that passes every call through to fs until
// rules are added.
func NewFaulty(fs FS) *Faulty {
	return &Faulty{
		fs:   fs,
		hits: make(map[Op]int),
	}
}

// FailNext makes the next n calls of op on a path ending in suffix return err
// wrapped in an [InjectedError]. n < 0 fails every matching call until
// [Faulty.Reset].
func (f *Faulty) FailNext(op Op, suffix string, n int, err error) {
	if err == nil {
		err = errInjected
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = append(f.rules, &faultRule{op: op, suffix: suffix, err: err, remaining: n})
}

// FailAlways is FailNext with an unlimited count.
func (f *Faulty) FailAlways(op Op, suffix string, err error) {
	f.FailNext(op, suffix, -1, err)
}

// Reset removes every rule. Hit counters are kept.
func (f *Faulty) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = nil
}

// Injected returns how many errors were injected for op.
func (f *Faulty) Injected(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.hits[op]
}

func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := f.check(OpOpenFile, path); err != nil {
		return nil, err
	}

	return f.fs.OpenFile(path, flag, perm)
}

func (f *Faulty) ReadFile(path string) ([]byte, error) {
	if err := f.check(OpReadFile, path); err != nil {
		return nil, err
	}

	return f.fs.ReadFile(path)
}

func (f *Faulty) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := f.check(OpWriteFileAtomic, path); err != nil {
		return err
	}

	return f.fs.WriteFileAtomic(path, data, perm)
}

func (f *Faulty) MkdirAll(path string, perm os.FileMode) error {
	if err := f.check(OpMkdirAll, path); err != nil {
		return err
	}

	return f.fs.MkdirAll(path, perm)
}

func (f *Faulty) Stat(path string) (os.FileInfo, error) {
	if err := f.check(OpStat, path); err != nil {
		return nil, err
	}

	return f.fs.Stat(path)
}

// Exists is governed by [OpStat] rules.
func (f *Faulty) Exists(path string) (bool, error) {
	if err := f.check(OpStat, path); err != nil {
		return false, err
	}

	return f.fs.Exists(path)
}

// --- Private api ---

var errInjected = errors.New("injected fault")

func (f *Faulty) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.rules {
		if r.op != op || r.remaining == 0 || !strings.HasSuffix(path, r.suffix) {
			continue
		}

		if r.remaining > 0 {
			r.remaining--
		}

		f.hits[op]++

		return &InjectedError{Op: op, Path: path, Err: r.err}
	}

	return nil
}

// Compile-time interface check.
var _ FS = (*Faulty)(nil)
