package tablecache

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
)

// Location is the canonical identity of a table: an absolute, cleaned path
// with symlinks resolved. Two paths naming the same directory resolve to the
// same Location.
type Location string

func (l Location) String() string {
	return string(l)
}

// ResolveLocation canonicalizes path.
//
// A path that does not exist yet (a table about to be created) resolves
// through its parent directory when that exists, and to its cleaned absolute
// form otherwise.
func ResolveLocation(path string) (Location, error) {
	if path == "" {
		return "", fmt.Errorf("path is required: %w", ErrInvalidInput)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", path, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return Location(resolved), nil
	}

	if !errors.Is(err, iofs.ErrNotExist) {
		return "", fmt.Errorf("resolving %q: %w", path, err)
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err == nil {
		return Location(filepath.Join(parent, filepath.Base(abs))), nil
	}

	return Location(abs), nil
}
