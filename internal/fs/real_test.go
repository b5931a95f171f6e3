package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func Test_Real_Exists_Returns_False_When_Path_Does_Not_Exist(t *testing.T) {
	t.Parallel()

	fs := NewReal()

	exists, err := fs.Exists(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Exists(): err=%v, want nil", err)
	}

	if exists {
		t.Fatal("Exists()=true, want false")
	}
}

func Test_Real_Exists_Returns_True_When_Path_Is_A_File_Or_Directory(t *testing.T) {
	t.Parallel()

	fs := NewReal()
	dir := t.TempDir()
	path := filepath.Join(dir, "table.info")

	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	for _, p := range []string{path, dir} {
		exists, err := fs.Exists(p)
		if err != nil || !exists {
			t.Fatalf("Exists(%q)=(%v, %v), want (true, nil)", p, exists, err)
		}
	}
}

func Test_Real_WriteFileAtomic_Replaces_Content_And_Applies_Perm(t *testing.T) {
	t.Parallel()

	fs := NewReal()
	path := filepath.Join(t.TempDir(), "table.info")

	if err := fs.WriteFileAtomic(path, []byte("v1"), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic() v1: %v", err)
	}

	if err := fs.WriteFileAtomic(path, []byte("v2"), 0o640); err != nil {
		t.Fatalf("WriteFileAtomic() v2: %v", err)
	}

	data, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(): %v", err)
	}

	if got, want := string(data), "v2"; got != want {
		t.Fatalf("content=%q, want %q", got, want)
	}

	info, err := fs.Stat(path)
	if err != nil {
		t.Fatalf("Stat(): %v", err)
	}

	if got, want := info.Mode().Perm(), os.FileMode(0o640); got != want {
		t.Fatalf("perm=%v, want %v", got, want)
	}
}

func Test_Real_WriteFileAtomic_Returns_Error_When_Directory_Is_Missing(t *testing.T) {
	t.Parallel()

	fs := NewReal()
	path := filepath.Join(t.TempDir(), "missing", "table.info")

	err := fs.WriteFileAtomic(path, []byte("x"), 0o644)
	if err == nil {
		t.Fatal("WriteFileAtomic() into missing dir: err=nil, want error")
	}

	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("Stat() after failed write: err=%v, want %v", statErr, os.ErrNotExist)
	}
}
