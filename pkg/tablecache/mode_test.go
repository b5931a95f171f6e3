package tablecache_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tablecache/pkg/tablecache"
)

func Test_ParseLockMode_Accepts_Aliases_When_Case_Differs(t *testing.T) {
	t.Parallel()

	cases := map[string]tablecache.LockMode{
		"ro":         tablecache.ReadOnly,
		"ReadOnly":   tablecache.ReadOnly,
		" read-only": tablecache.ReadOnly,
		"RW":         tablecache.ReadWrite,
		"readwrite":  tablecache.ReadWrite,
		"read-write": tablecache.ReadWrite,
	}

	for in, want := range cases {
		got, err := tablecache.ParseLockMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := tablecache.ParseLockMode("append")
	assert.ErrorIs(t, err, tablecache.ErrInvalidInput)
}

func Test_ParseScope_Accepts_Aliases_When_Valid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"process", "Process-Wide"} {
		got, err := tablecache.ParseScope(in)
		require.NoError(t, err, in)
		assert.Equal(t, tablecache.ProcessWide, got, in)
	}

	for _, in := range []string{"thread", "per-thread"} {
		got, err := tablecache.ParseScope(in)
		require.NoError(t, err, in)
		assert.Equal(t, tablecache.PerThread, got, in)
	}

	_, err := tablecache.ParseScope("global")
	assert.ErrorIs(t, err, tablecache.ErrInvalidInput)
}

func Test_String_Round_Trips_Through_Parse_When_Value_Is_Known(t *testing.T) {
	t.Parallel()

	for _, m := range []tablecache.LockMode{tablecache.ReadOnly, tablecache.ReadWrite} {
		got, err := tablecache.ParseLockMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	for _, s := range []tablecache.Scope{tablecache.ProcessWide, tablecache.PerThread} {
		got, err := tablecache.ParseScope(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	assert.Equal(t, "LockMode(5)", tablecache.LockMode(5).String())
	assert.Equal(t, "Scope(5)", tablecache.Scope(5).String())
}

func Test_ValidateMode_Rejects_Writable_Origination_When_Scope_Is_PerThread(t *testing.T) {
	t.Parallel()

	require.NoError(t, tablecache.ValidateMode(tablecache.ProcessWide, tablecache.ReadOnly))
	require.NoError(t, tablecache.ValidateMode(tablecache.ProcessWide, tablecache.ReadWrite))
	require.NoError(t, tablecache.ValidateMode(tablecache.PerThread, tablecache.ReadOnly))

	err := tablecache.ValidateMode(tablecache.PerThread, tablecache.ReadWrite)
	require.ErrorIs(t, err, tablecache.ErrPolicyViolation)

	err = tablecache.ValidateMode(tablecache.Scope(3), tablecache.ReadOnly)
	require.ErrorIs(t, err, tablecache.ErrInvalidInput)
}

func Test_ResolveLocation_Canonicalizes_Path_When_Target_Missing_Or_Aliased(t *testing.T) {
	t.Parallel()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	missing, err := tablecache.ResolveLocation(filepath.Join(dir, "sub", "..", "new"))
	require.NoError(t, err)
	assert.Equal(t, tablecache.Location(filepath.Join(dir, "new")), missing)

	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(dir, link))

	// Parent resolved through the symlink even though the leaf is missing.
	viaLink, err := tablecache.ResolveLocation(filepath.Join(link, "new"))
	require.NoError(t, err)
	assert.Equal(t, missing, viaLink)

	_, err = tablecache.ResolveLocation("")
	assert.True(t, errors.Is(err, tablecache.ErrInvalidInput))
}

func Test_ScopeSwitchError_Unwraps_To_Each_Failure_When_Inspected(t *testing.T) {
	t.Parallel()

	err := error(&tablecache.ScopeSwitchError{
		From: tablecache.PerThread,
		To:   tablecache.ProcessWide,
		Failures: []*tablecache.CloseFailure{
			{Location: locA, Worker: "w1", Err: errDiskFull},
			{Location: locB, Err: errLocked},
		},
	})

	assert.ErrorIs(t, err, tablecache.ErrScopeSwitch)
	assert.ErrorIs(t, err, errDiskFull)
	assert.ErrorIs(t, err, errLocked)
	assert.Contains(t, err.Error(), "per-thread to process-wide: 2 table(s) still open")
	assert.Contains(t, err.Error(), "(worker w1)")
}
