package lock

import (
	"errors"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/highmark/internal/process"
	"github.com/roach88/highmark/internal/testutil"
)

func testEnv(pid int) process.Env {
	return process.Env{
		PID:    pid,
		Clock:  testutil.NewFixedClock(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)),
		Tokens: process.NewSequenceGenerator("t"),
	}
}

func TestAcquire_WritesHolder(t *testing.T) {
	root := t.TempDir()
	h, err := Acquire(nil, root, testEnv(1234))
	require.NoError(t, err)
	defer h.Release()

	data, err := os.ReadFile(Path(root))
	require.NoError(t, err)
	assert.Equal(t, "1234\n2026-02-03T04:05:06Z\n", string(data))
}

func TestAcquire_SecondCallFailsImmediately(t *testing.T) {
	root := t.TempDir()
	h, err := Acquire(nil, root, testEnv(1))
	require.NoError(t, err)
	defer h.Release()

	before, err := os.ReadFile(Path(root))
	require.NoError(t, err)

	start := time.Now()
	_, err = Acquire(nil, root, testEnv(2))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, errors.Is(err, ErrHeld))

	var held *HeldError
	require.ErrorAs(t, err, &held)
	require.NotNil(t, held.Holder)
	assert.Equal(t, 1, held.Holder.PID)
	assert.Contains(t, err.Error(), "highmark unlock")

	after, err := os.ReadFile(Path(root))
	require.NoError(t, err)
	assert.Equal(t, before, after, "existing lock must be left untouched")
}

func TestAcquire_UnreadableHolder(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(Path(root), []byte("garbage"), 0o644))

	_, err := Acquire(nil, root, testEnv(1))
	var held *HeldError
	require.ErrorAs(t, err, &held)
	assert.Nil(t, held.Holder)
}

func TestAcquire_MissingRoot(t *testing.T) {
	_, err := Acquire(nil, "/nonexistent/highmark/root", testEnv(1))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrHeld))
}

func TestRelease_Idempotent(t *testing.T) {
	root := t.TempDir()
	h, err := Acquire(nil, root, testEnv(1))
	require.NoError(t, err)

	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
	_, err = os.Stat(Path(root))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	again, err := Acquire(nil, root, testEnv(2))
	require.NoError(t, err)
	defer again.Release()

	// A stale handle must not remove someone else's lock.
	require.NoError(t, h.Release())
	assert.FileExists(t, Path(root))
}

func TestParse(t *testing.T) {
	h, err := Parse("77\n2026-01-01T00:00:00Z\n")
	require.NoError(t, err)
	assert.Equal(t, 77, h.PID)

	_, err = Parse("77")
	assert.Error(t, err)
	_, err = Parse("x\n2026-01-01T00:00:00Z")
	assert.Error(t, err)
	_, err = Parse("1\nyesterday")
	assert.Error(t, err)
}

func TestInspectAndForceRemove(t *testing.T) {
	root := t.TempDir()
	_, err := Inspect(nil, root)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	removed, err := ForceRemove(nil, root)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = Acquire(nil, root, testEnv(9))
	require.NoError(t, err)
	h, err := Inspect(nil, root)
	require.NoError(t, err)
	assert.Equal(t, 9, h.PID)

	removed, err = ForceRemove(nil, root)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestLock_FilesystemFaults(t *testing.T) {
	boom := errors.New("read-only volume")

	t.Run("create", func(t *testing.T) {
		fsys := testutil.NewFaultFS(&testutil.FaultRule{Op: "openfile", Match: FileName, Err: boom})
		_, err := Acquire(fsys, t.TempDir(), testEnv(1))
		assert.ErrorIs(t, err, boom)
		assert.False(t, errors.Is(err, ErrHeld))
	})

	t.Run("release", func(t *testing.T) {
		root := t.TempDir()
		fsys := testutil.NewFaultFS(&testutil.FaultRule{Op: "remove", Match: FileName, Err: boom, Times: 1})
		h, err := Acquire(fsys, root, testEnv(1))
		require.NoError(t, err)

		assert.ErrorIs(t, h.Release(), boom)
		assert.FileExists(t, Path(root), "lock stays when it cannot be removed")
		assert.ErrorIs(t, h.Release(), boom, "later calls return the first result")
	})

	t.Run("inspect", func(t *testing.T) {
		root := t.TempDir()
		h, err := Acquire(nil, root, testEnv(4))
		require.NoError(t, err)
		defer h.Release()

		fsys := testutil.NewFaultFS(&testutil.FaultRule{Op: "readfile", Match: FileName, Err: boom})
		_, err = Inspect(fsys, root)
		assert.ErrorIs(t, err, boom)

		_, err = Acquire(fsys, root, testEnv(5))
		var held *HeldError
		require.ErrorAs(t, err, &held)
		assert.Nil(t, held.Holder)
	})

	t.Run("force remove", func(t *testing.T) {
		root := t.TempDir()
		_, err := Acquire(nil, root, testEnv(1))
		require.NoError(t, err)

		fsys := testutil.NewFaultFS(&testutil.FaultRule{Op: "remove", Match: FileName, Err: boom})
		removed, err := ForceRemove(fsys, root)
		assert.ErrorIs(t, err, boom)
		assert.False(t, removed)
		assert.FileExists(t, Path(root))
	})
}
