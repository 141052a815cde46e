package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFixedClock(start)
	assert.Equal(t, start, c.Now())
	c.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), c.Now())
}

func TestFaultFS_FiresLimitedTimes(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))

	boom := errors.New("boom")
	fsys := NewFaultFS(&FaultRule{Op: "rename", Match: "/a ->", Err: boom, Times: 1})

	assert.ErrorIs(t, fsys.Rename(a, b), boom)
	require.NoError(t, fsys.Rename(a, b))
	assert.FileExists(t, b)
	assert.Len(t, fsys.Calls(), 2)
}
