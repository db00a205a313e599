package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicates(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "full")
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	assert.True(t, FileExists(full))
	assert.False(t, FileExists(filepath.Join(dir, "nope")))
	assert.True(t, IsDir(dir))
	assert.False(t, IsDir(full))

	assert.True(t, NonEmptyFile(full))
	assert.False(t, NonEmptyFile(empty))
	assert.False(t, NonEmptyFile(dir))
	assert.False(t, NonEmptyFile(filepath.Join(dir, "nope")))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.zip")
	dst := filepath.Join(dir, "out", "dst.zip")
	require.NoError(t, os.WriteFile(src, []byte("archive bytes"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Dir(dst), 0o755))

	require.NoError(t, CopyFile(src, dst))

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "archive bytes", string(b))

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")

	assert.Error(t, CopyFile(filepath.Join(dir, "missing"), dst))
	assert.Error(t, CopyFile(dir, filepath.Join(dir, "out", "dir.zip")))
}
