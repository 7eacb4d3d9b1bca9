package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFileScoped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	data, err := ReadFileScoped(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestReadFileScoped_MissingFile(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadFileScoped(filepath.Join(dir, "absent.txt"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestTailLines(t *testing.T) {
	content := "one\ntwo\nthree\nfour\n"

	assert.Equal(t, "three\nfour\n", TailLines(content, 2))
	assert.Equal(t, content, TailLines(content, 10), "asking for more lines than exist returns everything")
	assert.Equal(t, content, TailLines(content, 0), "non-positive tail returns everything")
	assert.Equal(t, content, TailLines(content, -1))
	assert.Equal(t, "", TailLines("", 5))
}

func TestTailLines_NoTrailingNewline(t *testing.T) {
	assert.Equal(t, "two\nthree\n", TailLines("one\ntwo\nthree", 2))
}

func TestPathWithin(t *testing.T) {
	base := t.TempDir()

	assert.True(t, PathWithin(base, filepath.Join(base, "sub", "file")))
	assert.True(t, PathWithin(base, base))
	assert.False(t, PathWithin(base, filepath.Join(base, "..", "escape")))
	assert.False(t, PathWithin(base, "/etc/passwd"))
}
