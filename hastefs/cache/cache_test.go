package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/hastefs/hastefs/types"
)

func TestFilePathIsDeterministic(t *testing.T) {
	a := FilePath("/tmp", "my project", "1", "/src", "js", "ios", "")
	b := FilePath("/tmp", "my project", "1", "/src", "js", "ios", "")
	assert.Equal(t, a, b)
	assert.Equal(t, "/tmp", filepath.Dir(a))
	assert.Contains(t, filepath.Base(a), "my-project-", "non-word characters should be sanitized")
}

func TestFilePathChangesWithIdentity(t *testing.T) {
	base := FilePath("/tmp", "p", "1", "/src", "js", "ios", "")
	variants := []string{
		FilePath("/tmp", "q", "1", "/src", "js", "ios", ""),
		FilePath("/tmp", "p", "2", "/src", "js", "ios", ""),
		FilePath("/tmp", "p", "1", "/other", "js", "ios", ""),
		FilePath("/tmp", "p", "1", "/src", "ts", "ios", ""),
		FilePath("/tmp", "p", "1", "/src", "js", "android", ""),
		FilePath("/tmp", "p", "1", "/src", "js", "ios", "__mocks__"),
	}
	seen := map[string]bool{base: true}
	for _, v := range variants {
		assert.False(t, seen[v], "expected a distinct cache path, got %s twice", v)
		seen[v] = true
	}
}

func TestReadMissingFileStartsEmpty(t *testing.T) {
	data := Read(filepath.Join(t.TempDir(), "nope"))
	require.NotNil(t, data)
	assert.Empty(t, data.Files)
	assert.Empty(t, data.Modules)
	assert.Empty(t, data.Mocks)
	assert.Empty(t, data.Clocks)
}

func TestReadCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o644))

	data := Read(path)
	require.NotNil(t, data)
	assert.Empty(t, data.Files)
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache")

	data := types.NewHasteData()
	data.Clocks["/src"] = "c:12:34"
	data.Files["/src/a.js"] = &types.FileMetadata{ID: "A", MTime: 42, Visited: true, Dependencies: []string{"B"}}
	data.Modules["A"] = types.PlatformModules{
		types.GenericPlatform: {Path: "/src/a.js", Kind: types.KindModule},
	}
	data.Mocks["a"] = "/src/a.js"

	require.NoError(t, Write(path, data))
	assert.Equal(t, data, Read(path))
}

func TestRePersistIsByteStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache")

	data := types.NewHasteData()
	data.Files["/src/b.js"] = &types.FileMetadata{MTime: 7}
	data.Files["/src/a.js"] = &types.FileMetadata{ID: "A", MTime: 3, Visited: true, Dependencies: []string{}}
	data.Modules["A"] = types.PlatformModules{
		types.GenericPlatform: {Path: "/src/a.js", Kind: types.KindModule},
	}
	require.NoError(t, Write(path, data))

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, Write(path, Read(path)))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache")
	require.NoError(t, Write(path, types.NewHasteData()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cache", entries[0].Name())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(raw))
}
