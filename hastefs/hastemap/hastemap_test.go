package hastemap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/hastefs/hastefs/types"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func providesModule(id string, deps ...string) string {
	content := fmt.Sprintf("/**\n * @providesModule %s\n */\n", id)
	for _, dep := range deps {
		content += fmt.Sprintf("const %s = require('%s');\n", dep, dep)
	}
	return content
}

func testOptions(t *testing.T, root string) Options {
	t.Helper()
	return Options{
		CacheDirectory: t.TempDir(),
		Extensions:     []string{"js", "json"},
		MaxWorkers:     1,
		Name:           "test-project",
		Platforms:      []string{"ios", "android"},
		Roots:          []string{root},
	}
}

func build(t *testing.T, opts Options) *BuildResult {
	t.Helper()
	haste, err := New(opts)
	require.NoError(t, err)
	result, err := haste.Build(context.Background())
	require.NoError(t, err)
	return result
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Roots: []string{"/src"}})
	assert.Error(t, err, "extensions are required")

	_, err = New(Options{Extensions: []string{"js"}})
	assert.Error(t, err, "roots are required")

	_, err = New(Options{Extensions: []string{"js"}, Roots: []string{"/src"}, MocksPattern: "["})
	assert.Error(t, err, "an invalid mocks pattern is rejected up front")
}

func TestBuildEmptyProject(t *testing.T) {
	root := t.TempDir()
	opts := testOptions(t, root)

	haste, err := New(opts)
	require.NoError(t, err)
	result, err := haste.Build(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Data.Files)
	assert.Empty(t, result.Data.Modules)
	assert.Empty(t, result.Data.Mocks)

	_, statErr := os.Stat(haste.CachePath())
	assert.NoError(t, statErr, "the cache file is created even for an empty project")
}

func TestBuildSingleModule(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.js": providesModule("A")})

	result := build(t, testOptions(t, root))

	path := filepath.Join(root, "a.js")
	meta := result.Data.Files[path]
	require.NotNil(t, meta)
	assert.True(t, meta.Visited)
	assert.Equal(t, "A", meta.ID)
	assert.Empty(t, meta.Dependencies)

	require.Contains(t, result.Data.Modules, "A")
	ref := result.Data.Modules["A"][types.GenericPlatform]
	assert.Equal(t, path, ref.Path)
	assert.Equal(t, types.KindModule, ref.Kind)

	assert.Equal(t, path, result.ModuleMap.GetModule("A", "ios", false))
}

func TestBuildPlatformExtensions(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"P.ios.js":     providesModule("P"),
		"P.android.js": providesModule("P"),
	})

	result := build(t, testOptions(t, root))

	require.Contains(t, result.Data.Modules, "P")
	platforms := result.Data.Modules["P"]
	require.Len(t, platforms, 2, "platform variants must not collide")
	assert.Equal(t, filepath.Join(root, "P.ios.js"), platforms["ios"].Path)
	assert.Equal(t, filepath.Join(root, "P.android.js"), platforms["android"].Path)

	assert.Equal(t, filepath.Join(root, "P.ios.js"), result.ModuleMap.GetModule("P", "ios", false))
	assert.Equal(t, filepath.Join(root, "P.android.js"), result.ModuleMap.GetModule("P", "android", false))
}

func TestBuildCollisionWarnKeepsFirst(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.js": providesModule("X"),
		"b.js": providesModule("X"),
	})

	result := build(t, testOptions(t, root))

	ref := result.Data.Modules["X"][types.GenericPlatform]
	assert.Equal(t, filepath.Join(root, "a.js"), ref.Path,
		"the first path in the stable iteration order wins")
	// Both files stay in the files table.
	assert.Contains(t, result.Data.Files, filepath.Join(root, "b.js"))
}

func TestBuildCollisionWinnerIgnoresCrawlHistory(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"b.js": providesModule("X")})

	opts := testOptions(t, root)
	first := build(t, opts)
	require.Equal(t, filepath.Join(root, "b.js"),
		first.Data.Modules["X"][types.GenericPlatform].Path)

	// A sorted-earlier file appears on the second run; it must win the
	// collision exactly as it would on a cold build.
	writeTree(t, root, map[string]string{"a.js": providesModule("X")})

	second := build(t, opts)
	assert.Equal(t, filepath.Join(root, "a.js"),
		second.Data.Modules["X"][types.GenericPlatform].Path,
		"the collision winner is a pure function of the sorted file order")
}

func TestBuildCollisionThrowAborts(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.js": providesModule("X"),
		"b.js": providesModule("X"),
	})

	opts := testOptions(t, root)
	opts.ThrowOnModuleCollision = true
	haste, err := New(opts)
	require.NoError(t, err)

	_, err = haste.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), filepath.Join(root, "a.js"))
	assert.Contains(t, err.Error(), filepath.Join(root, "b.js"))
}

func TestBuildFailureLatches(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.js": providesModule("X"),
		"b.js": providesModule("X"),
	})

	opts := testOptions(t, root)
	opts.ThrowOnModuleCollision = true
	haste, err := New(opts)
	require.NoError(t, err)

	_, first := haste.Build(context.Background())
	require.Error(t, first)
	_, second := haste.Build(context.Background())
	assert.Equal(t, first, second, "a failed build latches on the instance")
}

func TestBuildIncremental(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.js": providesModule("A"),
		"b.js": providesModule("B"),
	})
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	for _, name := range []string{"a.js", "b.js"} {
		require.NoError(t, os.Chtimes(filepath.Join(root, name), past, past))
	}

	opts := testOptions(t, root)
	first := build(t, opts)
	aPath := filepath.Join(root, "a.js")
	bPath := filepath.Join(root, "b.js")
	cachedA := *first.Data.Files[aPath]

	// Rewrite both files. a.js gets its old mtime back, so only b.js may be
	// re-extracted on the second run.
	writeTree(t, root, map[string]string{
		"a.js": providesModule("ChangedA"),
		"b.js": providesModule("ChangedB"),
	})
	require.NoError(t, os.Chtimes(aPath, past, past))
	now := time.Now().Truncate(time.Second)
	require.NoError(t, os.Chtimes(bPath, now, now))

	second := build(t, opts)

	assert.Equal(t, cachedA, *second.Data.Files[aPath],
		"an unchanged file record is preserved from the cache without re-extraction")
	assert.Equal(t, "ChangedB", second.Data.Files[bPath].ID)
	assert.Contains(t, second.Data.Modules, "A")
	assert.Contains(t, second.Data.Modules, "ChangedB")
	assert.NotContains(t, second.Data.Modules, "B")
}

func TestBuildIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.js":         providesModule("A", "B"),
		"b.js":         providesModule("B"),
		"package.json": `{"name": "fixture"}`,
	})

	opts := testOptions(t, root)
	first := build(t, opts)
	second := build(t, opts)

	assert.Equal(t, first.Data.Files, second.Data.Files)
	assert.Equal(t, first.Data.Modules, second.Data.Modules)
	assert.Equal(t, first.Data.Mocks, second.Data.Mocks)
}

func TestBuildSingleFlight(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.js": providesModule("A")})

	haste, err := New(testOptions(t, root))
	require.NoError(t, err)

	const callers = 8
	results := make([]*BuildResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := haste.Build(context.Background())
			assert.NoError(t, err)
			results[i] = result
		}()
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i], "every caller observes the same pipeline result")
	}
}

func TestBuildMocks(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/a.js":            providesModule("A"),
		"__mocks__/Banana.js": "module.exports = {};\n",
	})

	opts := testOptions(t, root)
	opts.MocksPattern = `__mocks__[/\\]`
	result := build(t, opts)

	mockPath := filepath.Join(root, "__mocks__", "Banana.js")
	assert.Equal(t, mockPath, result.Data.Mocks["Banana"])
	assert.Equal(t, mockPath, result.ModuleMap.GetMockModule("Banana"))
}

func TestBuildRetainAllFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/a.js":                    providesModule("A"),
		"node_modules/react/index.js": providesModule("React"),
	})

	opts := testOptions(t, root)
	opts.RetainAllFiles = true
	result := build(t, opts)

	reactPath := filepath.Join(root, "node_modules", "react", "index.js")
	meta := result.Data.Files[reactPath]
	require.NotNil(t, meta, "node_modules files stay in the files table")
	assert.False(t, meta.Visited, "extraction is still skipped for node_modules files")
	assert.NotContains(t, result.Data.Modules, "React")
}

func TestBuildNodeModulesWhitelist(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/a.js":                     providesModule("A"),
		"node_modules/fbjs/index.js":   providesModule("fbjsIndex"),
		"node_modules/lodash/index.js": providesModule("lodashIndex"),
	})

	opts := testOptions(t, root)
	opts.ProvidesModuleNodeModules = []string{"fbjs"}
	result := build(t, opts)

	assert.Contains(t, result.Data.Modules, "fbjsIndex")
	assert.NotContains(t, result.Data.Modules, "lodashIndex")
	assert.NotContains(t, result.Data.Files, filepath.Join(root, "node_modules", "lodash", "index.js"))
}

func TestBuildResetCacheDiscardsPriorState(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.js": providesModule("A")})

	opts := testOptions(t, root)
	first := build(t, opts)
	require.Contains(t, first.Data.Modules, "A")

	opts.ResetCache = true
	second := build(t, opts)
	assert.Equal(t, first.Data.Modules, second.Data.Modules,
		"a reset rebuild converges to the same published index")
}

func TestPlatformFor(t *testing.T) {
	platforms := []string{"ios", "android"}

	assert.Equal(t, "ios", platformFor("/src/P.ios.js", platforms))
	assert.Equal(t, "android", platformFor("/src/P.android.js", platforms))
	assert.Equal(t, types.GenericPlatform, platformFor("/src/P.js", platforms))
	assert.Equal(t, types.GenericPlatform, platformFor("/src/P.web.js", platforms),
		"unrecognized tokens fall back to the generic platform")
	assert.Equal(t, types.GenericPlatform, platformFor("/src/.hidden.js", platforms))
}

func TestMockStem(t *testing.T) {
	assert.Equal(t, "Banana", mockStem("/repo/__mocks__/Banana.js"))
	assert.Equal(t, "Banana.ios", mockStem("/repo/__mocks__/Banana.ios.js"))
}
