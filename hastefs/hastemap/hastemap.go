package hastemap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/assert-lib"
	"github.com/google/uuid"

	internal "github.com/ZanzyTHEbar/hastefs/hastefs"
	"github.com/ZanzyTHEbar/hastefs/hastefs/cache"
	"github.com/ZanzyTHEbar/hastefs/hastefs/crawler"
	"github.com/ZanzyTHEbar/hastefs/hastefs/store"
	"github.com/ZanzyTHEbar/hastefs/hastefs/types"
	"github.com/ZanzyTHEbar/hastefs/hastefs/worker"
)

// Version participates in the cache path derivation. Bump it whenever the
// on-disk layout or the extraction semantics change; stale caches are then
// simply never found.
const Version = "1"

// Options configures one HasteMap instance.
type Options struct {
	// CacheDirectory is where the cache file lives. Defaults to the system
	// temp directory.
	CacheDirectory string

	// Extensions is the file extension whitelist, without leading dots.
	// Required.
	Extensions []string

	// IgnorePatterns are gitignore-style patterns matched against absolute
	// paths.
	IgnorePatterns []string

	// MaxWorkers caps concurrent extraction. Zero selects the default worker
	// count; one or a negative value runs in process.
	MaxWorkers int

	// MocksPattern is a regular expression identifying mock files. Optional.
	MocksPattern string

	// Name is the logical project name used in the cache file name.
	Name string

	// Platforms are the recognized platform tokens for double-extension
	// parsing.
	Platforms []string

	// ProvidesModuleNodeModules whitelists node_modules packages to index.
	ProvidesModuleNodeModules []string

	// ResetCache bypasses the cache read and starts empty.
	ResetCache bool

	// RetainAllFiles keeps node_modules files in the files table while still
	// skipping extraction for them.
	RetainAllFiles bool

	// Roots are the starting directories. Required.
	Roots []string

	// ThrowOnModuleCollision aborts the build on a module naming collision
	// instead of keeping the first-installed module.
	ThrowOnModuleCollision bool

	// UseWatchman permits the watchman crawler, subject to the availability
	// probe.
	UseWatchman bool

	// WatchmanBinary overrides the watchman executable name.
	WatchmanBinary string

	// WorkerBinary overrides the extractor subprocess executable name.
	WorkerBinary string
}

// BuildResult is the published output of one build: the two immutable query
// facades plus the frozen index behind them.
type BuildResult struct {
	FileStore *store.FileStore
	ModuleMap *store.ModuleMap
	Data      *types.HasteData
}

// HasteMap builds and maintains the module index for a set of roots. Build is
// single-flight: every call on the same instance observes the same pipeline
// result.
type HasteMap struct {
	opts      Options
	cachePath string
	mocksRe   *regexp.Regexp
	assert    *assert.AssertHandler

	mu      sync.Mutex
	pending chan struct{}
	done    bool
	result  *BuildResult
	err     error
}

// New validates opts, derives the cache location and returns an idle
// instance. No file system work happens until Build.
func New(opts Options) (*HasteMap, error) {
	if len(opts.Extensions) == 0 {
		return nil, errors.New("hastemap: at least one extension is required")
	}
	if len(opts.Roots) == 0 {
		return nil, errors.New("hastemap: at least one root is required")
	}
	if opts.Name == "" {
		opts.Name = internal.DefaultAppName
	}
	if opts.CacheDirectory == "" {
		opts.CacheDirectory = internal.DefaultCacheDirectory
	}
	if opts.MaxWorkers == 0 {
		opts.MaxWorkers = internal.DefaultMaxWorkers
	}
	if opts.WorkerBinary == "" {
		opts.WorkerBinary = internal.DefaultWorkerBinary
	}
	if opts.WatchmanBinary == "" {
		opts.WatchmanBinary = internal.DefaultWatchmanBinary
	}

	var mocksRe *regexp.Regexp
	if opts.MocksPattern != "" {
		re, err := regexp.Compile(opts.MocksPattern)
		if err != nil {
			return nil, fmt.Errorf("hastemap: invalid mocks pattern: %w", err)
		}
		mocksRe = re
	}

	tokens := []string{
		strings.Join(opts.Roots, ","),
		strings.Join(opts.Extensions, ","),
		strings.Join(opts.Platforms, ","),
		opts.MocksPattern,
	}
	cachePath := cache.FilePath(opts.CacheDirectory, opts.Name, Version, tokens...)

	return &HasteMap{
		opts:      opts,
		cachePath: cachePath,
		mocksRe:   mocksRe,
		assert:    assert.NewAssertHandler(),
	}, nil
}

// CachePath returns the derived cache file location.
func (h *HasteMap) CachePath() string {
	return h.cachePath
}

// Build runs the pipeline once and publishes the facades. Calls after the
// first return the same pending or completed result, never a second
// pipeline; a failure latches on the instance.
func (h *HasteMap) Build(ctx context.Context) (*BuildResult, error) {
	h.mu.Lock()
	if h.done {
		result, err := h.result, h.err
		h.mu.Unlock()
		return result, err
	}
	if h.pending != nil {
		pending := h.pending
		h.mu.Unlock()
		<-pending
		h.mu.Lock()
		result, err := h.result, h.err
		h.mu.Unlock()
		return result, err
	}
	pending := make(chan struct{})
	h.pending = pending
	h.mu.Unlock()

	result, err := h.runPipeline(ctx)

	h.mu.Lock()
	h.result, h.err, h.done = result, err, true
	h.mu.Unlock()
	close(pending)
	return result, err
}

func (h *HasteMap) runPipeline(ctx context.Context) (*BuildResult, error) {
	buildID := uuid.NewString()
	slog.Debug("Haste map build starting", "build_id", buildID, "cache", h.cachePath)

	data := h.readCache()

	data, err := h.crawl(ctx, data)
	if err != nil {
		return nil, err
	}

	if err := h.buildMetadata(ctx, data); err != nil {
		return nil, err
	}

	if err := cache.Write(h.cachePath, data); err != nil {
		return nil, fmt.Errorf("failed to persist haste map: %w", err)
	}

	h.verifyIntegrity(ctx, data)

	slog.Debug("Haste map build finished",
		"build_id", buildID,
		"files", len(data.Files),
		"modules", len(data.Modules),
		"mocks", len(data.Mocks))

	return &BuildResult{
		FileStore: store.NewFileStore(data.Files),
		ModuleMap: store.NewModuleMap(data.Modules, data.Mocks),
		Data:      data,
	}, nil
}

// readCache loads the prior index, or starts empty on a forced reset. A
// reset discards the watchman clocks along with everything else.
func (h *HasteMap) readCache() *types.HasteData {
	if h.opts.ResetCache {
		return types.NewHasteData()
	}
	return cache.Read(h.cachePath)
}

// crawl obtains the file system snapshot. The watchman crawler is preferred
// when permitted and available; on failure the native crawler is retried
// exactly once.
func (h *HasteMap) crawl(ctx context.Context, data *types.HasteData) (*types.HasteData, error) {
	copts := crawler.Options{
		Roots:      h.opts.Roots,
		Extensions: h.opts.Extensions,
		Ignore: crawler.NewIgnorePredicate(
			h.opts.IgnorePatterns,
			h.opts.ProvidesModuleNodeModules,
			h.opts.RetainAllFiles,
		),
		Data: data,
	}

	if !h.opts.UseWatchman || !crawler.WatchmanAvailable(h.opts.WatchmanBinary) {
		return crawler.NewNative().Crawl(ctx, copts)
	}

	result, watchmanErr := crawler.NewWatchman(h.opts.WatchmanBinary).Crawl(ctx, copts)
	if watchmanErr == nil {
		return result, nil
	}
	slog.Warn("Watchman crawl failed, retrying with the native crawler; "+
		"check that the watchman service is running and that the repository root has a .watchmanconfig",
		"error", watchmanErr)

	result, nativeErr := crawler.NewNative().Crawl(ctx, copts)
	if nativeErr != nil {
		return nil, fmt.Errorf("crawl failed: watchman: %v; native: %v", watchmanErr, nativeErr)
	}
	return result, nil
}

// buildMetadata walks the post-crawl files table in sorted order, reuses
// still-valid extractions and dispatches the rest to the worker executor.
// Module installation happens in one pass over the same sorted order, for
// cached and freshly-extracted records alike, so the surviving side of a
// collision never depends on crawl history. Collisions are handled by
// setModule under the configured policy.
func (h *HasteMap) buildMetadata(ctx context.Context, data *types.HasteData) error {
	data.Modules = make(map[string]types.PlatformModules)
	data.Mocks = make(map[string]string)

	executor := worker.NewExecutor(h.opts.WorkerBinary, h.opts.MaxWorkers)
	defer executor.Close()

	paths := make([]string, 0, len(data.Files))
	for path := range data.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	type dispatched struct {
		path   string
		result <-chan worker.Result // nil when the cached record is reused
	}
	queue := make([]dispatched, 0, len(paths))

	for _, path := range paths {
		if h.opts.RetainAllFiles && crawler.IsNodeModulesPath(path) {
			continue
		}

		if h.mocksRe != nil && h.mocksRe.MatchString(path) {
			stem := mockStem(path)
			if prev, ok := data.Mocks[stem]; ok && prev != path {
				slog.Debug("Duplicate mock stem, keeping the last one",
					"stem", stem, "previous", prev, "path", path)
			}
			data.Mocks[stem] = path
		}

		meta := data.Files[path]
		if meta.Visited {
			if meta.ID == "" {
				continue
			}
			queue = append(queue, dispatched{path: path})
			continue
		}

		queue = append(queue, dispatched{path: path, result: executor.Extract(ctx, path)})
	}

	for _, job := range queue {
		meta := data.Files[job.path]

		if job.result == nil {
			// The extraction is still valid; reproduce the module entry
			// from the record instead of re-extracting.
			if err := h.setModule(data, meta.ID, types.ModuleMetadata{
				Path: job.path,
				Kind: moduleKindFor(job.path),
			}); err != nil {
				return err
			}
			continue
		}

		res := <-job.result
		if res.Err != nil {
			// Unreadable files drop out of the index; a vanished file is
			// not fatal to the build.
			slog.Debug("Metadata extraction failed, dropping file",
				"path", job.path, "error", res.Err)
			delete(data.Files, job.path)
			continue
		}

		meta.Visited = true
		meta.ID = res.Value.ID
		meta.Dependencies = res.Value.Dependencies
		if meta.Dependencies == nil {
			meta.Dependencies = []string{}
		}

		if res.Value.Module != nil {
			if err := h.setModule(data, res.Value.ID, *res.Value.Module); err != nil {
				return err
			}
		}
	}
	return nil
}

// setModule installs one module reference under its platform slot. The first
// installed reference wins a collision; the policy decides whether the loser
// warns or aborts the build.
func (h *HasteMap) setModule(data *types.HasteData, id string, module types.ModuleMetadata) error {
	platform := platformFor(module.Path, h.opts.Platforms)

	platforms, ok := data.Modules[id]
	if !ok {
		platforms = make(types.PlatformModules)
		data.Modules[id] = platforms
	}

	existing, ok := platforms[platform]
	if !ok {
		platforms[platform] = module
		return nil
	}
	if existing.Path == module.Path {
		return nil
	}

	if h.opts.ThrowOnModuleCollision {
		return fmt.Errorf("duplicate haste module %q for platform %q: %s collides with %s",
			id, platform, module.Path, existing.Path)
	}
	slog.Warn("Haste module naming collision",
		"id", id,
		"platform", platform,
		"kept", existing.Path,
		"dropped", module.Path)
	return nil
}

// verifyIntegrity asserts the cross-table invariants on the frozen index
// before publication.
func (h *HasteMap) verifyIntegrity(ctx context.Context, data *types.HasteData) {
	for id, platforms := range data.Modules {
		for platform, ref := range platforms {
			_, ok := data.Files[ref.Path]
			h.assert.Assert(ctx, ok,
				fmt.Sprintf("module %q (%s) references %s which is not in the files table", id, platform, ref.Path))
		}
	}
	for stem, path := range data.Mocks {
		_, ok := data.Files[path]
		h.assert.Assert(ctx, ok,
			fmt.Sprintf("mock %q references %s which is not in the files table", stem, path))
	}
}

// platformFor inspects the double-extension form Name.<platform>.<ext> and
// yields the platform token when it is recognized, the generic sentinel
// otherwise.
func platformFor(path string, platforms []string) string {
	base := filepath.Base(path)
	last := strings.LastIndexByte(base, '.')
	if last <= 0 {
		return types.GenericPlatform
	}
	secondToLast := strings.LastIndexByte(base[:last], '.')
	if secondToLast < 0 {
		return types.GenericPlatform
	}
	token := base[secondToLast+1 : last]
	for _, platform := range platforms {
		if token == platform {
			return token
		}
	}
	return types.GenericPlatform
}

// moduleKindFor infers the kind for a reinstalled cache record.
func moduleKindFor(path string) types.ModuleKind {
	if filepath.Base(path) == "package.json" {
		return types.KindPackage
	}
	return types.KindModule
}

// mockStem is the file base name minus its final extension.
func mockStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
