package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/ZanzyTHEbar/hastefs/hastefs/types"
)

// Native walks the roots directly with bounded concurrency. It is the
// fallback when the watcher service is unavailable and the only crawler that
// needs no external process.
type Native struct {
	maxWorkers int
}

// crawlStats tracks per-pass counters updated atomically by the walk workers.
type crawlStats struct {
	dirsProcessed int64
	filesFound    int64
	errorsIgnored int64
}

// NewNative creates a native crawler with a worker count sized for I/O bound
// directory reads.
func NewNative() *Native {
	return &Native{maxWorkers: min(max(runtime.NumCPU()*2, 4), 32)}
}

// Crawl scans all roots breadth-first, one pool per depth level, and
// reconciles the discovered set against the prior files table: entries no
// longer on disk are deleted, new or modified files get cleared records.
func (c *Native) Crawl(ctx context.Context, opts Options) (*types.HasteData, error) {
	start := time.Now()
	stats := &crawlStats{}

	found := make(map[string]int64)
	var foundMu sync.Mutex

	currentLevel := make([]string, 0, len(opts.Roots))
	for _, root := range opts.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
		}
		currentLevel = append(currentLevel, abs)
	}

	for len(currentLevel) > 0 {
		nextLevel := make([]string, 0)
		var nextLevelMu sync.Mutex

		levelPool := pool.New().WithMaxGoroutines(c.maxWorkers).WithContext(ctx)

		for _, dir := range currentLevel {
			levelPool.Go(func(ctx context.Context) error {
				children, entries, err := c.readDir(dir, opts)
				if err != nil {
					// Unreadable directories are skipped, not fatal: the
					// walk continues with whatever is reachable.
					atomic.AddInt64(&stats.errorsIgnored, 1)
					slog.Debug("Skipping unreadable directory", "path", dir, "error", err)
					return nil
				}
				atomic.AddInt64(&stats.dirsProcessed, 1)
				atomic.AddInt64(&stats.filesFound, int64(len(entries)))

				if len(entries) > 0 {
					foundMu.Lock()
					for path, mtime := range entries {
						found[path] = mtime
					}
					foundMu.Unlock()
				}
				if len(children) > 0 {
					nextLevelMu.Lock()
					nextLevel = append(nextLevel, children...)
					nextLevelMu.Unlock()
				}
				return nil
			})
		}

		if err := levelPool.Wait(); err != nil {
			return nil, err
		}
		currentLevel = nextLevel
	}

	for path := range opts.Data.Files {
		if _, ok := found[path]; !ok {
			delete(opts.Data.Files, path)
		}
	}
	for path, mtime := range found {
		reconcileFile(opts.Data, path, mtime)
	}

	slog.Debug("Native crawl completed",
		"dirs", atomic.LoadInt64(&stats.dirsProcessed),
		"files", atomic.LoadInt64(&stats.filesFound),
		"skipped_dirs", atomic.LoadInt64(&stats.errorsIgnored),
		"duration", time.Since(start))
	return opts.Data, nil
}

// readDir lists one directory, returning child directories to descend into
// and the in-scope files with their mtimes.
func (c *Native) readDir(dir string, opts Options) ([]string, map[string]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	var children []string
	files := make(map[string]int64)

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if opts.Ignore != nil && opts.Ignore(path) {
			continue
		}

		if entry.IsDir() {
			children = append(children, path)
			continue
		}
		if !HasExtension(entry.Name(), opts.Extensions) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// The file vanished between the listing and the stat.
			continue
		}
		files[path] = info.ModTime().UnixMilli()
	}
	return children, files, nil
}
