package hastemap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ZanzyTHEbar/hastefs/hastefs/crawler"
	"github.com/ZanzyTHEbar/hastefs/hastefs/extract"
	"github.com/ZanzyTHEbar/hastefs/hastefs/store"
	"github.com/ZanzyTHEbar/hastefs/hastefs/types"
	"github.com/ZanzyTHEbar/hastefs/hastefs/watcher"
)

// Change describes one index update observed in watch mode.
type Change struct {
	Path    string
	MTime   int64
	Removed bool
}

// WatchSession keeps a built index fresh by applying file system events as
// they arrive. The session owns a private clone of the build; the published
// BuildResult stays frozen.
type WatchSession struct {
	haste  *HasteMap
	fw     *watcher.FSNotifyWatcher
	ignore func(string) bool
	cancel context.CancelFunc

	mu   sync.RWMutex
	data *types.HasteData

	changes chan Change
	wg      sync.WaitGroup
	once    sync.Once
}

// Watch builds the map (or joins the in-flight build) and then follows file
// system changes under the roots, re-extracting metadata incrementally.
func (h *HasteMap) Watch(ctx context.Context) (*WatchSession, error) {
	result, err := h.Build(ctx)
	if err != nil {
		return nil, err
	}

	fw, err := watcher.NewFSNotifyWatcher(watcher.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	session := &WatchSession{
		haste: h,
		fw:    fw,
		ignore: crawler.NewIgnorePredicate(
			h.opts.IgnorePatterns,
			h.opts.ProvidesModuleNodeModules,
			h.opts.RetainAllFiles,
		),
		cancel:  cancel,
		data:    result.Data.Clone(),
		changes: make(chan Change, 128),
	}

	if err := fw.Start(sctx, h.opts.Roots); err != nil {
		cancel()
		fw.Close()
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}

	session.wg.Add(1)
	go session.loop(sctx)
	return session, nil
}

// Events returns the stream of applied index changes.
func (s *WatchSession) Events() <-chan Change {
	return s.changes
}

// Snapshot returns fresh facades over the current index state.
func (s *WatchSession) Snapshot() (*store.FileStore, *store.ModuleMap) {
	s.mu.RLock()
	clone := s.data.Clone()
	s.mu.RUnlock()
	return store.NewFileStore(clone.Files), store.NewModuleMap(clone.Modules, clone.Mocks)
}

// Close stops the session. Safe to call more than once.
func (s *WatchSession) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.fw.Close()
		s.wg.Wait()
		close(s.changes)
	})
	return nil
}

func (s *WatchSession) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-s.fw.Errors():
			if !ok {
				return
			}
			slog.Warn("Watch session error", "error", err)
		case batch, ok := <-s.fw.Events():
			if !ok {
				return
			}
			// The debouncer batches per path; the latest event decides.
			if len(batch) == 0 {
				continue
			}
			if change, applied := s.apply(batch[len(batch)-1].Path); applied {
				select {
				case s.changes <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// apply folds one path update into the session index. Returns the resulting
// change and whether anything was actually applied.
func (s *WatchSession) apply(path string) (Change, bool) {
	if s.ignore(path) || !crawler.HasExtension(path, s.haste.opts.Extensions) {
		return Change{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return s.remove(path)
	}
	if info.IsDir() {
		return Change{}, false
	}

	mtime := info.ModTime().UnixMilli()
	prior, known := s.data.Files[path]
	if known && prior.MTime == mtime {
		return Change{}, false
	}

	skipExtraction := s.haste.opts.RetainAllFiles && crawler.IsNodeModulesPath(path)

	var result *types.WorkerResult
	if !skipExtraction {
		result, err = extract.Metadata(path)
		if err != nil {
			slog.Debug("Failed to extract changed file, dropping it", "path", path, "error", err)
			return s.remove(path)
		}
	}

	if known && prior.ID != "" {
		s.removeModule(prior.ID, path)
	}

	meta := &types.FileMetadata{MTime: mtime, Dependencies: []string{}}
	if result != nil {
		meta.Visited = true
		meta.ID = result.ID
		if result.Dependencies != nil {
			meta.Dependencies = result.Dependencies
		}
		if result.Module != nil {
			if err := s.haste.setModule(s.data, result.ID, *result.Module); err != nil {
				// Collisions never abort a watch session.
				slog.Warn("Module collision while watching", "path", path, "error", err)
			}
		}
	}
	s.data.Files[path] = meta

	if !skipExtraction && s.haste.mocksRe != nil && s.haste.mocksRe.MatchString(path) {
		s.data.Mocks[mockStem(path)] = path
	}

	return Change{Path: path, MTime: mtime}, true
}

// remove drops path from every table. Called with s.mu held.
func (s *WatchSession) remove(path string) (Change, bool) {
	meta, ok := s.data.Files[path]
	if !ok {
		return Change{}, false
	}
	delete(s.data.Files, path)
	if meta.ID != "" {
		s.removeModule(meta.ID, path)
	}
	if stem := mockStem(path); s.data.Mocks[stem] == path {
		delete(s.data.Mocks, stem)
	}
	return Change{Path: path, Removed: true}, true
}

// removeModule deletes every platform slot of id that points at path. Called
// with s.mu held.
func (s *WatchSession) removeModule(id, path string) {
	platforms, ok := s.data.Modules[id]
	if !ok {
		return
	}
	for platform, ref := range platforms {
		if ref.Path == path {
			delete(platforms, platform)
		}
	}
	if len(platforms) == 0 {
		delete(s.data.Modules, id)
	}
}
