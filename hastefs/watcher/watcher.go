package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType represents the type of file system event
type EventType int

const (
	// EventCreate represents file/directory creation
	EventCreate EventType = iota
	// EventWrite represents file modification
	EventWrite
	// EventRemove represents file/directory removal
	EventRemove
	// EventRename represents file/directory rename
	EventRename
)

// Event represents a file system event
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// Config holds configuration for the watcher
type Config struct {
	// DebounceDelay is the time to wait before emitting a path's events
	DebounceDelay time.Duration

	// MaxDebounceDelay caps how long a hot path can defer emission
	MaxDebounceDelay time.Duration

	// QueueCapacity is the capacity of the batch channel
	QueueCapacity int
}

// DefaultConfig returns a default watcher configuration
func DefaultConfig() Config {
	return Config{
		DebounceDelay:    100 * time.Millisecond,
		MaxDebounceDelay: 2 * time.Second,
		QueueCapacity:    1000,
	}
}

// FSNotifyWatcher watches directory trees through fsnotify and delivers
// debounced per-path event batches.
type FSNotifyWatcher struct {
	watcher      *fsnotify.Watcher
	debouncer    *Debouncer
	errorChan    chan error
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	mu           sync.RWMutex
	watchedPaths map[string]bool
	closeOnce    sync.Once
}

// NewFSNotifyWatcher creates a new fsnotify-based watcher
func NewFSNotifyWatcher(config Config) (*FSNotifyWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &FSNotifyWatcher{
		watcher:      fsWatcher,
		debouncer:    NewDebouncer(config.DebounceDelay, config.MaxDebounceDelay, config.QueueCapacity),
		errorChan:    make(chan error, 10),
		ctx:          ctx,
		cancel:       cancel,
		watchedPaths: make(map[string]bool),
	}, nil
}

// Start begins watching the specified paths
func (w *FSNotifyWatcher) Start(ctx context.Context, paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, path := range paths {
		if err := w.addPathRecursive(path); err != nil {
			slog.Warn("Failed to add path to watcher", "path", path, "error", err)
			continue
		}
		w.watchedPaths[path] = true
	}

	w.wg.Add(1)
	go w.watchLoop(ctx)

	slog.Debug("FSNotify watcher started", "paths", len(paths))
	return nil
}

// Events returns the channel of debounced event batches
func (w *FSNotifyWatcher) Events() <-chan []Event {
	return w.debouncer.Events()
}

// Errors returns the error channel
func (w *FSNotifyWatcher) Errors() <-chan error {
	return w.errorChan
}

// Close stops watching and cleans up resources
func (w *FSNotifyWatcher) Close() error {
	w.closeOnce.Do(func() {
		w.cancel()
		w.watcher.Close()
		w.wg.Wait()
		w.debouncer.Close()
	})
	return nil
}

// addPathRecursive registers path and every directory below it
func (w *FSNotifyWatcher) addPathRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			slog.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// watchLoop translates raw fsnotify events into debounced haste events
func (w *FSNotifyWatcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.ctx.Done():
			return

		case raw, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			event, valid := w.translate(raw)
			if !valid {
				continue
			}
			// New directories join the watch set so events below them
			// are not missed.
			if event.Type == EventCreate {
				if info, err := os.Stat(event.Path); err == nil && info.IsDir() {
					if err := w.addPathRecursive(event.Path); err != nil {
						slog.Warn("Failed to watch new directory", "path", event.Path, "error", err)
					}
					continue
				}
			}
			w.debouncer.Add(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errorChan <- err:
			default:
				slog.Warn("Watcher error dropped", "error", err)
			}
		}
	}
}

func (w *FSNotifyWatcher) translate(raw fsnotify.Event) (Event, bool) {
	event := Event{Path: raw.Name, Timestamp: time.Now()}
	switch {
	case raw.Op.Has(fsnotify.Create):
		event.Type = EventCreate
	case raw.Op.Has(fsnotify.Write):
		event.Type = EventWrite
	case raw.Op.Has(fsnotify.Remove):
		event.Type = EventRemove
	case raw.Op.Has(fsnotify.Rename):
		event.Type = EventRename
	default:
		return event, false
	}
	return event, true
}
