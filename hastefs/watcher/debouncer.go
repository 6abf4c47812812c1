package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// eventBatch collects the pending events for one path
type eventBatch struct {
	events []Event
	first  time.Time
	timer  *time.Timer
}

// Debouncer coalesces bursts of events per path. A batch is emitted once the
// path has been quiet for the delay, or once the max delay since its first
// event has elapsed.
type Debouncer struct {
	delay    time.Duration
	maxDelay time.Duration
	out      chan []Event

	mu      sync.Mutex
	pending map[string]*eventBatch
	closed  bool
}

// NewDebouncer creates a new debouncer
func NewDebouncer(delay, maxDelay time.Duration, queueCapacity int) *Debouncer {
	if queueCapacity < 1 {
		queueCapacity = 1
	}
	return &Debouncer{
		delay:    delay,
		maxDelay: maxDelay,
		out:      make(chan []Event, queueCapacity),
		pending:  make(map[string]*eventBatch),
	}
}

// Add adds an event to be debounced
func (d *Debouncer) Add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	batch, exists := d.pending[event.Path]
	if !exists {
		batch = &eventBatch{
			events: make([]Event, 0, 5), // Pre-allocate for common case
			first:  time.Now(),
		}
		d.pending[event.Path] = batch
	}
	batch.events = append(batch.events, event)

	if batch.timer != nil {
		batch.timer.Stop()
	}
	delay := d.delay
	if remaining := d.maxDelay - time.Since(batch.first); remaining < delay {
		delay = max(remaining, 0)
	}
	path := event.Path
	batch.timer = time.AfterFunc(delay, func() {
		d.flush(path)
	})
}

// Events returns debounced event batches
func (d *Debouncer) Events() <-chan []Event {
	return d.out
}

// Close stops the debouncer and drops any pending batches
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	for _, batch := range d.pending {
		if batch.timer != nil {
			batch.timer.Stop()
		}
	}
	d.pending = make(map[string]*eventBatch)
	close(d.out)
}

func (d *Debouncer) flush(path string) {
	d.mu.Lock()
	batch, ok := d.pending[path]
	if !ok || d.closed {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	d.mu.Unlock()

	select {
	case d.out <- batch.events:
	default:
		slog.Warn("Debounced events dropped, queue full", "path", path, "events", len(batch.events))
	}
}
