package worker

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/ZanzyTHEbar/hastefs/hastefs/extract"
	"github.com/ZanzyTHEbar/hastefs/hastefs/types"
)

// InProcess runs extraction directly in this process on a bounded goroutine
// pool. It preserves the deferred-result contract of the subprocess pool so
// callers cannot tell the two apart.
type InProcess struct {
	pool      *pool.Pool
	extractFn func(string) (*types.WorkerResult, error)
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// NewInProcess creates an in-process executor with at most size concurrent
// extractions.
func NewInProcess(size int) *InProcess {
	if size < 1 {
		size = 1
	}
	return &InProcess{
		pool:      pool.New().WithMaxGoroutines(size),
		extractFn: extract.Metadata,
	}
}

// Extract schedules extraction of filePath on the goroutine pool.
func (p *InProcess) Extract(ctx context.Context, filePath string) <-chan Result {
	out := make(chan Result, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		out <- Result{Err: ErrPoolClosed}
		return out
	}
	p.mu.Unlock()

	p.pool.Go(func() {
		if err := ctx.Err(); err != nil {
			out <- Result{Err: err}
			return
		}
		value, err := p.extractFn(filePath)
		out <- Result{Value: value, Err: err}
	})
	return out
}

// Close drains the pool. Safe to call more than once.
func (p *InProcess) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.pool.Wait()
	})
	return nil
}
