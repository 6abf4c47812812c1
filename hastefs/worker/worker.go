package worker

import (
	"context"
	"errors"

	"github.com/ZanzyTHEbar/hastefs/hastefs/types"
)

// ErrPoolClosed is returned for extractions submitted after teardown.
var ErrPoolClosed = errors.New("worker pool is closed")

// Request is one extraction job sent to a worker process.
type Request struct {
	FilePath string `json:"filePath"`
}

// Response is the worker process answer for one Request.
type Response struct {
	ID           string                `json:"id,omitempty"`
	Module       *types.ModuleMetadata `json:"module,omitempty"`
	Dependencies []string              `json:"dependencies,omitempty"`
	Error        string                `json:"error,omitempty"`
}

// Result is the delivered outcome of one extraction.
type Result struct {
	Value *types.WorkerResult
	Err   error
}

// Executor hands extraction jobs to workers and delivers results in
// completion order. Implementations are safe for concurrent Extract calls;
// Close is idempotent and must only run once no extractions are outstanding.
type Executor interface {
	// Extract schedules metadata extraction for filePath and returns a
	// single-result channel.
	Extract(ctx context.Context, filePath string) <-chan Result

	// Close tears the executor down. No further jobs are accepted.
	Close() error
}

// NewExecutor selects the executor for the configured concurrency: a direct
// in-process executor when maxWorkers is one or less, a subprocess pool
// otherwise.
func NewExecutor(workerBinary string, maxWorkers int) Executor {
	if maxWorkers <= 1 {
		return NewInProcess(1)
	}
	return NewProcessPool(workerBinary, maxWorkers)
}
