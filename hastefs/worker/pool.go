package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/ZanzyTHEbar/hastefs/hastefs/types"
)

// ProcessPool fans extraction jobs out to a fixed set of worker subprocesses
// speaking line-delimited JSON on stdin/stdout. Processes are spawned lazily
// on the first Extract call; if the worker binary cannot be started at all
// the pool degrades to an in-process executor with the same contract.
type ProcessPool struct {
	binary string
	size   int

	mu       sync.Mutex
	started  bool
	closed   bool
	jobs     chan job
	quit     chan struct{}
	fallback *InProcess
	wg       sync.WaitGroup
}

type job struct {
	ctx      context.Context
	filePath string
	out      chan<- Result
}

// NewProcessPool creates a pool of size worker subprocesses running binary.
// No process is spawned until the first job arrives.
func NewProcessPool(binary string, size int) *ProcessPool {
	if size < 2 {
		size = 2
	}
	return &ProcessPool{binary: binary, size: size}
}

// Extract queues filePath for extraction and returns a single-result channel.
// Results are delivered in completion order across the pool.
func (p *ProcessPool) Extract(ctx context.Context, filePath string) <-chan Result {
	out := make(chan Result, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		out <- Result{Err: ErrPoolClosed}
		return out
	}
	if !p.started {
		p.start()
		p.started = true
	}
	if p.fallback != nil {
		p.mu.Unlock()
		return p.fallback.Extract(ctx, filePath)
	}
	jobs, quit := p.jobs, p.quit
	p.mu.Unlock()

	go func() {
		select {
		case jobs <- job{ctx: ctx, filePath: filePath, out: out}:
		case <-ctx.Done():
			out <- Result{Err: ctx.Err()}
		case <-quit:
			out <- Result{Err: ErrPoolClosed}
		}
	}()
	return out
}

// start spawns the subprocesses. Called with p.mu held.
func (p *ProcessPool) start() {
	if _, err := exec.LookPath(p.binary); err != nil {
		slog.Warn("Worker binary unavailable, extracting in process",
			"binary", p.binary,
			"error", err)
		p.fallback = NewInProcess(p.size)
		return
	}

	p.jobs = make(chan job)
	p.quit = make(chan struct{})

	spawned := 0
	for i := 0; i < p.size; i++ {
		proc, err := spawnWorker(p.binary)
		if err != nil {
			slog.Warn("Failed to spawn worker process", "binary", p.binary, "error", err)
			continue
		}
		spawned++
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			proc.run(p.jobs, p.quit)
		}()
	}

	if spawned == 0 {
		p.fallback = NewInProcess(p.size)
		return
	}
	slog.Debug("Worker pool started", "binary", p.binary, "processes", spawned)
}

// Close tears the pool down: running processes are released and later jobs
// are refused. Safe to call more than once, and tolerates a pool that never
// spawned.
func (p *ProcessPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	fallback := p.fallback
	if p.started && fallback == nil {
		close(p.quit)
	}
	p.mu.Unlock()

	if fallback != nil {
		return fallback.Close()
	}
	p.wg.Wait()
	return nil
}

// workerProc is one extractor subprocess with its message channel.
type workerProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *json.Encoder
	dec   *json.Decoder
}

func spawnWorker(binary string) (*workerProc, error) {
	cmd := exec.Command(binary)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return &workerProc{
		cmd:   cmd,
		stdin: stdin,
		enc:   json.NewEncoder(stdin),
		dec:   json.NewDecoder(bufio.NewReader(stdout)),
	}, nil
}

// run services jobs until quit closes, then releases the subprocess.
func (w *workerProc) run(jobs <-chan job, quit <-chan struct{}) {
	defer w.release()
	for {
		select {
		case <-quit:
			return
		case j := <-jobs:
			j.out <- w.roundTrip(j)
		}
	}
}

func (w *workerProc) roundTrip(j job) Result {
	if err := j.ctx.Err(); err != nil {
		return Result{Err: err}
	}
	if err := w.enc.Encode(Request{FilePath: j.filePath}); err != nil {
		return Result{Err: fmt.Errorf("worker request failed: %w", err)}
	}
	var resp Response
	if err := w.dec.Decode(&resp); err != nil {
		return Result{Err: fmt.Errorf("worker response failed: %w", err)}
	}
	if resp.Error != "" {
		return Result{Err: errors.New(resp.Error)}
	}
	return Result{Value: &types.WorkerResult{
		ID:           resp.ID,
		Module:       resp.Module,
		Dependencies: resp.Dependencies,
	}}
}

func (w *workerProc) release() {
	w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		slog.Debug("Worker process exited", "error", err)
	}
}
