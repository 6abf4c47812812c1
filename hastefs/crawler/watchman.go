package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/hastefs/hastefs/types"
)

var (
	watchmanProbeMu sync.Mutex
	watchmanProbes  = make(map[string]bool)
)

// WatchmanAvailable reports whether the watchman service binary is invocable.
// Each binary is probed once per process; later calls return the cached
// verdict for that binary.
func WatchmanAvailable(binary string) bool {
	watchmanProbeMu.Lock()
	defer watchmanProbeMu.Unlock()

	if available, probed := watchmanProbes[binary]; probed {
		return available
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	available := exec.CommandContext(ctx, binary, "version").Run() == nil
	watchmanProbes[binary] = available
	return available
}

// Watchman crawls through the watchman service, exchanging per-root clocks so
// warm passes only see the files changed since the previous build.
type Watchman struct {
	binary string
}

// NewWatchman creates a watchman-backed crawler talking to binary.
func NewWatchman(binary string) *Watchman {
	if binary == "" {
		binary = "watchman"
	}
	return &Watchman{binary: binary}
}

type watchmanFile struct {
	Name    string `json:"name"`
	Exists  bool   `json:"exists"`
	MtimeMs int64  `json:"mtime_ms"`
}

type watchmanQueryResponse struct {
	Clock           string         `json:"clock"`
	IsFreshInstance bool           `json:"is_fresh_instance"`
	Files           []watchmanFile `json:"files"`
	Error           string         `json:"error"`
}

// Crawl queries every root since its stored clock and folds the deltas into
// the files table. A fresh watchman instance degrades that root to a full
// reconcile.
func (c *Watchman) Crawl(ctx context.Context, opts Options) (*types.HasteData, error) {
	for _, root := range opts.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
		}
		if err := c.crawlRoot(ctx, abs, opts); err != nil {
			return nil, err
		}
	}
	return opts.Data, nil
}

func (c *Watchman) crawlRoot(ctx context.Context, root string, opts Options) error {
	var watch struct {
		Watch        string `json:"watch"`
		RelativePath string `json:"relative_path"`
		Error        string `json:"error"`
	}
	if err := c.command(ctx, &watch, "watch-project", root); err != nil {
		return err
	}
	if watch.Error != "" {
		return fmt.Errorf("watchman watch-project %s: %s", root, watch.Error)
	}

	suffixes := make([]any, 0, len(opts.Extensions)+1)
	suffixes = append(suffixes, "anyof")
	for _, ext := range opts.Extensions {
		suffixes = append(suffixes, []any{"suffix", ext})
	}
	query := map[string]any{
		"expression": []any{"allof", []any{"type", "f"}, suffixes},
		"fields":     []string{"name", "exists", "mtime_ms"},
	}
	if watch.RelativePath != "" {
		query["relative_root"] = watch.RelativePath
	}
	if since := opts.Data.Clocks[root]; since != "" {
		query["since"] = since
	}

	var resp watchmanQueryResponse
	if err := c.command(ctx, &resp, "query", watch.Watch, query); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("watchman query %s: %s", root, resp.Error)
	}

	data := opts.Data
	reported := make(map[string]bool, len(resp.Files))

	for _, f := range resp.Files {
		path := filepath.Join(root, filepath.FromSlash(f.Name))
		if opts.Ignore != nil && opts.Ignore(path) {
			continue
		}
		if !f.Exists {
			delete(data.Files, path)
			continue
		}
		reported[path] = true
		reconcileFile(data, path, f.MtimeMs)
	}

	// A fresh instance reports the complete set for the root, so anything
	// previously known under it that was not reported is gone.
	if resp.IsFreshInstance {
		prefix := root + string(filepath.Separator)
		for path := range data.Files {
			if strings.HasPrefix(path, prefix) && !reported[path] {
				delete(data.Files, path)
			}
		}
	}

	data.Clocks[root] = resp.Clock
	return nil
}

// command runs one watchman command in JSON mode and decodes the response
// into out.
func (c *Watchman) command(ctx context.Context, out any, args ...any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode watchman command: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.binary, "--no-pretty", "--output-encoding=json", "-j")
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	raw, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("watchman %v failed: %w (%s)", args[0], err, strings.TrimSpace(stderr.String()))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode watchman response: %w", err)
	}
	return nil
}
