package cache

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/hastefs/hastefs/types"
)

// tokenSeparator joins the identity tokens before hashing. Changing it
// invalidates every existing cache file, which is the intended behavior for
// a codec-affecting change.
const tokenSeparator = "$"

var nonWordRe = regexp.MustCompile(`\W`)

// FilePath derives the deterministic cache location for one build identity.
// Any change to the name, builder version or identity tokens (roots,
// extensions, platforms, mocks pattern) yields a distinct path; stale caches
// are simply never found.
func FilePath(cacheDir, name, version string, tokens ...string) string {
	sanitized := nonWordRe.ReplaceAllString(name, "-")
	joined := strings.Join(append([]string{version}, tokens...), tokenSeparator)
	return filepath.Join(cacheDir, fmt.Sprintf("%s-%x", sanitized, md5.Sum([]byte(joined))))
}

// Read deserializes the cache file at path. A missing, unreadable or corrupt
// file is not an error: the caller gets an empty index and rebuilds from
// scratch.
func Read(path string) *types.HasteData {
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("Haste cache not readable, starting empty", "path", path, "error", err)
		return types.NewHasteData()
	}

	data := &types.HasteData{}
	if err := json.Unmarshal(raw, data); err != nil {
		slog.Warn("Haste cache corrupt, starting empty", "path", path, "error", err)
		return types.NewHasteData()
	}
	data.Normalize()
	return data
}

// Write persists the index as a single whole-file write. The payload lands in
// a uuid-suffixed temp file first and is renamed into place, so readers never
// observe a partially written cache. The given data is not mutated.
func Write(path string, data *types.HasteData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize haste map: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp := fmt.Sprintf("%s.tmp-%s", path, uuid.NewString())
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}
