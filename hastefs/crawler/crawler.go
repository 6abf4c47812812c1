package crawler

import (
	"context"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/ZanzyTHEbar/hastefs/hastefs/types"
)

// nodeModules is the dependency directory excluded from crawling unless a
// package is whitelisted or all files are retained.
const nodeModules = "node_modules"

// Options carries everything a crawler needs for one pass.
type Options struct {
	// Roots are the starting directories, absolute paths.
	Roots []string

	// Extensions is the file extension whitelist, without leading dots.
	Extensions []string

	// Ignore reports whether a candidate path is out of scope. Called for
	// every candidate, directories included.
	Ignore func(path string) bool

	// Data is the prior index. Crawlers reconcile its files table in place
	// and return it: new files enter with a cleared record carrying their
	// current mtime, removed files are deleted, changed files have their
	// derived fields cleared.
	Data *types.HasteData
}

// Crawler produces the current file set for the configured roots.
type Crawler interface {
	Crawl(ctx context.Context, opts Options) (*types.HasteData, error)
}

// NewIgnorePredicate builds the scoping predicate: a path is ignored if it
// matches one of the gitignore-style patterns, or if it lies under a
// node_modules segment without being covered by the package whitelist.
// retainAllFiles lifts the node_modules exclusion; the metadata stage still
// skips extraction for those files.
func NewIgnorePredicate(ignorePatterns []string, whitelist []string, retainAllFiles bool) func(string) bool {
	var matcher *ignore.GitIgnore
	if len(ignorePatterns) > 0 {
		matcher = ignore.CompileIgnoreLines(ignorePatterns...)
	}

	whitelisted := make(map[string]bool, len(whitelist))
	for _, name := range whitelist {
		whitelisted[name] = true
	}

	return func(path string) bool {
		if matcher != nil && matcher.MatchesPath(path) {
			return true
		}
		if retainAllFiles {
			return false
		}
		pkg, under := nodeModulesPackage(path)
		return under && !whitelisted[pkg]
	}
}

// IsNodeModulesPath reports whether path lies under a node_modules segment.
func IsNodeModulesPath(path string) bool {
	_, under := nodeModulesPackage(path)
	return under
}

// nodeModulesPackage returns the package name owning path when path lies
// under a node_modules segment. The name is the segment right after the last
// node_modules component, so nested dependencies resolve to the innermost
// package. The bare node_modules directory itself is not under any package;
// crawlers must descend into it so whitelisted packages one level down are
// still reached.
func nodeModulesPackage(path string) (string, bool) {
	segments := strings.Split(filepath.ToSlash(path), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != nodeModules {
			continue
		}
		if i+1 < len(segments) {
			return segments[i+1], true
		}
		return "", false
	}
	return "", false
}

// HasExtension reports whether name carries one of the whitelisted
// extensions.
func HasExtension(name string, extensions []string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return false
	}
	for _, allowed := range extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// reconcileFile folds one on-disk file into the files table. Unchanged
// records pass through untouched; new or modified files get a cleared record
// so the metadata stage re-extracts them.
func reconcileFile(data *types.HasteData, path string, mtime int64) {
	if prior, ok := data.Files[path]; ok && prior.MTime == mtime {
		return
	}
	data.Files[path] = &types.FileMetadata{MTime: mtime}
}
