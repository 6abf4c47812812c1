package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ZanzyTHEbar/hastefs/hastefs/types"
)

// providesModuleRe matches the docblock pragma declaring a module id.
var providesModuleRe = regexp.MustCompile(`(?m)^\s*\*?\s*@providesModule\s+(\S+)`)

// requireRe collects static module references: require('x'), import 'x',
// import ... from 'x', export ... from 'x'.
var requireRe = regexp.MustCompile(`(?m)(?:\brequire\s*\(\s*|\bimport\s*\(\s*|\bimport\b[^'"]*?\bfrom\s+|\bexport\b[^'"]*?\bfrom\s+|^\s*import\s+)['"]([^'"]+)['"]`)

// Metadata reads one file and returns its module id, module reference and
// static dependencies. A package.json manifest declares a package for the
// name it carries; any other file declares a module iff it has a
// @providesModule pragma.
func Metadata(filePath string) (*types.WorkerResult, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	result := &types.WorkerResult{}

	if filepath.Base(filePath) == "package.json" {
		var manifest struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(content, &manifest); err != nil {
			return nil, fmt.Errorf("failed to parse manifest %s: %w", filePath, err)
		}
		if manifest.Name != "" {
			result.ID = manifest.Name
			result.Module = &types.ModuleMetadata{Path: filePath, Kind: types.KindPackage}
		}
		return result, nil
	}

	if m := providesModuleRe.FindSubmatch(content); m != nil {
		result.ID = string(m[1])
		result.Module = &types.ModuleMetadata{Path: filePath, Kind: types.KindModule}
	}
	result.Dependencies = dependencies(content)
	return result, nil
}

// dependencies returns the referenced specifiers, deduplicated in first-seen
// order so repeated requires of the same module collapse to one entry.
func dependencies(content []byte) []string {
	matches := requireRe.FindAllSubmatch(content, -1)
	deps := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		dep := string(m[1])
		if seen[dep] {
			continue
		}
		seen[dep] = true
		deps = append(deps, dep)
	}
	return deps
}
