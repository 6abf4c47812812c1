package store

import (
	"path/filepath"
	"sort"
	"strings"

	roaring "github.com/RoaringBitmap/roaring"
	"github.com/armon/go-radix"

	"github.com/ZanzyTHEbar/hastefs/hastefs/types"
)

// FileStore is the read-only facade over the files table of a published
// build. Lookups are O(1); the match operations scan, with a patricia prefix
// index and per-extension bitmaps so scoped matches skip the full table.
type FileStore struct {
	files map[string]*types.FileMetadata

	// paths holds all keys in sorted order; ordinals index into it.
	paths      []string
	pathIndex  *radix.Tree                // path -> ordinal
	extBitmaps map[string]*roaring.Bitmap // extension -> ordinals
}

// NewFileStore snapshots files into an immutable store. The caller must not
// mutate the map afterwards.
func NewFileStore(files map[string]*types.FileMetadata) *FileStore {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	pathIndex := radix.New()
	extBitmaps := make(map[string]*roaring.Bitmap)
	for i, path := range paths {
		pathIndex.Insert(path, uint32(i))

		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		if ext == "" {
			continue
		}
		bm, ok := extBitmaps[ext]
		if !ok {
			bm = roaring.New()
			extBitmaps[ext] = bm
		}
		bm.Add(uint32(i))
	}

	return &FileStore{
		files:      files,
		paths:      paths,
		pathIndex:  pathIndex,
		extBitmaps: extBitmaps,
	}
}

// Exists reports whether path is part of the snapshot.
func (s *FileStore) Exists(path string) bool {
	_, ok := s.files[path]
	return ok
}

// GetMtime returns the recorded modification time for path.
func (s *FileStore) GetMtime(path string) (int64, bool) {
	meta, ok := s.files[path]
	if !ok {
		return 0, false
	}
	return meta.MTime, true
}

// GetDependencies returns the extracted dependencies for path, or nil when
// the file is unknown or was never extracted.
func (s *FileStore) GetDependencies(path string) []string {
	meta, ok := s.files[path]
	if !ok || !meta.Visited {
		return nil
	}
	return meta.Dependencies
}

// MatchFiles returns every path satisfying predicate, in sorted order.
func (s *FileStore) MatchFiles(predicate func(path string) bool) []string {
	var matched []string
	for _, path := range s.paths {
		if predicate(path) {
			matched = append(matched, path)
		}
	}
	return matched
}

// MatchFilesWithExtension restricts the scan to files carrying ext. The
// extension bitmap selects candidates without touching the rest of the table.
func (s *FileStore) MatchFilesWithExtension(ext string, predicate func(path string) bool) []string {
	bm, ok := s.extBitmaps[strings.TrimPrefix(ext, ".")]
	if !ok {
		return nil
	}
	var matched []string
	bm.Iterate(func(ordinal uint32) bool {
		path := s.paths[ordinal]
		if predicate == nil || predicate(path) {
			matched = append(matched, path)
		}
		return true
	})
	return matched
}

// MatchFilesUnder returns all paths below the given directory prefix.
func (s *FileStore) MatchFilesUnder(dir string) []string {
	prefix := strings.TrimSuffix(dir, string(filepath.Separator)) + string(filepath.Separator)
	var matched []string
	s.pathIndex.WalkPrefix(prefix, func(path string, _ any) bool {
		matched = append(matched, path)
		return false
	})
	return matched
}

// Len returns the number of files in the snapshot.
func (s *FileStore) Len() int {
	return len(s.paths)
}
