package types

import (
	"encoding/json"
	"fmt"
)

// ModuleKind distinguishes single-file modules from directory packages whose
// manifest declares the module id.
type ModuleKind string

const (
	KindModule  ModuleKind = "module"
	KindPackage ModuleKind = "package"
)

const (
	// GenericPlatform is the sentinel used when a file carries no platform
	// token. A generic entry applies to all platforms unless a more specific
	// entry exists.
	GenericPlatform = "g"

	// NativePlatform is the shared fallback for device platforms.
	NativePlatform = "native"
)

// FileMetadata is the per-file record of the files table. Visited means the
// extractor has processed the file at this MTime, so ID and Dependencies are
// authoritative.
type FileMetadata struct {
	ID           string
	MTime        int64
	Visited      bool
	Dependencies []string
}

// MarshalJSON encodes the record as the compact positional tuple
// [id, mtime, visited, dependencies] used on disk.
func (m FileMetadata) MarshalJSON() ([]byte, error) {
	visited := 0
	if m.Visited {
		visited = 1
	}
	deps := m.Dependencies
	if deps == nil {
		deps = []string{}
	}
	return json.Marshal([]any{m.ID, m.MTime, visited, deps})
}

// UnmarshalJSON decodes the positional tuple form.
func (m *FileMetadata) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 4 {
		return fmt.Errorf("file record: expected 4 fields, got %d", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &m.ID); err != nil {
		return fmt.Errorf("file record id: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &m.MTime); err != nil {
		return fmt.Errorf("file record mtime: %w", err)
	}
	var visited int
	if err := json.Unmarshal(tuple[2], &visited); err != nil {
		return fmt.Errorf("file record visited: %w", err)
	}
	m.Visited = visited != 0
	if err := json.Unmarshal(tuple[3], &m.Dependencies); err != nil {
		return fmt.Errorf("file record dependencies: %w", err)
	}
	if m.Dependencies == nil {
		m.Dependencies = []string{}
	}
	return nil
}

// ModuleMetadata locates the file providing a module on one platform.
type ModuleMetadata struct {
	Path string
	Kind ModuleKind
}

// MarshalJSON encodes the reference as the positional tuple [path, kind].
func (m ModuleMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{m.Path, m.Kind})
}

// UnmarshalJSON decodes the positional tuple form.
func (m *ModuleMetadata) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("module ref: expected 2 fields, got %d", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &m.Path); err != nil {
		return fmt.Errorf("module ref path: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &m.Kind); err != nil {
		return fmt.Errorf("module ref kind: %w", err)
	}
	return nil
}

// PlatformModules maps a platform token to the module reference serving it.
type PlatformModules map[string]ModuleMetadata

// HasteData is the full index: the four tables exchanged between the cache,
// the crawlers and the metadata builder. Keys are exactly what was inserted;
// all four maps are always allocated.
type HasteData struct {
	Clocks  map[string]string          `json:"clocks"`
	Files   map[string]*FileMetadata   `json:"files"`
	Modules map[string]PlatformModules `json:"map"`
	Mocks   map[string]string          `json:"mocks"`
}

// NewHasteData returns an empty index with all four tables present.
func NewHasteData() *HasteData {
	return &HasteData{
		Clocks:  make(map[string]string),
		Files:   make(map[string]*FileMetadata),
		Modules: make(map[string]PlatformModules),
		Mocks:   make(map[string]string),
	}
}

// Normalize allocates any table left nil by a decoder so callers can rely on
// inserts not panicking.
func (d *HasteData) Normalize() {
	if d.Clocks == nil {
		d.Clocks = make(map[string]string)
	}
	if d.Files == nil {
		d.Files = make(map[string]*FileMetadata)
	}
	if d.Modules == nil {
		d.Modules = make(map[string]PlatformModules)
	}
	if d.Mocks == nil {
		d.Mocks = make(map[string]string)
	}
}

// Clone returns a deep copy sharing nothing with the receiver. Watch mode
// mutates the clone so the published build stays frozen.
func (d *HasteData) Clone() *HasteData {
	out := NewHasteData()
	for root, clock := range d.Clocks {
		out.Clocks[root] = clock
	}
	for path, meta := range d.Files {
		copied := *meta
		copied.Dependencies = append([]string(nil), meta.Dependencies...)
		out.Files[path] = &copied
	}
	for id, platforms := range d.Modules {
		copied := make(PlatformModules, len(platforms))
		for platform, ref := range platforms {
			copied[platform] = ref
		}
		out.Modules[id] = copied
	}
	for stem, path := range d.Mocks {
		out.Mocks[stem] = path
	}
	return out
}

// WorkerResult is the extractor output for one file. ID and Module are either
// both present or both absent.
type WorkerResult struct {
	ID           string          `json:"id,omitempty"`
	Module       *ModuleMetadata `json:"module,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
}
