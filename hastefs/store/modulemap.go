package store

import (
	"github.com/ZanzyTHEbar/hastefs/hastefs/types"
)

// ModuleMap is the read-only facade over the module and mock tables of a
// published build. Resolution order is exact platform, then the native
// fallback when the caller supports it, then the generic entry.
type ModuleMap struct {
	modules map[string]types.PlatformModules
	mocks   map[string]string
}

// NewModuleMap snapshots the module tables into an immutable map. The caller
// must not mutate them afterwards.
func NewModuleMap(modules map[string]types.PlatformModules, mocks map[string]string) *ModuleMap {
	return &ModuleMap{modules: modules, mocks: mocks}
}

// GetModule resolves id for platform and returns the providing file, or ""
// when no module entry serves it.
func (m *ModuleMap) GetModule(id, platform string, supportsNativePlatform bool) string {
	return m.resolve(id, platform, supportsNativePlatform, types.KindModule)
}

// GetPackage resolves id for platform among package entries.
func (m *ModuleMap) GetPackage(id, platform string) string {
	return m.resolve(id, platform, false, types.KindPackage)
}

// GetMockModule returns the mock file registered for stem, or "".
func (m *ModuleMap) GetMockModule(stem string) string {
	return m.mocks[stem]
}

func (m *ModuleMap) resolve(id, platform string, supportsNativePlatform bool, kind types.ModuleKind) string {
	platforms, ok := m.modules[id]
	if !ok {
		return ""
	}

	ref, ok := platforms[platform]
	if !ok && supportsNativePlatform {
		ref, ok = platforms[types.NativePlatform]
	}
	if !ok {
		ref, ok = platforms[types.GenericPlatform]
	}
	if !ok || ref.Kind != kind {
		return ""
	}
	return ref.Path
}
