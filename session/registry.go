package session

import (
	"slices"
	"strings"
	"sync"
)

// Registry maps file extensions to importers.
type Registry struct {
	mu        sync.RWMutex
	importers map[string]Importer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{importers: make(map[string]Importer)}
}

// DefaultRegistry returns a registry with the built-in delimited-text
// importers.
func DefaultRegistry(batchSize int) *Registry {
	r := NewRegistry()
	r.Register(".csv", CSVImporter{Comma: ',', BatchSize: batchSize})
	r.Register(".tsv", CSVImporter{Comma: '\t', BatchSize: batchSize})
	return r
}

// Register installs imp for ext, replacing any earlier importer.
func (r *Registry) Register(ext string, imp Importer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.importers[normalizeExt(ext)] = imp
}

// Lookup returns the importer for ext. A nil registry has none.
func (r *Registry) Lookup(ext string) (Importer, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	imp, ok := r.importers[normalizeExt(ext)]
	return imp, ok
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.importers))
	for ext := range r.importers {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
