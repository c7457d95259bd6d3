package downloader

import (
	"sort"
	"strings"
	"sync"

	errs "bulkgrab/pkg/errors"
)

// Registry maps source names to downloader capabilities.
// Sources are registered explicitly at startup.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Downloader
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Downloader)}
}

// normalize is applied to source names on both registration and lookup
func normalize(source string) string {
	return strings.TrimSpace(source)
}

// Register binds a downloader to a source name
func (r *Registry) Register(source string, d Downloader) error {
	source = normalize(source)
	if source == "" {
		return errs.Configuration("source name cannot be empty")
	}
	if d == nil {
		return errs.Configuration("downloader for source " + source + " is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[source]; exists {
		return errs.Configuration("source " + source + " is already registered")
	}
	r.sources[source] = d
	return nil
}

// MustRegister is Register that panics on error, for static wiring
func (r *Registry) MustRegister(source string, d Downloader) {
	if err := r.Register(source, d); err != nil {
		panic(err)
	}
}

// Lookup returns the downloader for source
func (r *Registry) Lookup(source string) (Downloader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.sources[normalize(source)]
	return d, ok
}

// Sources returns the registered source names in lexical order
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
