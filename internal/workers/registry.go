package workers

import (
	"context"
	"sort"
)

// Fetcher retrieves one kind of student data. Implementations must be safe
// for concurrent use.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, userID string, params map[string]interface{}) (interface{}, error)
}

// Registry maps source names to fetchers
type Registry struct {
	fetchers map[string]Fetcher
}

// NewRegistry creates an empty fetcher registry
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

// Register adds a fetcher under its name
func (r *Registry) Register(f Fetcher) {
	r.fetchers[f.Name()] = f
}

// Get looks up a fetcher by source name
func (r *Registry) Get(source string) (Fetcher, bool) {
	f, ok := r.fetchers[source]
	return f, ok
}

// Sources returns all registered source names, sorted
func (r *Registry) Sources() []string {
	names := make([]string, 0, len(r.fetchers))
	for name := range r.fetchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
