package ingest

import "github.com/rotisserie/eris"

// Registry maps source names to adapters in registration order.
type Registry struct {
	sources map[string]Source
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source. Registering a name twice replaces the adapter
// but keeps its original position.
func (r *Registry) Register(s Source) {
	name := s.Name()
	if _, ok := r.sources[name]; !ok {
		r.order = append(r.order, name)
	}
	r.sources[name] = s
}

// Get returns a source by name.
func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, eris.Errorf("ingest: unknown source %q", name)
	}
	return s, nil
}

// Select returns the named sources, or all sources when names is empty.
// A repeated name selects its source once.
func (r *Registry) Select(names []string) ([]Source, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	out := make([]Source, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		s, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		seen[n] = true
		out = append(out, s)
	}
	return out, nil
}

// All returns all sources in registration order.
func (r *Registry) All() []Source {
	out := make([]Source, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.sources[n])
	}
	return out
}

// Names returns all registered names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
