// Package plugin maps model-callable functions to plugin server endpoints
// and executes calls against them.
package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/renatogalera/chatstream/pkg/openai"
)

// Registry holds the functions offered to the model and the endpoint that
// serves each of them.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]string
	defs      map[string]openai.Function
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		endpoints: map[string]string{},
		defs:      map[string]openai.Function{},
	}
}

// Register adds fn under its name, served at endpoint. Registering a name
// twice replaces the earlier entry.
func (r *Registry) Register(fn openai.Function, endpoint string) error {
	name := strings.TrimSpace(fn.Name)
	if name == "" {
		return fmt.Errorf("plugin function name is empty")
	}
	if strings.TrimSpace(endpoint) == "" {
		return fmt.Errorf("plugin function %q has no endpoint", name)
	}
	fn.Name = name
	r.mu.Lock()
	r.endpoints[name] = endpoint
	r.defs[name] = fn
	r.mu.Unlock()
	return nil
}

// Endpoint returns the endpoint registered for name.
func (r *Registry) Endpoint(name string) (string, bool) {
	r.mu.RLock()
	ep, ok := r.endpoints[name]
	r.mu.RUnlock()
	return ep, ok
}

// Has reports whether a function is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Endpoint(name)
	return ok
}

// Names returns the registered function names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.endpoints))
	for k := range r.endpoints {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Functions returns the function definitions in name order, ready to be
// sent with a request.
func (r *Registry) Functions() []openai.Function {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]openai.Function, 0, len(names))
	for _, n := range names {
		if fn, ok := r.defs[n]; ok {
			out = append(out, fn)
		}
	}
	return out
}
