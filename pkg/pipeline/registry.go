package pipeline

import (
	"github.com/flowforge/ingestion/pkg/datastructures/concurrentmap"
	"github.com/google/uuid"
)

// Handle is the observable identity of a running stage. A stage that
// crashes and restarts gets a fresh Handle with a new Incarnation; Name
// stays stable so administrative lookup and identity-change assertions
// both work off the registry.
type Handle struct {
	Name        string
	Incarnation string
}

// newHandle returns a Handle for name with a freshly minted incarnation.
func newHandle(name string) *Handle {
	return &Handle{Name: name, Incarnation: uuid.New().String()}
}

// Registry maps a stage's derivable name to its current running Handle.
// Restarting a stage replaces its entry with a new incarnation; the old
// Handle value, if a caller still holds it, now compares unequal to the
// one Lookup returns.
type Registry struct {
	stages *concurrentmap.ShardedMap[string, *Handle]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{stages: concurrentmap.New[string, *Handle](16)}
}

// Register installs a fresh incarnation for name and returns it.
func (r *Registry) Register(name string) *Handle {
	h := newHandle(name)
	r.stages.Set(name, h)
	return h
}

// Lookup returns the current Handle for name, if the stage is running.
func (r *Registry) Lookup(name string) (*Handle, bool) {
	return r.stages.Get(name)
}

// Unregister removes name from the registry (stage permanently stopped).
func (r *Registry) Unregister(name string) {
	r.stages.Delete(name)
}
