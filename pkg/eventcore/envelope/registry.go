package envelope

import (
	"fmt"
	"sync"
)

// TypeDef describes a registered event type.
type TypeDef struct {
	// Name is the event type (e.g. "patient.created").
	Name string

	// Version is the schema version new events of this type are encoded with.
	Version int

	// Compatible lists older versions a reader of this type still accepts.
	Compatible []int

	// Description explains the event's purpose.
	Description string
}

// AcceptsVersion reports whether a reader at this definition can decode an
// event at the given version.
func (d *TypeDef) AcceptsVersion(version int) bool {
	if version == d.Version {
		return true
	}
	for _, v := range d.Compatible {
		if v == version {
			return true
		}
	}
	return false
}

// Registry holds the set of known event types. It is populated explicitly at
// process start; there is no reflection-based discovery. Publishers reject
// drafts whose type is not registered.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*TypeDef
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*TypeDef)}
}

// Register adds an event type definition. Re-registering a name replaces the
// previous definition.
func (r *Registry) Register(def *TypeDef) error {
	if def.Name == "" {
		return fmt.Errorf("register event type: name is required")
	}
	if def.Version <= 0 {
		return fmt.Errorf("register event type %q: version must be positive", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[def.Name] = def
	return nil
}

// MustRegister adds a definition, panicking on error. Intended for process
// start wiring only.
func (r *Registry) MustRegister(def *TypeDef) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Known reports whether the event type is registered.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

// Get returns the definition for an event type.
func (r *Registry) Get(name string) (*TypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[name]
	return def, ok
}

// Types returns all registered type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}
