package core

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the template definitions known to a Service.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]TemplateDefinition
}

// NewRegistry creates a registry containing defs.
func NewRegistry(defs ...TemplateDefinition) (*Registry, error) {
	r := &Registry{defs: make(map[string]TemplateDefinition, len(defs))}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a template definition.
// Returns an error if the key is empty or already registered.
func (r *Registry) Register(def TemplateDefinition) error {
	def, err := prepareDefinition(def)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Info.Key]; exists {
		return fmt.Errorf("template already registered: %s", def.Info.Key)
	}
	r.defs[def.Info.Key] = def
	return nil
}

// Replace swaps the whole set of definitions atomically.
// Nothing changes if any definition is invalid or a key repeats.
func (r *Registry) Replace(defs []TemplateDefinition) error {
	next := make(map[string]TemplateDefinition, len(defs))
	for _, def := range defs {
		def, err := prepareDefinition(def)
		if err != nil {
			return err
		}
		if _, exists := next[def.Info.Key]; exists {
			return fmt.Errorf("template already registered: %s", def.Info.Key)
		}
		next[def.Info.Key] = def
	}

	r.mu.Lock()
	r.defs = next
	r.mu.Unlock()
	return nil
}

// prepareDefinition validates def and fills Columns from the schema.
func prepareDefinition(def TemplateDefinition) (TemplateDefinition, error) {
	if def.Info.Key == "" {
		return def, fmt.Errorf("template key is required")
	}
	if def.Reference == nil {
		return def, fmt.Errorf("template %s: reference is required", def.Info.Key)
	}
	if def.HeaderRows < 0 || def.SkipRows < 0 || def.SheetIndex < 0 {
		return def, fmt.Errorf("template %s: sheet, header rows and skip rows must not be negative", def.Info.Key)
	}
	if def.Info.Label == "" {
		def.Info.Label = def.Info.Key
	}
	if len(def.Info.Columns) == 0 && len(def.Schema.Fields) > 0 {
		def.Info.Columns = def.Schema.Columns()
	}
	return def, nil
}

// Get returns a template definition by key.
// Returns false if not found.
func (r *Registry) Get(key string) (TemplateDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[key]
	return def, ok
}

// All returns all definitions sorted by key.
func (r *Registry) All() []TemplateDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]TemplateDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Info.Key < result[j].Info.Key
	})

	return result
}

// Keys returns all registered keys, sorted.
func (r *Registry) Keys() []string {
	defs := r.All()
	keys := make([]string, len(defs))
	for i, def := range defs {
		keys[i] = def.Info.Key
	}
	return keys
}

// Count returns the number of registered templates.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
