package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry holds validated, immutable flow definitions keyed by id and
// version. Definitions are never looked up through a global; the registry
// is constructed at startup and injected into whatever needs it, so a
// session keeps evaluating against the exact definition version it started
// with even after newer versions ship.
type Registry struct {
	mu   sync.RWMutex
	byID map[string][]*Definition // sorted by version ascending
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string][]*Definition)}
}

// Register validates and adds a definition. Re-registering an existing
// id+version pair is an error.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID[def.ID] {
		if existing.Version == def.Version {
			return fmt.Errorf("flow %s version %d already registered", def.ID, def.Version)
		}
	}
	defs := append(r.byID[def.ID], def)
	sort.Slice(defs, func(i, j int) bool { return defs[i].Version < defs[j].Version })
	r.byID[def.ID] = defs
	return nil
}

// Get returns the definition for id at the given version.
func (r *Registry) Get(id string, version int) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.byID[id] {
		if def.Version == version {
			return def, nil
		}
	}
	return nil, fmt.Errorf("flow %s version %d not found", id, version)
}

// Latest returns the highest registered version of id.
func (r *Registry) Latest(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := r.byID[id]
	if len(defs) == 0 {
		return nil, fmt.Errorf("flow %s not found", id)
	}
	return defs[len(defs)-1], nil
}

// IDs returns the registered flow ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ParseDefinition decodes a single YAML flow definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse flow definition: %w", err)
	}
	return &def, nil
}

// LoadDir reads every .yaml/.yml file in dir, validates each definition,
// and returns a populated registry.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read flows directory %s: %w", dir, err)
	}

	reg := NewRegistry()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read flow file %s: %w", name, err)
		}
		def, err := ParseDefinition(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := reg.Register(def); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return reg, nil
}
