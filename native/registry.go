package native

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Engine binds a named backend to the graph file extensions it reads.
type Engine struct {
	Name       string
	Extensions []string
	Library    Library
}

// Registry resolves engines by name or by graph file extension.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Engine
	byExt  map[string]string
}

// NewRegistry creates a registry holding the given engines.
func NewRegistry(engines ...Engine) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]Engine),
		byExt:  make(map[string]string),
	}
	for _, e := range engines {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an engine. Names and extensions must be unique.
func (r *Registry) Register(e Engine) error {
	if e.Name == "" {
		return fmt.Errorf("native: engine name is empty")
	}
	if e.Library == nil {
		return fmt.Errorf("native: engine %q has no library", e.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[e.Name]; ok {
		return fmt.Errorf("native: engine %q already registered", e.Name)
	}
	for _, ext := range e.Extensions {
		ext = normalizeExt(ext)
		if owner, ok := r.byExt[ext]; ok {
			return fmt.Errorf("native: extension %q already registered by %q", ext, owner)
		}
	}
	for _, ext := range e.Extensions {
		r.byExt[normalizeExt(ext)] = e.Name
	}
	e.Extensions = slices.Clone(e.Extensions)
	r.byName[e.Name] = e
	return nil
}

// Engine returns the engine registered under name.
func (r *Registry) Engine(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byName[name]
	if !ok {
		return Engine{}, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return e, nil
}

// ForPath returns the engine whose extension matches path.
func (r *Registry) ForPath(path string) (Engine, error) {
	ext := normalizeExt(filepath.Ext(path))

	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byExt[ext]
	if !ok {
		return Engine{}, fmt.Errorf("%w: no engine for extension %q", ErrUnknownEngine, ext)
	}
	return r.byName[name], nil
}

// Names returns the registered engine names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
