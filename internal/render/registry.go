package render

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps formats to their renderers. Formats without a registered
// renderer resolve to the fallback instead of failing.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu        sync.RWMutex
	renderers map[Format]Renderer
	fallback  Renderer
}

// NewRegistry creates a Registry holding only the fallback renderer.
func NewRegistry(fallback Renderer) *Registry {
	r := &Registry{renderers: make(map[Format]Renderer), fallback: fallback}
	r.renderers[fallback.Format()] = fallback
	return r
}

// Register adds a renderer. Panics on duplicate format to surface misconfiguration early.
func (r *Registry) Register(rd Renderer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.renderers[rd.Format()]; exists {
		panic(fmt.Sprintf("render registry: duplicate format %q", rd.Format()))
	}
	r.renderers[rd.Format()] = rd
}

// Lookup returns the renderer registered for format, if any.
func (r *Registry) Lookup(format Format) (Renderer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rd, ok := r.renderers[format]
	return rd, ok
}

// Resolve returns the renderer for format, or the fallback when format is unknown.
func (r *Registry) Resolve(format Format) Renderer {
	if rd, ok := r.Lookup(format); ok {
		return rd
	}
	return r.fallback
}

// Fallback returns the renderer used for unknown formats.
func (r *Registry) Fallback() Renderer {
	return r.fallback
}

// Formats returns all registered formats, sorted.
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Format, 0, len(r.renderers))
	for k := range r.renderers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
