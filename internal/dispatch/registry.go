// ABOUTME: Method handler registry, read-only after gateway startup.
// ABOUTME: Maps wire method names to handler functions.

package dispatch

import "sync"

// Handler processes one request frame through its Context.
type Handler func(c *Context)

// Registry maps method names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty method registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a method name, replacing any prior binding.
func (r *Registry) Register(method string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// Get returns the handler for a method.
func (r *Registry) Get(method string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[method]
	return h, ok
}
