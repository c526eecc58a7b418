// ABOUTME: Registry of named channel plugin instances owned by the gateway.
// ABOUTME: Register is last-write-wins; StopAll never skips remaining plugins.

package channel

import (
	"log/slog"
	"sync"
)

// Registry maps logical channel names to plugin instances.
// Entries are added during startup and never removed individually; the
// registry lives for the whole gateway process.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		logger:  logger,
	}
}

// Register adds a plugin under the given name, replacing any prior entry.
func (r *Registry) Register(name string, p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; exists {
		r.logger.Warn("replacing registered channel", "channel", name)
	}
	r.plugins[name] = p
	r.logger.Info("channel registered", "channel", name, "type", p.Type().String(), "total", len(r.plugins))
}

// Get returns the plugin registered under name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[name]
	return p, ok
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Names returns the registered channel names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	return names
}

// StopAll stops every registered plugin. A failure from one plugin's Stop
// is logged and never prevents stopping the rest.
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, p := range r.plugins {
		if err := p.Stop(); err != nil {
			r.logger.Warn("channel stop failed", "channel", name, "error", err)
		}
	}
}
