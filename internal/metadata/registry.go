package metadata

import (
	"fmt"
	"sync"

	"github.com/openlibhub/recordman/internal/domain"
)

// Factory parses one raw record payload into a Driver bound to the given
// source. originID is the identifier received from the harvester (empty for
// file imports); drivers may prefer an identifier found in the payload.
// A payload the driver cannot parse at all is a recoverable data error.
type Factory func(sourceID, originID string, raw []byte, params DriverParams) (Driver, error)

// Registry maps metadata formats to driver factories. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[domain.Format]Factory
}

// NewRegistry creates an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[domain.Format]Factory)}
}

// Register adds a factory for a format, replacing any existing one.
func (r *Registry) Register(format domain.Format, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[format] = f
}

// Formats returns the registered formats.
func (r *Registry) Formats() []domain.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formats := make([]domain.Format, 0, len(r.factories))
	for f := range r.factories {
		formats = append(formats, f)
	}
	return formats
}

// Driver parses raw metadata with the factory registered for format.
// An unregistered format is a configuration defect, not a data error.
func (r *Registry) Driver(format domain.Format, sourceID, originID string, raw []byte, params DriverParams) (Driver, error) {
	r.mu.RLock()
	f, ok := r.factories[format]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source %s format %q: %w", sourceID, format, domain.ErrUnknownFormat)
	}
	return f(sourceID, originID, raw, params)
}

// DefaultRegistry returns a registry with all built-in drivers registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(domain.FormatDublinCore, NewDublinCoreDriver)
	r.Register(domain.FormatMARC, NewMARCDriver)
	return r
}
