package webhook

import (
	"net/http"
)

// EntityData is the identity a provider adapter extracts from an
// inbound payload. Email is the dedup key; empty email means the
// entity is never deduplicated.
type EntityData struct {
	Name       string
	Email      string
	EntityType string
	Metadata   map[string]any
}

// Adapter handles one webhook provider: its signature scheme and its
// payload shape.
type Adapter interface {
	// Source is the provider identifier webhook configs reference.
	Source() string
	// Verify checks the request's signature against the shared secret.
	// A nil error means the delivery is authentic.
	Verify(header http.Header, body []byte, secret string) error
	// Extract pulls entity identity out of the payload. Providers
	// return what they can; declarative mappings supplement the rest.
	Extract(body []byte) (*EntityData, error)
}

// Registry maps provider sources to adapters, with a generic fallback
// for unknown sources.
type Registry struct {
	adapters map[string]Adapter
	fallback Adapter
}

// NewRegistry builds the default registry with all built-in providers.
func NewRegistry() *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter),
		fallback: &GenericAdapter{},
	}
	for _, a := range []Adapter{
		&StripeAdapter{},
		&TypeformAdapter{},
		&CalendlyAdapter{},
		&TokenAdapter{},
	} {
		r.adapters[a.Source()] = a
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Source()] = a
}

// For returns the adapter for a source, falling back to the generic
// adapter for sources with no dedicated integration.
func (r *Registry) For(source string) Adapter {
	if a, ok := r.adapters[source]; ok {
		return a
	}
	return r.fallback
}
