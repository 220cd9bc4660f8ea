// Package scanner defines the source-adapter contract and the registry the
// orchestrator resolves adapters from.
package scanner

import (
	"context"
	"fmt"

	"NormScanner/internal/domain"
)

// Collector is a single source-adapter strategy (gazette, tax portal, ...).
// Collect produces raw documents for the window; persisting them is the
// orchestrator's job.
type Collector interface {
	Name() string
	Kind() domain.SourceKind
	Collect(ctx context.Context, window domain.Window) ([]domain.RawDocument, error)
}

// Registry keeps a mapping from source kinds to their collectors.
type Registry struct {
	collectors map[domain.SourceKind]Collector
	order      []domain.SourceKind
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{collectors: map[domain.SourceKind]Collector{}}
}

// Register adds or replaces a collector implementation.
func (r *Registry) Register(c Collector) {
	if r.collectors == nil {
		r.collectors = map[domain.SourceKind]Collector{}
	}
	if _, exists := r.collectors[c.Kind()]; !exists {
		r.order = append(r.order, c.Kind())
	}
	r.collectors[c.Kind()] = c
}

// Resolve returns a collector by source kind or an error if it is absent.
func (r *Registry) Resolve(kind domain.SourceKind) (Collector, error) {
	if c, ok := r.collectors[kind]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("no collector registered for source %s", kind)
}

// All returns the registered collectors in registration order.
func (r *Registry) All() []Collector {
	out := make([]Collector, 0, len(r.order))
	for _, kind := range r.order {
		out = append(out, r.collectors[kind])
	}
	return out
}
