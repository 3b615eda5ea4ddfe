// Package models contains domain types for paygap-engine.
package models

import (
	"context"
)

// ProvenanceSource represents how an operation was initiated.
type ProvenanceSource string

const (
	SourceAPI    ProvenanceSource = "api"    // HTTP request from a caller
	SourceSystem ProvenanceSource = "system" // background work, e.g. a run triggered by an import
)

// String returns the string representation of a ProvenanceSource.
func (s ProvenanceSource) String() string {
	return string(s)
}

// IsValid returns true if the source is a known provenance source.
func (s ProvenanceSource) IsValid() bool {
	switch s {
	case SourceAPI, SourceSystem:
		return true
	default:
		return false
	}
}

// SystemActor is the actor recorded for work no caller directly requested.
const SystemActor = "system"

// ProvenanceContext carries who performed an operation and how.
type ProvenanceContext struct {
	Source ProvenanceSource
	// Actor is the caller identity from the X-User-ID header. Authentication
	// happens upstream; the value is recorded as given.
	Actor string
}

type provenanceKey struct{}

// WithProvenance returns a new context with provenance information attached.
func WithProvenance(ctx context.Context, p ProvenanceContext) context.Context {
	return context.WithValue(ctx, provenanceKey{}, p)
}

// GetProvenance retrieves provenance information from the context.
func GetProvenance(ctx context.Context) (ProvenanceContext, bool) {
	p, ok := ctx.Value(provenanceKey{}).(ProvenanceContext)
	return p, ok
}

// WithAPIProvenance returns a context attributing work to an API caller.
func WithAPIProvenance(ctx context.Context, actor string) context.Context {
	return WithProvenance(ctx, ProvenanceContext{Source: SourceAPI, Actor: actor})
}

// WithSystemProvenance returns a context attributing work to the engine itself.
func WithSystemProvenance(ctx context.Context) context.Context {
	return WithProvenance(ctx, ProvenanceContext{Source: SourceSystem, Actor: SystemActor})
}

// ActorFromContext returns the recorded actor, or SystemActor when none is set.
func ActorFromContext(ctx context.Context) string {
	if p, ok := GetProvenance(ctx); ok && p.Actor != "" {
		return p.Actor
	}
	return SystemActor
}
