// Package registry is the process-wide catalog of source kinds and stream
// kinds (spec §4.1). It is the single source of truth for stream-table
// naming and the only place that dispatches a (source, stream) pair to a
// runtime Stream object; the scheduler and transform engine never hard-code
// provider- or stream-specific strings.
package registry

import (
	"fmt"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/streamdriver"
)

// OAuthEndpoints names the URLs a source kind's OAuth dance uses.
type OAuthEndpoints struct {
	AuthorizeURL string
	TokenURL     string
	Scopes       []string
}

// StreamKind declares static metadata for one data feed offered by a
// source kind.
type StreamKind struct {
	Name               string
	DefaultCadence     string // cron expression
	BackfillWindowDays int
	TargetTables       []string // ontology tables this stream's raw rows feed, via the transform catalog
	HasBlob            bool     // true for streams whose records reference an object-store blob (e.g. mic)
	NewStream          func(sc domain.SourceConnection) (streamdriver.Stream, error)
}

// SourceKind declares static metadata for one data-origin kind.
type SourceKind struct {
	Name        string
	DisplayName string
	Auth        domain.AuthModel
	OAuth       OAuthEndpoints // zero value when Auth != domain.AuthOAuth
	Streams     map[string]StreamKind
}

// StreamTableName is the single place stream-table naming is computed:
// stream_{source}_{stream}, per spec §4.1/§6.
func StreamTableName(sourceKind, streamKind string) string {
	return fmt.Sprintf("stream_%s_%s", sourceKind, streamKind)
}

// Registry is the process-wide catalog.
type Registry struct {
	sources map[string]SourceKind
}

// New builds an empty Registry; call Register for each source kind.
func New() *Registry {
	return &Registry{sources: map[string]SourceKind{}}
}

// Register adds a source kind to the catalog. Panics on duplicate
// registration since this only ever happens once at process startup with a
// fixed, reviewed set of kinds — a duplicate is a programming error, not a
// runtime condition to recover from.
func (r *Registry) Register(kind SourceKind) {
	if _, exists := r.sources[kind.Name]; exists {
		panic(fmt.Sprintf("registry: duplicate source kind %q", kind.Name))
	}
	r.sources[kind.Name] = kind
}

// ListSources returns every registered source kind.
func (r *Registry) ListSources() []SourceKind {
	out := make([]SourceKind, 0, len(r.sources))
	for _, sk := range r.sources {
		out = append(out, sk)
	}
	return out
}

// Source looks up a source kind by name.
func (r *Registry) Source(kind string) (SourceKind, bool) {
	sk, ok := r.sources[kind]
	return sk, ok
}

// ListStreams returns every stream kind a source kind declares.
func (r *Registry) ListStreams(sourceKind string) ([]StreamKind, error) {
	sk, ok := r.sources[sourceKind]
	if !ok {
		return nil, fmt.Errorf("registry: unknown source kind %q", sourceKind)
	}
	out := make([]StreamKind, 0, len(sk.Streams))
	for _, stream := range sk.Streams {
		out = append(out, stream)
	}
	return out, nil
}

// Stream looks up one stream kind declared by a source kind.
func (r *Registry) Stream(sourceKind, streamKind string) (StreamKind, error) {
	sk, ok := r.sources[sourceKind]
	if !ok {
		return StreamKind{}, fmt.Errorf("registry: unknown source kind %q", sourceKind)
	}
	stream, ok := sk.Streams[streamKind]
	if !ok {
		return StreamKind{}, fmt.Errorf("registry: source kind %q does not declare stream %q", sourceKind, streamKind)
	}
	return stream, nil
}

// Instantiate builds a runtime Stream for sc's source kind + the given
// stream kind, failing if the auth model is incompatible or the stream is
// not declared by that source (spec §4.1).
func (r *Registry) Instantiate(sc domain.SourceConnection, streamKind string) (streamdriver.Stream, error) {
	sk, ok := r.sources[sc.Kind]
	if !ok {
		return nil, fmt.Errorf("registry: unknown source kind %q", sc.Kind)
	}
	stream, ok := sk.Streams[streamKind]
	if !ok {
		return nil, fmt.Errorf("registry: source kind %q does not declare stream %q", sc.Kind, streamKind)
	}
	if sk.Auth != sc.Auth {
		return nil, fmt.Errorf("registry: source connection auth model %q incompatible with source kind %q (wants %q)", sc.Auth, sc.Kind, sk.Auth)
	}
	return stream.NewStream(sc)
}
