// Package ingest normalizes execution traces exported by third-party
// LLM-observability tools into the canonical span model.
//
// Each supported source has one Adapter that parses the source-native
// export, rebuilds the span hierarchy, and reconciles tool calls so that
// the request to invoke a tool lives inside the issuing LLM span's output
// message while the execution stays a separate TOOL span.
//
// Transformation is pure: no I/O, no shared state, inputs are never
// mutated. Calls are safe to run concurrently across traces.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iofold/iofold/internal/model"
)

// Source identifies a supported trace export format.
type Source string

const (
	SourceLangfuse  Source = "langfuse"
	SourceLangsmith Source = "langsmith"
	SourcePhoenix   Source = "phoenix"
	SourceLanggraph Source = "langgraph"
)

// ErrUnknownSource is returned when no adapter is registered for a source tag.
var ErrUnknownSource = errors.New("ingest: no adapter registered")

// ErrMalformedPayload is returned when a raw payload is missing the minimum
// recognizable structure for its source. No spans are emitted in that case.
var ErrMalformedPayload = errors.New("ingest: malformed payload")

// Adapter converts one source's raw export into canonical spans.
type Adapter interface {
	// Source returns the tag this adapter handles.
	Source() Source

	// Transform parses the raw payload and returns canonical spans.
	// It fails with ErrMalformedPayload when the payload lacks the
	// source's minimum required shape; missing optional leaf fields are
	// defaulted, never raised.
	Transform(raw json.RawMessage) ([]model.Span, error)

	// ExtractSummary derives a list-view preview from canonical spans.
	ExtractSummary(spans []model.Span) model.TraceSummary
}

// Registry dispatches source tags to adapters. It is built once at process
// start and never mutated afterwards, so lookups need no locking.
type Registry struct {
	adapters map[Source]Adapter
}

// NewRegistry returns a registry with all built-in adapters registered.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[Source]Adapter)}
	r.Register(NewLangfuseAdapter())
	r.Register(NewLangsmithAdapter())
	r.Register(NewPhoenixAdapter())
	r.Register(NewLanggraphAdapter())
	return r
}

// Register adds an adapter, replacing any existing one for the same source.
// Call before the registry is shared; Registry is immutable afterwards.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Source()] = a
}

// Adapter resolves the adapter for a source tag.
func (r *Registry) Adapter(source Source) (Adapter, error) {
	a, ok := r.adapters[source]
	if !ok {
		return nil, fmt.Errorf("%w for source %q", ErrUnknownSource, source)
	}
	return a, nil
}

// Sources returns the registered source tags.
func (r *Registry) Sources() []Source {
	out := make([]Source, 0, len(r.adapters))
	for s := range r.adapters {
		out = append(out, s)
	}
	return out
}

// Transform dispatches a raw payload to the adapter for the given source.
func (r *Registry) Transform(source Source, raw json.RawMessage) ([]model.Span, error) {
	a, err := r.Adapter(source)
	if err != nil {
		return nil, err
	}
	return a.Transform(raw)
}

// Summarize dispatches summary extraction to the adapter for the source.
func (r *Registry) Summarize(source Source, spans []model.Span) (model.TraceSummary, error) {
	a, err := r.Adapter(source)
	if err != nil {
		return model.TraceSummary{}, err
	}
	return a.ExtractSummary(spans), nil
}
