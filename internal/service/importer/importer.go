// Package importer orchestrates trace ingestion: it normalizes raw exports
// through the adapter registry, extracts summaries, and persists the result.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/iofold/iofold/internal/ingest"
	"github.com/iofold/iofold/internal/model"
	"github.com/iofold/iofold/internal/telemetry"
)

// Store is the persistence surface the importer needs.
// *storage.DB satisfies it.
type Store interface {
	InsertTrace(ctx context.Context, source, traceID string, spans []model.Span, summary model.TraceSummary) (model.TraceRecord, error)
	GetTrace(ctx context.Context, traceID string) (model.TraceRecord, error)
	ListTraces(ctx context.Context, source string, limit, offset int) ([]model.TraceRecord, int, error)
	DeleteTrace(ctx context.Context, traceID string) error
}

// BatchItem is the outcome of one payload in a batch import.
type BatchItem struct {
	Index   int    `json:"index"`
	TraceID string `json:"trace_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchResult aggregates a batch import.
type BatchResult struct {
	Imported int         `json:"imported"`
	Failed   int         `json:"failed"`
	Items    []BatchItem `json:"items"`
}

// Service imports raw trace exports into normalized storage.
type Service struct {
	store       Store
	registry    *ingest.Registry
	logger      *slog.Logger
	concurrency int

	importCounter otelmetric.Int64Counter
	spanCounter   otelmetric.Int64Counter
}

// New creates an importer backed by the given store and adapter registry.
// concurrency bounds parallel workers during batch imports.
func New(store Store, registry *ingest.Registry, logger *slog.Logger, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = 1
	}
	s := &Service{
		store:       store,
		registry:    registry,
		logger:      logger,
		concurrency: concurrency,
	}

	meter := telemetry.Meter("importer")
	var err error
	if s.importCounter, err = meter.Int64Counter("iofold.imports"); err != nil {
		logger.Warn("importer: create import counter", "error", err)
	}
	if s.spanCounter, err = meter.Int64Counter("iofold.spans_imported"); err != nil {
		logger.Warn("importer: create span counter", "error", err)
	}
	return s
}

// Sources returns the sources the importer can ingest.
func (s *Service) Sources() []ingest.Source {
	return s.registry.Sources()
}

// Import normalizes a single raw export and persists it. The trace ID is
// taken from the normalized spans.
func (s *Service) Import(ctx context.Context, source ingest.Source, raw json.RawMessage) (model.TraceRecord, error) {
	spans, err := s.registry.Transform(source, raw)
	if err != nil {
		s.count(ctx, source, "error")
		return model.TraceRecord{}, fmt.Errorf("importer: transform: %w", err)
	}
	if len(spans) == 0 {
		// Adapters contract to fail instead of returning an empty span
		// list; guard anyway so a misbehaving adapter cannot panic us below.
		s.count(ctx, source, "error")
		return model.TraceRecord{}, fmt.Errorf("importer: transform: %w: adapter produced no spans", ingest.ErrMalformedPayload)
	}

	summary, err := s.registry.Summarize(source, spans)
	if err != nil {
		return model.TraceRecord{}, fmt.Errorf("importer: summarize: %w", err)
	}

	rec, err := s.store.InsertTrace(ctx, string(source), spans[0].TraceID, spans, summary)
	if err != nil {
		s.count(ctx, source, "error")
		return model.TraceRecord{}, fmt.Errorf("importer: store: %w", err)
	}

	s.count(ctx, source, "ok")
	if s.spanCounter != nil {
		s.spanCounter.Add(ctx, int64(len(spans)),
			otelmetric.WithAttributes(attribute.String("source", string(source))))
	}

	s.logger.Info("trace imported",
		"source", source, "trace_id", rec.TraceID, "spans", len(spans))
	return rec, nil
}

// ImportBatch imports multiple raw exports concurrently. Failures are
// per-item: one malformed payload does not abort the rest.
func (s *Service) ImportBatch(ctx context.Context, source ingest.Source, payloads []json.RawMessage) (BatchResult, error) {
	// Reject unknown sources up front rather than failing every item.
	if _, err := s.registry.Adapter(source); err != nil {
		return BatchResult{}, fmt.Errorf("importer: %w", err)
	}

	items := make([]BatchItem, len(payloads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, raw := range payloads {
		g.Go(func() error {
			item := BatchItem{Index: i}
			rec, err := s.Import(gctx, source, raw)
			if err != nil {
				item.Error = err.Error()
			} else {
				item.TraceID = rec.TraceID
			}
			items[i] = item
			return nil
		})
	}
	// Workers never return errors; the group is used for its limit and context.
	_ = g.Wait()

	result := BatchResult{Items: items}
	for _, item := range items {
		if item.Error == "" {
			result.Imported++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// GetTrace retrieves a stored trace by its source trace ID.
func (s *Service) GetTrace(ctx context.Context, traceID string) (model.TraceRecord, error) {
	return s.store.GetTrace(ctx, traceID)
}

// ListTraces lists stored traces, optionally filtered by source.
func (s *Service) ListTraces(ctx context.Context, source string, limit, offset int) ([]model.TraceRecord, int, error) {
	return s.store.ListTraces(ctx, source, limit, offset)
}

// DeleteTrace removes a stored trace by its source trace ID.
func (s *Service) DeleteTrace(ctx context.Context, traceID string) error {
	return s.store.DeleteTrace(ctx, traceID)
}

func (s *Service) count(ctx context.Context, source ingest.Source, outcome string) {
	if s.importCounter == nil {
		return
	}
	s.importCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("source", string(source)),
		attribute.String("outcome", outcome),
	))
}
