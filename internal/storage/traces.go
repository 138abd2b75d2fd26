package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iofold/iofold/internal/model"
)

// InsertTrace stores a normalized trace and returns the stored record.
// Inserting the same (source, trace_id) pair again replaces the stored
// spans and summary, so re-imports are idempotent.
func (db *DB) InsertTrace(ctx context.Context, source, traceID string, spans []model.Span, summary model.TraceSummary) (model.TraceRecord, error) {
	rec := model.TraceRecord{
		ID:        uuid.New(),
		TraceID:   traceID,
		Source:    source,
		Spans:     spans,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}

	err := db.pool.QueryRow(ctx,
		`INSERT INTO traces (id, trace_id, source, spans, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (source, trace_id)
		 DO UPDATE SET spans = EXCLUDED.spans, summary = EXCLUDED.summary
		 RETURNING id, created_at`,
		rec.ID, rec.TraceID, rec.Source, rec.Spans, rec.Summary, rec.CreatedAt,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return model.TraceRecord{}, fmt.Errorf("storage: insert trace: %w", err)
	}
	return rec, nil
}

// GetTrace retrieves a stored trace by its source trace ID.
func (db *DB) GetTrace(ctx context.Context, traceID string) (model.TraceRecord, error) {
	var rec model.TraceRecord
	err := db.pool.QueryRow(ctx,
		`SELECT id, trace_id, source, spans, summary, created_at
		 FROM traces WHERE trace_id = $1`, traceID,
	).Scan(&rec.ID, &rec.TraceID, &rec.Source, &rec.Spans, &rec.Summary, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TraceRecord{}, ErrNotFound
		}
		return model.TraceRecord{}, fmt.Errorf("storage: get trace: %w", err)
	}
	return rec, nil
}

// ListTraces returns stored traces ordered by created_at DESC, optionally
// filtered by source. Spans are omitted from list results; callers fetch
// a single trace for the full span set.
func (db *DB) ListTraces(ctx context.Context, source string, limit, offset int) ([]model.TraceRecord, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM traces WHERE ($1 = '' OR source = $1)`, source,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: count traces: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, trace_id, source, summary, created_at
		 FROM traces WHERE ($1 = '' OR source = $1)
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		source, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list traces: %w", err)
	}
	defer rows.Close()

	var recs []model.TraceRecord
	for rows.Next() {
		var r model.TraceRecord
		if err := rows.Scan(&r.ID, &r.TraceID, &r.Source, &r.Summary, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("storage: scan trace: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, total, rows.Err()
}

// DeleteTrace removes a stored trace by its source trace ID.
func (db *DB) DeleteTrace(ctx context.Context, traceID string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM traces WHERE trace_id = $1`, traceID)
	if err != nil {
		return fmt.Errorf("storage: delete trace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
