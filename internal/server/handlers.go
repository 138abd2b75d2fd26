package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/iofold/iofold/internal/ingest"
	"github.com/iofold/iofold/internal/model"
	"github.com/iofold/iofold/internal/service/importer"
	"github.com/iofold/iofold/internal/storage"
)

// Pinger reports storage connectivity for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	importSvc           *importer.Service
	pinger              Pinger
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	ImportSvc           *importer.Service
	Pinger              Pinger
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		importSvc:           d.ImportSvc,
		pinger:              d.Pinger,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleImportTrace handles POST /v1/traces/{source}.
// The body is a raw export in the source's native format.
func (h *Handlers) HandleImportTrace(w http.ResponseWriter, r *http.Request) {
	source := ingest.Source(r.PathValue("source"))

	var raw json.RawMessage
	if err := decodeJSON(w, r, &raw, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	rec, err := h.importSvc.Import(r.Context(), source, raw)
	if err != nil {
		h.writeImportError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rec)
}

// HandleImportBatch handles POST /v1/traces/{source}/batch.
// The body is {"payloads": [<raw export>, ...]}.
func (h *Handlers) HandleImportBatch(w http.ResponseWriter, r *http.Request) {
	source := ingest.Source(r.PathValue("source"))

	var req struct {
		Payloads []json.RawMessage `json:"payloads"`
	}
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Payloads) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "payloads must not be empty")
		return
	}

	result, err := h.importSvc.ImportBatch(r.Context(), source, req.Payloads)
	if err != nil {
		h.writeImportError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleGetTrace handles GET /v1/traces/{trace_id}.
func (h *Handlers) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")

	rec, err := h.importSvc.GetTrace(r.Context(), traceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found: "+traceID)
			return
		}
		h.writeInternalError(w, r, "get trace", err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// HandleListTraces handles GET /v1/traces?source=&limit=&offset=.
// Listed records carry summaries only; spans are returned by HandleGetTrace.
func (h *Handlers) HandleListTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 50)
	offset := intParam(q.Get("offset"), 0)

	recs, total, err := h.importSvc.ListTraces(r.Context(), q.Get("source"), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "list traces", err)
		return
	}
	if recs == nil {
		recs = []model.TraceRecord{}
	}
	writeJSON(w, r, http.StatusOK, model.ListTracesResponse{
		Traces: recs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// HandleDeleteTrace handles DELETE /v1/traces/{trace_id}.
func (h *Handlers) HandleDeleteTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")

	if err := h.importSvc.DeleteTrace(r.Context(), traceID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found: "+traceID)
			return
		}
		h.writeInternalError(w, r, "delete trace", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListSources handles GET /v1/sources.
func (h *Handlers) HandleListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"sources": h.importSvc.Sources()})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			h.logger.Warn("health check: storage unreachable", "error", err)
		}
	}
	writeJSON(w, r, code, map[string]any{
		"status":         status,
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

func (h *Handlers) writeImportError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ingest.ErrUnknownSource):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeUnknownSource, err.Error())
	case errors.Is(err, ingest.ErrMalformedPayload):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, err.Error())
	default:
		h.writeInternalError(w, r, "import trace", err)
	}
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op+" failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "internal server error")
}

func intParam(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
