package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iofold/iofold/internal/ingest"
	"github.com/iofold/iofold/internal/model"
	"github.com/iofold/iofold/internal/service/importer"
	"github.com/iofold/iofold/internal/storage"
	"github.com/iofold/iofold/internal/testutil"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]model.TraceRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]model.TraceRecord)}
}

func (m *memStore) InsertTrace(_ context.Context, source, traceID string, spans []model.Span, summary model.TraceSummary) (model.TraceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := model.TraceRecord{ID: uuid.New(), TraceID: traceID, Source: source, Spans: spans, Summary: summary}
	m.records[traceID] = rec
	return rec, nil
}

func (m *memStore) GetTrace(_ context.Context, traceID string) (model.TraceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[traceID]
	if !ok {
		return model.TraceRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) ListTraces(_ context.Context, source string, limit, offset int) ([]model.TraceRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var recs []model.TraceRecord
	for _, rec := range m.records {
		if source == "" || rec.Source == source {
			recs = append(recs, rec)
		}
	}
	return recs, len(recs), nil
}

func (m *memStore) DeleteTrace(_ context.Context, traceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[traceID]; !ok {
		return storage.ErrNotFound
	}
	delete(m.records, traceID)
	return nil
}

const langfuseChatExport = `{
	"observations": [{
		"id": "obs-1",
		"traceId": "trace-1",
		"type": "GENERATION",
		"name": "chat",
		"model": "gpt-4o",
		"startTime": "2024-05-01T10:00:00Z",
		"input": [{"role": "user", "content": "Hi"}],
		"output": {"role": "assistant", "content": "Hello"}
	}]
}`

func newTestServer(t *testing.T) (*Server, *memStore) {
	t.Helper()
	store := newMemStore()
	svc := importer.New(store, ingest.NewRegistry(), testutil.TestLogger(), 2)
	srv := New(ServerConfig{
		ImportSvc:           svc,
		Logger:              testutil.TestLogger(),
		Port:                0,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	return srv, store
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Data
}

func TestImportTraceEndpoint(t *testing.T) {
	srv, store := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/v1/traces/langfuse", langfuseChatExport)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	data := decodeData(t, w)
	assert.Equal(t, "trace-1", data["trace_id"])
	assert.Equal(t, "langfuse", data["source"])

	_, err := store.GetTrace(context.Background(), "trace-1")
	assert.NoError(t, err)
}

func TestImportTraceUnknownSource(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/v1/traces/nonexistent", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var env struct {
		Error model.ErrorDetail `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, model.ErrCodeUnknownSource, env.Error.Code)
}

func TestImportTraceMalformedPayload(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/v1/traces/langfuse", `{"observations": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, srv, http.MethodPost, "/v1/traces/langfuse", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportBatchEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	body, err := json.Marshal(map[string]any{
		"payloads": []json.RawMessage{
			json.RawMessage(langfuseChatExport),
			json.RawMessage(`{"observations": []}`),
		},
	})
	require.NoError(t, err)

	w := doRequest(t, srv, http.MethodPost, "/v1/traces/langfuse/batch", string(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	data := decodeData(t, w)
	assert.Equal(t, float64(1), data["imported"])
	assert.Equal(t, float64(1), data["failed"])

	w = doRequest(t, srv, http.MethodPost, "/v1/traces/langfuse/batch", `{"payloads": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTraceEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/v1/traces/langfuse", langfuseChatExport)

	w := doRequest(t, srv, http.MethodGet, "/v1/traces/trace-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "trace-1", data["trace_id"])
	assert.NotEmpty(t, data["spans"])

	w = doRequest(t, srv, http.MethodGet, "/v1/traces/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTracesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/v1/traces/langfuse", langfuseChatExport)

	w := doRequest(t, srv, http.MethodGet, "/v1/traces?source=langfuse", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(1), data["total"])

	w = doRequest(t, srv, http.MethodGet, "/v1/traces?source=phoenix", "")
	require.Equal(t, http.StatusOK, w.Code)
	data = decodeData(t, w)
	assert.Equal(t, float64(0), data["total"])
	assert.NotNil(t, data["traces"], "empty list serializes as [], not null")
}

func TestDeleteTraceEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/v1/traces/langfuse", langfuseChatExport)

	w := doRequest(t, srv, http.MethodDelete, "/v1/traces/trace-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, srv, http.MethodDelete, "/v1/traces/trace-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSourcesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/v1/sources", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	sources, ok := data["sources"].([]any)
	require.True(t, ok)
	assert.Len(t, sources, 4)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "test", data["version"])
}
