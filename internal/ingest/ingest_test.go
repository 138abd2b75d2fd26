package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryHasBuiltinAdapters(t *testing.T) {
	r := NewRegistry()
	for _, src := range []Source{SourceLangfuse, SourceLangsmith, SourcePhoenix, SourceLanggraph} {
		a, err := r.Adapter(src)
		require.NoError(t, err, src)
		assert.Equal(t, src, a.Source())
	}
	assert.Len(t, r.Sources(), 4)
}

func TestRegistryUnknownSource(t *testing.T) {
	r := NewRegistry()

	_, err := r.Adapter(Source("nonexistent"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownSource)
	assert.Contains(t, err.Error(), "nonexistent")

	_, err = r.Transform(Source("nonexistent"), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownSource)

	_, err = r.Summarize(Source("nonexistent"), nil)
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	spans, err := r.Transform(SourceLangfuse, json.RawMessage(`{
		"observations": [{"id": "o1", "traceId": "t1", "type": "SPAN", "name": "s", "startTime": "2024-05-01T10:00:00Z"}]
	}`))
	require.NoError(t, err)
	require.Len(t, spans, 1)

	summary, err := r.Summarize(SourceLangfuse, spans)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SpanCount)
}
