package ingest

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iofold/iofold/internal/model"
)

const langgraphWeatherExport = `{
	"trace_id": "run-42",
	"steps": [
		{
			"step_id": "s0",
			"node_name": "__start__",
			"timestamp": "2024-06-01T12:00:00Z",
			"messages_added": [{"role": "user", "content": "What's the weather in Paris?"}]
		},
		{
			"step_id": "s1",
			"node_name": "agent",
			"timestamp": "2024-06-01T12:00:01Z",
			"duration_ms": 1200,
			"metadata": {"model": "gpt-4o"},
			"usage": {"input_tokens": 20, "output_tokens": 8},
			"messages_added": [{
				"role": "assistant",
				"content": "",
				"tool_calls": [{"id": "call-1", "name": "get_weather", "args": {"city": "Paris"}}]
			}]
		},
		{
			"step_id": "s2",
			"node_name": "tools",
			"timestamp": "2024-06-01T12:00:02Z",
			"messages_added": [{
				"role": "tool",
				"name": "get_weather",
				"content": "18C and sunny",
				"tool_call_id": "call-1"
			}]
		},
		{
			"step_id": "s3",
			"node_name": "agent",
			"timestamp": "2024-06-01T12:00:03Z",
			"duration_ms": 900,
			"metadata": {"model": "gpt-4o"},
			"messages_added": [{
				"role": "assistant",
				"content": [{"type": "text", "text": "It's 18C and sunny in Paris."}]
			}]
		}
	]
}`

func TestLanggraphStepsToSpans(t *testing.T) {
	spans, err := NewLanggraphAdapter().Transform(json.RawMessage(langgraphWeatherExport))
	require.NoError(t, err)
	require.Len(t, spans, 4)

	for _, s := range spans {
		assert.Equal(t, "run-42", s.TraceID)
	}

	start := spans[0]
	assert.Equal(t, model.SpanKindChain, start.Kind)
	assert.Equal(t, "__start__", start.Name)

	turn := spans[1]
	require.Equal(t, model.SpanKindLLM, turn.Kind)
	assert.Equal(t, "s1", turn.SpanID)
	assert.Equal(t, model.SpanStatusOK, turn.Status)
	require.NotNil(t, turn.EndTime)
	assert.Equal(t, "2024-06-01T12:00:02.2Z", *turn.EndTime, "end time derives from duration_ms")
	assert.Equal(t, "gpt-4o", *turn.LLM.ModelName)
	require.NotNil(t, turn.LLM.TokenCountTotal)
	assert.Equal(t, 28, *turn.LLM.TokenCountTotal)

	// The turn consumes the conversation so far.
	require.Len(t, turn.LLM.InputMessages, 1)
	assert.Equal(t, "What's the weather in Paris?", turn.LLM.InputMessages[0].Content)

	require.Len(t, turn.LLM.OutputMessages, 1)
	calls := turn.LLM.OutputMessages[0].ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, "call-1", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Function.Name)
	assert.Equal(t, `{"city":"Paris"}`, calls[0].Function.Arguments)

	tool := spans[2]
	require.Equal(t, model.SpanKindTool, tool.Kind)
	assert.Equal(t, "call-1", tool.SpanID, "tool span id is the call id when the source links it")
	require.NotNil(t, tool.ParentSpanID)
	assert.Equal(t, "s1", *tool.ParentSpanID, "execution parents to the issuing turn")
	assert.Equal(t, "get_weather", tool.Tool.Name)
	assert.Equal(t, map[string]any{"city": "Paris"}, tool.Tool.Parameters, "parameters recovered from the issuing request")
	assert.Equal(t, "18C and sunny", tool.Tool.Output)

	final := spans[3]
	require.Equal(t, model.SpanKindLLM, final.Kind)
	require.Len(t, final.LLM.InputMessages, 3, "user turn, assistant request, tool result")
	require.Len(t, final.LLM.OutputMessages, 1)
	assert.Equal(t, "It's 18C and sunny in Paris.", final.LLM.OutputMessages[0].Content, "content blocks flatten to text")
}

func TestLanggraphSynthesizedCallIDsAreUnique(t *testing.T) {
	raw := json.RawMessage(`{
		"trace_id": "run-1",
		"steps": [{
			"step_id": "s1",
			"node_name": "agent",
			"timestamp": "2024-06-01T12:00:00Z",
			"messages_added": [{
				"role": "assistant",
				"content": "",
				"tool_calls": [
					{"name": "lookup", "args": {"k": "a"}},
					{"name": "lookup", "args": {"k": "b"}}
				]
			}]
		}]
	}`)

	spans, err := NewLanggraphAdapter().Transform(raw)
	require.NoError(t, err)
	require.Len(t, spans, 1)

	calls := spans[0].LLM.OutputMessages[0].ToolCalls
	require.Len(t, calls, 2)
	assert.NotEmpty(t, calls[0].ID)
	assert.NotEqual(t, calls[0].ID, calls[1].ID, "same-tick calls to the same tool must not collide")
}

func TestLanggraphMissingTraceIDDerivedFromFirstStep(t *testing.T) {
	raw := json.RawMessage(`{
		"steps": [{
			"step_id": "s1",
			"node_name": "agent",
			"timestamp": "2024-06-01T12:00:00Z",
			"messages_added": [{"role": "assistant", "content": "hi"}]
		}]
	}`)

	spans, err := NewLanggraphAdapter().Transform(raw)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "trace-s1", spans[0].TraceID)
}

func TestLanggraphStepErrorMapsToErrorStatus(t *testing.T) {
	raw := json.RawMessage(`{
		"trace_id": "run-1",
		"steps": [{
			"step_id": "s1",
			"node_name": "agent",
			"timestamp": "2024-06-01T12:00:00Z",
			"duration_ms": 10,
			"error": "model timeout",
			"messages_added": [{"role": "assistant", "content": ""}]
		}]
	}`)

	spans, err := NewLanggraphAdapter().Transform(raw)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, model.SpanStatusError, spans[0].Status)
	require.NotNil(t, spans[0].StatusMessage)
	assert.Equal(t, "model timeout", *spans[0].StatusMessage)
}

func TestLanggraphRejectsMalformedPayload(t *testing.T) {
	_, err := NewLanggraphAdapter().Transform(json.RawMessage(`{"steps": []}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = NewLanggraphAdapter().Transform(json.RawMessage(`"nope"`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestLanggraphSummaryEndToEnd(t *testing.T) {
	adapter := NewLanggraphAdapter()
	spans, err := adapter.Transform(json.RawMessage(langgraphWeatherExport))
	require.NoError(t, err)

	summary := adapter.ExtractSummary(spans)
	assert.Equal(t, 4, summary.SpanCount)
	assert.Equal(t, "What's the weather in Paris?", summary.InputPreview)
	assert.Equal(t, "It's 18C and sunny in Paris.", summary.OutputPreview)
	assert.Equal(t, 28, summary.TotalTokens)
	assert.InDelta(t, 2100, summary.TotalDurationMs, 0.001, "durations sum independently per span")
	assert.False(t, summary.HasErrors)
}

func TestLanggraphTransformIsDeterministic(t *testing.T) {
	a := NewLanggraphAdapter()
	first, err := a.Transform(json.RawMessage(langgraphWeatherExport))
	require.NoError(t, err)
	second, err := a.Transform(json.RawMessage(langgraphWeatherExport))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%+v", first), fmt.Sprintf("%+v", second))
}
