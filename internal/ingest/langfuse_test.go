package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iofold/iofold/internal/model"
)

func TestLangfuseGenerationToLLMSpan(t *testing.T) {
	raw := json.RawMessage(`{
		"observations": [{
			"id": "obs-1",
			"traceId": "trace-1",
			"type": "GENERATION",
			"name": "chat",
			"startTime": "2024-05-01T10:00:00Z",
			"endTime": "2024-05-01T10:00:02Z",
			"model": "gpt-4o",
			"input": "Hi",
			"output": "Hello",
			"usage": {"promptTokens": 3, "completionTokens": 2}
		}]
	}`)

	spans, err := NewLangfuseAdapter().Transform(raw)
	require.NoError(t, err)
	require.Len(t, spans, 1)

	span := spans[0]
	assert.Equal(t, "obs-1", span.SpanID)
	assert.Equal(t, "obs-1", span.SourceSpanID)
	assert.Equal(t, "trace-1", span.TraceID)
	assert.Equal(t, model.SpanKindLLM, span.Kind)
	assert.Equal(t, model.SpanStatusOK, span.Status)
	assert.Nil(t, span.Tool)
	assert.Nil(t, span.Input)

	require.NotNil(t, span.LLM)
	require.NotNil(t, span.LLM.ModelName)
	assert.Equal(t, "gpt-4o", *span.LLM.ModelName)

	require.Len(t, span.LLM.InputMessages, 1)
	assert.Equal(t, model.RoleUser, span.LLM.InputMessages[0].Role)
	assert.Equal(t, "Hi", span.LLM.InputMessages[0].Content)

	require.Len(t, span.LLM.OutputMessages, 1)
	assert.Equal(t, model.RoleAssistant, span.LLM.OutputMessages[0].Role)
	assert.Equal(t, "Hello", span.LLM.OutputMessages[0].Content)

	require.NotNil(t, span.LLM.TokenCountTotal)
	assert.Equal(t, 5, *span.LLM.TokenCountTotal, "total derives from prompt+completion")
}

func TestLangfuseToolChildEmbedsRequestOnParent(t *testing.T) {
	raw := json.RawMessage(`{
		"observations": [
			{
				"id": "obs-llm",
				"traceId": "trace-1",
				"type": "GENERATION",
				"name": "chat",
				"startTime": "2024-05-01T10:00:00Z",
				"output": "Let me check the weather."
			},
			{
				"id": "obs-tool",
				"traceId": "trace-1",
				"type": "TOOL",
				"name": "get_weather",
				"parentObservationId": "obs-llm",
				"startTime": "2024-05-01T10:00:01Z",
				"endTime": "2024-05-01T10:00:02Z",
				"input": {"city": "Paris"},
				"output": "18C and sunny"
			}
		]
	}`)

	spans, err := NewLangfuseAdapter().Transform(raw)
	require.NoError(t, err)
	require.Len(t, spans, 2)

	llm := spans[0]
	require.Equal(t, model.SpanKindLLM, llm.Kind)
	require.Len(t, llm.LLM.OutputMessages, 1)
	calls := llm.LLM.OutputMessages[0].ToolCalls
	require.Len(t, calls, 1, "tool child becomes a request on the terminal assistant message")
	assert.Equal(t, "obs-tool", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Function.Name)
	assert.Equal(t, `{"city":"Paris"}`, calls[0].Function.Arguments)

	tool := spans[1]
	assert.Equal(t, model.SpanKindTool, tool.Kind)
	require.NotNil(t, tool.ParentSpanID)
	assert.Equal(t, "obs-llm", *tool.ParentSpanID)
	require.NotNil(t, tool.Tool)
	assert.Equal(t, "get_weather", tool.Tool.Name)
	assert.Equal(t, map[string]any{"city": "Paris"}, tool.Tool.Parameters)
	assert.Equal(t, "18C and sunny", tool.Tool.Output)
}

func TestLangfuseTraceIDResolvedByParentWalk(t *testing.T) {
	raw := json.RawMessage(`{
		"observations": [
			{"id": "root", "type": "CHAIN", "name": "pipeline", "startTime": "2024-05-01T10:00:00Z"},
			{"id": "leaf", "type": "SPAN", "name": "step", "parentObservationId": "root", "startTime": "2024-05-01T10:00:01Z"}
		]
	}`)

	spans, err := NewLangfuseAdapter().Transform(raw)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "root", spans[0].TraceID)
	assert.Equal(t, "root", spans[1].TraceID, "trace id falls back to the parent-chain root")
}

func TestLangfuseErrorLevelMapsToErrorStatus(t *testing.T) {
	raw := json.RawMessage(`{
		"observations": [{
			"id": "obs-1",
			"traceId": "t",
			"type": "GENERATION",
			"startTime": "2024-05-01T10:00:00Z",
			"endTime": "2024-05-01T10:00:01Z",
			"level": "ERROR",
			"statusMessage": "rate limited"
		}]
	}`)

	spans, err := NewLangfuseAdapter().Transform(raw)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, model.SpanStatusError, spans[0].Status)
	require.NotNil(t, spans[0].StatusMessage)
	assert.Equal(t, "rate limited", *spans[0].StatusMessage)
}

func TestLangfuseNumericTimestamps(t *testing.T) {
	raw := json.RawMessage(`{
		"observations": [{
			"id": "obs-1",
			"traceId": "t",
			"type": "SPAN",
			"name": "s",
			"startTime": 1700000000000
		}]
	}`)

	spans, err := NewLangfuseAdapter().Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, "2023-11-14T22:13:20Z", spans[0].StartTime)
}

func TestLangfuseRejectsMalformedPayload(t *testing.T) {
	_, err := NewLangfuseAdapter().Transform(json.RawMessage(`{"observations": []}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = NewLangfuseAdapter().Transform(json.RawMessage(`not json`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = NewLangfuseAdapter().Transform(json.RawMessage(`{"something": "else"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}
