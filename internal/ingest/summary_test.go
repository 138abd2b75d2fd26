package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iofold/iofold/internal/model"
)

func llmSpan(id string, total *int, in, out string) model.Span {
	return model.Span{
		SpanID:  id,
		TraceID: "t",
		Kind:    model.SpanKindLLM,
		Name:    "chat",
		Status:  model.SpanStatusOK,
		LLM: &model.LLMSpan{
			InputMessages:   []model.Message{{Role: model.RoleUser, Content: in}},
			OutputMessages:  []model.Message{{Role: model.RoleAssistant, Content: out}},
			TokenCountTotal: total,
		},
	}
}

func TestExtractSummaryPreviewsAndTotals(t *testing.T) {
	first := llmSpan("a", ptr(10), "first question", "first answer")
	first.StartTime = "2024-05-01T10:00:00Z"
	first.EndTime = ptr("2024-05-01T10:00:01Z")

	second := llmSpan("b", ptr(7), "second question", "final answer")
	second.StartTime = "2024-05-01T10:00:00.5Z"
	second.EndTime = ptr("2024-05-01T10:00:02Z")

	tool := model.Span{
		SpanID: "c", TraceID: "t", Kind: model.SpanKindTool, Name: "search",
		Status: model.SpanStatusError, Tool: &model.ToolSpan{Name: "search"},
	}

	s := summarizer{}.ExtractSummary([]model.Span{first, second, tool})

	assert.Equal(t, 3, s.SpanCount)
	assert.Equal(t, "first question", s.InputPreview)
	assert.Equal(t, "final answer", s.OutputPreview)
	assert.Equal(t, 17, s.TotalTokens)
	assert.True(t, s.HasErrors)
	// Overlapping spans sum independently: 1000ms + 1500ms.
	assert.InDelta(t, 2500, s.TotalDurationMs, 0.001)
}

func TestExtractSummaryTruncatesLongPreviews(t *testing.T) {
	long := strings.Repeat("alpha beta ", 30) // 330 chars
	s := summarizer{}.ExtractSummary([]model.Span{llmSpan("a", nil, long, "ok")})

	require.True(t, strings.HasSuffix(s.InputPreview, "..."))
	assert.LessOrEqual(t, len([]rune(strings.TrimSuffix(s.InputPreview, "..."))), previewMaxLen)
}

func TestExtractSummaryEmptyAndNonLLM(t *testing.T) {
	s := summarizer{}.ExtractSummary(nil)
	assert.Equal(t, model.TraceSummary{}, s)

	chain := model.Span{SpanID: "x", TraceID: "t", Kind: model.SpanKindChain, Status: model.SpanStatusOK}
	s = summarizer{}.ExtractSummary([]model.Span{chain})
	assert.Equal(t, 1, s.SpanCount)
	assert.Empty(t, s.InputPreview)
	assert.Empty(t, s.OutputPreview)
	assert.Zero(t, s.TotalTokens)
}
