package ingest

import (
	"strings"

	"github.com/iofold/iofold/internal/model"
)

// previewMaxLen bounds the visible characters of a summary preview.
const previewMaxLen = 200

// summarizer provides the shared ExtractSummary implementation; every
// adapter embeds it since summaries are derived from canonical spans only.
type summarizer struct{}

// ExtractSummary derives a cheap list-view preview: the first input message
// of the first LLM span, the last output message of the last LLM span,
// token and duration totals, and an error flag. Durations of overlapping
// spans are summed independently ("total work", not wall clock).
func (summarizer) ExtractSummary(spans []model.Span) model.TraceSummary {
	s := model.TraceSummary{SpanCount: len(spans)}

	var firstLLM, lastLLM *model.Span
	for i := range spans {
		sp := &spans[i]
		if sp.Status == model.SpanStatusError {
			s.HasErrors = true
		}
		if start, ok := parseISO(sp.StartTime); ok && sp.EndTime != nil {
			if end, ok := parseISO(*sp.EndTime); ok {
				s.TotalDurationMs += end.Sub(start).Seconds() * 1000
			}
		}
		if sp.Kind != model.SpanKindLLM || sp.LLM == nil {
			continue
		}
		if firstLLM == nil {
			firstLLM = sp
		}
		lastLLM = sp
		if sp.LLM.TokenCountTotal != nil {
			s.TotalTokens += *sp.LLM.TokenCountTotal
		}
	}

	if firstLLM != nil && len(firstLLM.LLM.InputMessages) > 0 {
		s.InputPreview = truncatePreview(firstLLM.LLM.InputMessages[0].Content)
	}
	if lastLLM != nil && len(lastLLM.LLM.OutputMessages) > 0 {
		out := lastLLM.LLM.OutputMessages
		s.OutputPreview = truncatePreview(out[len(out)-1].Content)
	}
	return s
}

// truncatePreview caps s at previewMaxLen visible characters with an
// ellipsis suffix, breaking at the nearest earlier word boundary when one
// exists within the bound.
func truncatePreview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewMaxLen {
		return s
	}
	cut := string(runes[:previewMaxLen])
	if idx := strings.LastIndexFunc(cut, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' }); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \n\t") + "..."
}
