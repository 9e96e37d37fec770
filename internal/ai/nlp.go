package ai

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"cakeday/internal/dates"
	"cakeday/internal/domain"
)

const dateExtractionSystem = `You extract birthday dates from informal text.
Respond with ONLY a JSON object, no prose, with fields:
  day (int), month (int), year (int or null),
  ambiguous (bool), options (array of strings, only when ambiguous),
  error (string, only when no date is present).
Dates are day-first: "3/4" means 3 April. If the text could mean more than
one date, set ambiguous=true and list the readings in options.`

// DateExtractor implements dates.DateNLP on a Completer. One call per
// extraction; the caller decides whether the regex strategies ran first.
type DateExtractor struct {
	completer Completer
	logger    *slog.Logger
}

func NewDateExtractor(completer Completer, logger *slog.Logger) *DateExtractor {
	return &DateExtractor{completer: completer, logger: logger}
}

func (d *DateExtractor) ExtractDate(ctx context.Context, text string) (dates.NLPResult, error) {
	raw, _, err := d.completer.Complete(ctx, CompletionRequest{
		System:      dateExtractionSystem,
		Messages:    []Message{{Role: "user", Content: text}},
		MaxTokens:   TokensFor("date_extraction"),
		Temperature: TemperatureFor("date_extraction"),
		UseCase:     "date_extraction",
	})
	if err != nil {
		return dates.NLPResult{}, err
	}

	var result dates.NLPResult
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &result); err != nil {
		d.logger.WarnContext(ctx, "nlp date extraction returned non-json", slog.String("raw", raw))
		return dates.NLPResult{}, domain.Wrap(domain.KindUpstreamTransient, "parse nlp date response", err)
	}
	return result, nil
}

// extractJSONObject tolerates models that wrap the object in code fences or
// a sentence of preamble.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
