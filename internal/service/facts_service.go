package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cakeday/internal/ai"
	"cakeday/internal/personality"
	"cakeday/internal/store"
)

// FactsService fetches "on this day" facts for personalities that want
// historical color, cached per date+personality+year so each combination
// costs one LLM call per year.
type FactsService struct {
	completer ai.Completer
	cacheDir  string
	logger    *slog.Logger
}

func NewFactsService(completer ai.Completer, cacheDir string, logger *slog.Logger) (*FactsService, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create facts cache dir: %w", err)
	}
	return &FactsService{completer: completer, cacheDir: cacheDir, logger: logger}, nil
}

type factsDoc struct {
	FetchedAt time.Time `json:"fetched_at"`
	Facts     []string  `json:"facts"`
}

// ForDate returns facts for the date in the personality's register, or ""
// when the personality does not use them or fetching fails. Facts are
// flavor; failures never block a celebration.
func (s *FactsService) ForDate(ctx context.Context, p personality.Personality, day, month, year int) string {
	if !p.WantsHistorical {
		return ""
	}

	path := s.cachePath(day, month, string(p.Key), year)
	if cached, ok := s.readCache(path); ok {
		return strings.Join(cached.Facts, "\n")
	}

	raw, _, err := s.completer.Complete(ctx, ai.CompletionRequest{
		System: "You provide brief, verifiable historical facts. Respond with ONLY a JSON " +
			"array of 2-3 short strings, each one interesting thing that happened on the " +
			"given calendar date in history. Match this voice:\n" + p.StyleExtension,
		Messages: []ai.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Facts for %d %s.", day, time.Month(month).String()),
		}},
		MaxTokens:   ai.TokensFor("birthday_message"),
		Temperature: 0.4,
		UseCase:     "date_facts",
	})
	if err != nil {
		s.logger.DebugContext(ctx, "facts fetch failed", slog.String("error", err.Error()))
		return ""
	}

	var facts []string
	if err := json.Unmarshal([]byte(extractJSONArray(raw)), &facts); err != nil || len(facts) == 0 {
		s.logger.DebugContext(ctx, "facts response not a json array", slog.String("raw", truncate(raw, 120)))
		return ""
	}

	if err := store.AtomicWriteJSON(path, factsDoc{FetchedAt: time.Now(), Facts: facts}); err != nil {
		s.logger.WarnContext(ctx, "facts cache write failed", slog.String("error", err.Error()))
	}
	return strings.Join(facts, "\n")
}

// SweepPriorYears deletes cached fact files from earlier years. Returns the
// number removed.
func (s *FactsService) SweepPriorYears(currentYear int) (int, error) {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return 0, fmt.Errorf("read facts cache dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "facts_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		parts := strings.Split(strings.TrimSuffix(name, ".json"), "_")
		year, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil {
			continue
		}
		if year < currentYear {
			if err := os.Remove(filepath.Join(s.cacheDir, name)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (s *FactsService) cachePath(day, month int, personalityKey string, year int) string {
	return filepath.Join(s.cacheDir, fmt.Sprintf("facts_%02d_%02d_%s_%d.json", day, month, personalityKey, year))
}

func (s *FactsService) readCache(path string) (factsDoc, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return factsDoc{}, false
	}
	var doc factsDoc
	if err := json.Unmarshal(raw, &doc); err != nil || len(doc.Facts) == 0 {
		return factsDoc{}, false
	}
	return doc, true
}

func extractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
