package observance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cakeday/internal/domain"
	"cakeday/internal/store"
)

const (
	calendarificBaseURL = "https://calendarific.com/api/v2/holidays"
	calendarificTTL     = 7 * 24 * time.Hour
)

// CalendarificSource pulls national holidays from the Calendarific REST
// API. The free tier allows ~500 calls/month, so the refresh strategy is a
// weekly prefetch: one month-sized call hydrates the upcoming week (two
// calls when the week straddles a month boundary). Lookup never calls out.
type CalendarificSource struct {
	apiKey  string
	country string
	region  string
	enabled bool
	budget  int
	warnAt  int

	cache      *fileCache
	budgetPath string
	client     *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu sync.Mutex
}

type calendarificResponse struct {
	Response struct {
		Holidays []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Date        struct {
				Datetime struct {
					Year  int `json:"year"`
					Month int `json:"month"`
					Day   int `json:"day"`
				} `json:"datetime"`
			} `json:"date"`
		} `json:"holidays"`
	} `json:"response"`
}

type budgetDoc struct {
	Month string `json:"month"` // YYYY-MM
	Calls int    `json:"calls"`
}

func NewCalendarificSource(apiKey, country, region string, enabled bool, budget, warnAt int, cacheDir string, logger *slog.Logger) (*CalendarificSource, error) {
	cache, err := newFileCache(cacheDir, "calendarific_days.json", calendarificTTL)
	if err != nil {
		return nil, err
	}
	return &CalendarificSource{
		apiKey:     apiKey,
		country:    country,
		region:     region,
		enabled:    enabled && apiKey != "",
		budget:     budget,
		warnAt:     warnAt,
		cache:      cache,
		budgetPath: filepath.Join(cacheDir, "calendarific_budget.json"),
		client:     &http.Client{Timeout: scrapeTimeout},
		logger:     logger.With(slog.String("source", "calendarific")),
		now:        time.Now,
	}, nil
}

func (s *CalendarificSource) Name() domain.ObservanceSourceName { return domain.SourceCalendarific }

func (s *CalendarificSource) Refresh(ctx context.Context, force bool) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if !s.enabled {
		count, updated := s.cache.status()
		return count, updated, nil
	}
	if !force && s.cache.fresh(now) {
		count, updated := s.cache.status()
		return count, updated, nil
	}

	// Months covering the next 7 days.
	months := map[string][2]int{}
	for i := 0; i < 7; i++ {
		d := now.AddDate(0, 0, i)
		months[d.Format("2006-01")] = [2]int{d.Year(), int(d.Month())}
	}

	var days []domain.SpecialDay
	for _, ym := range months {
		monthDays, err := s.fetchMonth(ctx, ym[0], ym[1])
		if err != nil {
			return 0, time.Time{}, err
		}
		days = append(days, monthDays...)
	}

	if len(days) == 0 {
		count, updated := s.cache.status()
		return count, updated, nil
	}

	if err := s.cache.save(days, now); err != nil {
		return 0, time.Time{}, fmt.Errorf("save calendarific cache: %w", err)
	}
	return len(days), now, nil
}

func (s *CalendarificSource) fetchMonth(ctx context.Context, year, month int) ([]domain.SpecialDay, error) {
	if err := s.consumeBudget(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("api_key", s.apiKey)
	q.Set("country", s.country)
	q.Set("year", fmt.Sprintf("%d", year))
	q.Set("month", fmt.Sprintf("%d", month))
	if s.region != "" {
		q.Set("location", s.region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, calendarificBaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build calendarific request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstreamTransient, "fetch calendarific", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.E(domain.KindRateLimited, "calendarific monthly quota exhausted")
	}
	if resp.StatusCode >= 500 {
		return nil, domain.E(domain.KindUpstreamTransient, fmt.Sprintf("calendarific returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, domain.E(domain.KindUpstreamRefused, fmt.Sprintf("calendarific returned %d", resp.StatusCode))
	}

	var payload calendarificResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode calendarific response: %w", err)
	}

	days := make([]domain.SpecialDay, 0, len(payload.Response.Holidays))
	for _, h := range payload.Response.Holidays {
		days = append(days, domain.SpecialDay{
			Day:         h.Date.Datetime.Day,
			Month:       h.Date.Datetime.Month,
			Name:        h.Name,
			Description: h.Description,
			Category:    domain.CategoryCulture,
			Source:      domain.SourceCalendarific,
			Enabled:     true,
		})
	}
	return days, nil
}

// consumeBudget tracks the monthly call count and refuses past the budget.
func (s *CalendarificSource) consumeBudget() error {
	doc := budgetDoc{}
	if data, err := os.ReadFile(s.budgetPath); err == nil {
		_ = json.Unmarshal(data, &doc)
	}

	monthKey := s.now().UTC().Format("2006-01")
	if doc.Month != monthKey {
		doc = budgetDoc{Month: monthKey}
	}

	if doc.Calls >= s.budget {
		return domain.E(domain.KindRateLimited, "calendarific monthly budget exhausted")
	}
	doc.Calls++
	if doc.Calls >= s.warnAt {
		s.logger.Warn("calendarific budget nearing limit",
			slog.Int("calls", doc.Calls),
			slog.Int("budget", s.budget),
		)
	}

	return store.AtomicWriteJSON(s.budgetPath, doc)
}

func (s *CalendarificSource) Status() SourceStatus {
	count, updated := s.cache.status()
	return SourceStatus{
		Name:            domain.SourceCalendarific,
		Enabled:         s.enabled,
		CacheFresh:      s.cache.fresh(s.now().UTC()),
		ObservanceCount: count,
		LastUpdated:     updated,
	}
}

func (s *CalendarificSource) Lookup(mmdd string) []domain.SpecialDay {
	if !s.enabled {
		return nil
	}
	return s.cache.lookup(mmdd)
}
