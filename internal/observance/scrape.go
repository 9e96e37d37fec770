package observance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"cakeday/internal/domain"
)

const scrapeTimeout = 30 * time.Second

// refreshCooldown coalesces back-to-back refresh requests: a refresh that
// finished moments ago satisfies the next caller.
const refreshCooldown = time.Minute

var observanceDatePatterns = []*regexp.Regexp{
	// "10 December", "1 May"
	regexp.MustCompile(`(?i)\b([0-3]?\d)\s+(January|February|March|April|May|June|July|August|September|October|November|December)\b`),
	// "December 10", "May 1"
	regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+([0-3]?\d)\b`),
}

var monthIndex = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4, "may": 5, "june": 6,
	"july": 7, "august": 8, "september": 9, "october": 10, "november": 11, "december": 12,
}

// ScrapeSource scrapes an HTML list page (UN, UNESCO, WHO) into the cache.
type ScrapeSource struct {
	name    domain.ObservanceSourceName
	pageURL string
	enabled bool
	cache   *fileCache
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	lastRefresh time.Time
}

func NewScrapeSource(name domain.ObservanceSourceName, pageURL string, enabled bool, cacheDir string, ttl time.Duration, logger *slog.Logger) (*ScrapeSource, error) {
	cacheName := strings.ToLower(string(name)) + "_days.json"
	cache, err := newFileCache(cacheDir, cacheName, ttl)
	if err != nil {
		return nil, err
	}
	return &ScrapeSource{
		name:    name,
		pageURL: pageURL,
		enabled: enabled,
		cache:   cache,
		client:  &http.Client{Timeout: scrapeTimeout},
		logger:  logger.With(slog.String("source", string(name))),
		now:     time.Now,
	}, nil
}

func (s *ScrapeSource) Name() domain.ObservanceSourceName { return s.name }

func (s *ScrapeSource) Refresh(ctx context.Context, force bool) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if !force {
		if s.cache.fresh(now) {
			count, updated := s.cache.status()
			return count, updated, nil
		}
		// A refresh that just ran (possibly finding nothing new) absorbs
		// the call.
		if now.Sub(s.lastRefresh) < refreshCooldown {
			count, updated := s.cache.status()
			return count, updated, nil
		}
	}

	days, err := s.scrape(ctx)
	s.lastRefresh = s.now().UTC()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(days) == 0 {
		// A failed or restructured page yields nothing; keep the existing
		// cache rather than wiping known observances.
		s.logger.WarnContext(ctx, "scrape returned no observances; keeping cache")
		count, updated := s.cache.status()
		return count, updated, nil
	}

	if err := s.cache.save(days, now); err != nil {
		return 0, time.Time{}, fmt.Errorf("save %s cache: %w", s.name, err)
	}
	s.logger.InfoContext(ctx, "observance cache refreshed", slog.Int("count", len(days)))
	return len(days), now, nil
}

func (s *ScrapeSource) Status() SourceStatus {
	count, updated := s.cache.status()
	return SourceStatus{
		Name:            s.name,
		Enabled:         s.enabled,
		CacheFresh:      s.cache.fresh(s.now().UTC()),
		ObservanceCount: count,
		LastUpdated:     updated,
	}
}

func (s *ScrapeSource) Lookup(mmdd string) []domain.SpecialDay {
	if !s.enabled {
		return nil
	}
	return s.cache.lookup(mmdd)
}

func (s *ScrapeSource) scrape(ctx context.Context) ([]domain.SpecialDay, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", s.name, err)
	}
	req.Header.Set("User-Agent", "cakeday-bot/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstreamTransient, fmt.Sprintf("fetch %s page", s.name), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, domain.E(domain.KindUpstreamTransient, fmt.Sprintf("%s returned %d", s.name, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, domain.E(domain.KindUpstreamRefused, fmt.Sprintf("%s returned %d", s.name, resp.StatusCode))
	}

	return ExtractObservances(resp.Body, s.name, s.pageURL), nil
}

// ExtractObservances walks the page looking for anchors whose text names an
// observance ("... Day ...", "... Week ...") and pairs them with the nearest
// date found in the anchor or its surrounding text.
func ExtractObservances(r io.Reader, source domain.ObservanceSourceName, baseURL string) []domain.SpecialDay {
	tokenizer := html.NewTokenizer(r)

	type anchor struct {
		href string
		text strings.Builder
	}
	var current *anchor
	var days []domain.SpecialDay
	seen := map[string]bool{}
	var pendingDate string // most recent date text preceding an anchor

	flush := func(a *anchor) {
		text := strings.Join(strings.Fields(a.text.String()), " ")
		if !looksLikeObservanceName(text) {
			return
		}
		day, month, ok := parseObservanceDate(text)
		if !ok {
			day, month, ok = parseObservanceDate(pendingDate)
		}
		if !ok {
			return
		}

		name := stripDatePrefix(text)
		key := fmt.Sprintf("%02d-%02d|%s", month, day, strings.ToLower(name))
		if name == "" || seen[key] {
			return
		}
		seen[key] = true

		days = append(days, domain.SpecialDay{
			Day:      day,
			Month:    month,
			Name:     name,
			Category: inferCategory(name),
			Source:   source,
			URL:      resolveHref(baseURL, a.href),
			Enabled:  true,
		})
	}

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return days
		case html.StartTagToken:
			token := tokenizer.Token()
			if token.Data == "a" {
				current = &anchor{}
				for _, attr := range token.Attr {
					if attr.Key == "href" {
						current.href = attr.Val
					}
				}
			}
		case html.TextToken:
			text := string(tokenizer.Text())
			if current != nil {
				current.text.WriteString(text)
			} else if _, _, ok := parseObservanceDate(text); ok {
				pendingDate = text
			}
		case html.EndTagToken:
			token := tokenizer.Token()
			if token.Data == "a" && current != nil {
				flush(current)
				current = nil
			}
		}
	}
}

func looksLikeObservanceName(text string) bool {
	lower := strings.ToLower(text)
	if len(lower) < 8 {
		return false
	}
	for _, marker := range []string{" day", " week", " year", "day of", "week of"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func parseObservanceDate(text string) (day, month int, ok bool) {
	if text == "" {
		return 0, 0, false
	}

	if m := observanceDatePatterns[0].FindStringSubmatch(text); len(m) == 3 {
		day, _ = strconv.Atoi(m[1])
		month = monthIndex[strings.ToLower(m[2])]
	} else if m := observanceDatePatterns[1].FindStringSubmatch(text); len(m) == 3 {
		month = monthIndex[strings.ToLower(m[1])]
		day, _ = strconv.Atoi(m[2])
	} else {
		return 0, 0, false
	}

	if day < 1 || day > 31 || month < 1 || month > 12 {
		return 0, 0, false
	}
	return day, month, true
}

// stripDatePrefix removes a leading "10 December — " or "December 10:"
// fragment so the name is just the observance title.
func stripDatePrefix(text string) string {
	for _, pattern := range observanceDatePatterns {
		if loc := pattern.FindStringIndex(text); loc != nil && loc[0] == 0 {
			text = text[loc[1]:]
		}
	}
	return strings.Trim(strings.TrimSpace(text), "-–—:,. ")
}

func inferCategory(name string) domain.ObservanceCategory {
	lower := strings.ToLower(name)
	for _, kw := range []string{"health", "disease", "cancer", "aids", "malaria", "tuberculosis", "mental", "blood", "hepatitis", "immunization", "patient"} {
		if strings.Contains(lower, kw) {
			return domain.CategoryGlobalHealth
		}
	}
	for _, kw := range []string{"internet", "telecommunication", "digital", "technology", "science", "innovation", "data"} {
		if strings.Contains(lower, kw) {
			return domain.CategoryTech
		}
	}
	return domain.CategoryCulture
}

func resolveHref(base, href string) string {
	if href == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}
