package observance

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"cakeday/internal/domain"
)

// minSignificantNameLen guards the containment match: very short names
// ("May Day") are only deduplicated on exact normalized equality.
const minSignificantNameLen = 10

// containmentRatio is the minimum shorter/longer length ratio for two names
// to be treated as the same observance by containment.
const containmentRatio = 0.4

var nonAlnum = regexp.MustCompile(`[^a-z0-9 ]+`)

// Aggregator merges every enabled source into deduplicated, filtered,
// deterministically ordered views. It is pure with respect to the source
// caches.
type Aggregator struct {
	sources []Source
	config  func() domain.SpecialDaysConfig
	logger  *slog.Logger
}

func NewAggregator(sources []Source, config func() domain.SpecialDaysConfig, logger *slog.Logger) *Aggregator {
	return &Aggregator{sources: sources, config: config, logger: logger}
}

// ForDate returns the deduplicated, category-filtered observances for one
// day, sorted by (date, name).
func (a *Aggregator) ForDate(date time.Time) []domain.SpecialDay {
	mmdd := MMDDKey(date)
	var all []domain.SpecialDay
	for _, src := range a.sources {
		all = append(all, src.Lookup(mmdd)...)
	}
	return a.finalize(all)
}

// ForRange returns observances for [start, start+days), sorted.
func (a *Aggregator) ForRange(start time.Time, days int) []domain.SpecialDay {
	var all []domain.SpecialDay
	for i := 0; i < days; i++ {
		mmdd := MMDDKey(start.AddDate(0, 0, i))
		for _, src := range a.sources {
			all = append(all, src.Lookup(mmdd)...)
		}
	}
	return a.finalize(all)
}

// Week is the 7-day digest view starting at the given date.
func (a *Aggregator) Week(start time.Time) []domain.SpecialDay {
	return a.ForRange(start, 7)
}

// Month is the calendar-month view for the date's month.
func (a *Aggregator) Month(date time.Time) []domain.SpecialDay {
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	days := int(first.AddDate(0, 1, 0).Sub(first).Hours() / 24)
	return a.ForRange(first, days)
}

// Statuses reports every source's cache state for the ops surface.
func (a *Aggregator) Statuses() []SourceStatus {
	out := make([]SourceStatus, 0, len(a.sources))
	for _, src := range a.sources {
		out = append(out, src.Status())
	}
	return out
}

// Sources exposes the source list to the refresh workers.
func (a *Aggregator) Sources() []Source {
	return a.sources
}

func (a *Aggregator) finalize(all []domain.SpecialDay) []domain.SpecialDay {
	cfg := a.config()
	deduped := Dedupe(all)

	filtered := deduped[:0]
	for _, day := range deduped {
		if cfg.CategoryEnabled[day.Category] {
			filtered = append(filtered, day)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Month != filtered[j].Month {
			return filtered[i].Month < filtered[j].Month
		}
		if filtered[i].Day != filtered[j].Day {
			return filtered[i].Day < filtered[j].Day
		}
		return filtered[i].Name < filtered[j].Name
	})
	return filtered
}

// Dedupe collapses observances that are the same day under fuzzy name
// matching, keeping the record from the highest-priority source.
func Dedupe(days []domain.SpecialDay) []domain.SpecialDay {
	var out []domain.SpecialDay
	for _, candidate := range days {
		replaced := false
		duplicate := false
		for i, kept := range out {
			if kept.Day != candidate.Day || kept.Month != candidate.Month {
				continue
			}
			if !SameObservance(kept.Name, candidate.Name) {
				continue
			}
			if domain.SourcePriority(candidate.Source) < domain.SourcePriority(kept.Source) {
				out[i] = candidate
				replaced = true
			}
			duplicate = true
			break
		}
		if !duplicate && !replaced {
			out = append(out, candidate)
		}
	}
	return out
}

// SameObservance reports whether two names refer to the same observance:
// equal after normalization, or one contains the other with enough
// significant length and a containment ratio above the threshold.
func SameObservance(a, b string) bool {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}

	shorter, longer := na, nb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) < minSignificantNameLen {
		return false
	}
	if !strings.Contains(longer, shorter) {
		return false
	}
	return float64(len(shorter))/float64(len(longer)) > containmentRatio
}

func normalizeName(name string) string {
	lower := strings.ToLower(name)
	lower = nonAlnum.ReplaceAllString(lower, "")
	return strings.Join(strings.Fields(lower), " ")
}
