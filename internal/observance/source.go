// Package observance aggregates special-day data from UN, UNESCO, and WHO
// list pages and the Calendarific holidays API, each behind a TTL'd file
// cache so the hot path never waits on an upstream.
package observance

import (
	"context"
	"time"

	"cakeday/internal/domain"
)

// Source is the uniform contract every upstream client implements.
type Source interface {
	Name() domain.ObservanceSourceName
	// Refresh consults the upstream and rewrites the cache file atomically.
	// Without force, a fresh cache short-circuits. Returns the observance
	// count and the cache timestamp.
	Refresh(ctx context.Context, force bool) (int, time.Time, error)
	Status() SourceStatus
	// Lookup serves from the cache only, stale or not.
	Lookup(mmdd string) []domain.SpecialDay
}

type SourceStatus struct {
	Name            domain.ObservanceSourceName `json:"name"`
	Enabled         bool                        `json:"enabled"`
	CacheFresh      bool                        `json:"cache_fresh"`
	ObservanceCount int                         `json:"observance_count"`
	LastUpdated     time.Time                   `json:"last_updated"`
}

// MMDDKey renders the month-day lookup key for a date.
func MMDDKey(t time.Time) string {
	return t.Format("01-02")
}
