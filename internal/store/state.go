package store

import (
	"context"
	"time"

	"cakeday/internal/domain"
)

const (
	statsFile       = "scheduler_stats.json"
	personalityFile = "personality.json"
	permissionsFile = "permissions.json"
	specialDaysFile = "special_days_config.json"
	canvasFile      = "canvas_state.json"
	threadsFile     = "tracked_threads.json"
)

// SchedulerStats returns the persisted scheduler record, zero when absent.
func (s *Store) SchedulerStats() (domain.SchedulerStats, error) {
	stats := domain.SchedulerStats{}
	if err := s.ReadJSON(statsFile, &stats); err != nil && err != ErrNotFound {
		return domain.SchedulerStats{}, err
	}
	return stats, nil
}

func (s *Store) SaveSchedulerStats(ctx context.Context, stats domain.SchedulerStats) error {
	return s.withLock(ctx, statsFile, func() error {
		return s.WriteJSON(statsFile, stats)
	})
}

// TouchHeartbeat updates only the persisted heartbeat, leaving the counters
// to the periodic full flush. Runs every scheduler tick, so staleness checks
// read fresh data even between flushes.
func (s *Store) TouchHeartbeat(ctx context.Context, now time.Time) error {
	return s.withLock(ctx, statsFile, func() error {
		stats := domain.SchedulerStats{}
		if err := s.ReadJSON(statsFile, &stats); err != nil && err != ErrNotFound {
			return err
		}
		stats.LastHeartbeat = now
		return s.WriteJSON(statsFile, stats)
	})
}

// PersonalityState returns the persisted personality selection state.
func (s *Store) PersonalityState() (domain.PersonalityState, error) {
	state := domain.PersonalityState{}
	if err := s.ReadJSON(personalityFile, &state); err != nil && err != ErrNotFound {
		return domain.PersonalityState{}, err
	}
	return state, nil
}

func (s *Store) SavePersonalityState(ctx context.Context, state domain.PersonalityState) error {
	return s.withLock(ctx, personalityFile, func() error {
		return s.WriteJSON(personalityFile, state)
	})
}

// Permissions maps user ID to the last platform admin flag seen for them.
func (s *Store) Permissions() (map[string]bool, error) {
	perms := map[string]bool{}
	if err := s.ReadJSON(permissionsFile, &perms); err != nil && err != ErrNotFound {
		return nil, err
	}
	return perms, nil
}

func (s *Store) SavePermissions(ctx context.Context, perms map[string]bool) error {
	return s.withLock(ctx, permissionsFile, func() error {
		return s.WriteJSON(permissionsFile, perms)
	})
}

// SpecialDaysConfig returns the digest configuration with defaults applied.
func (s *Store) SpecialDaysConfig() (domain.SpecialDaysConfig, error) {
	cfg := domain.SpecialDaysConfig{}
	err := s.ReadJSON(specialDaysFile, &cfg)
	if err == ErrNotFound {
		return domain.DefaultSpecialDaysConfig(), nil
	}
	if err != nil {
		return domain.SpecialDaysConfig{}, err
	}
	if cfg.CategoryEnabled == nil {
		cfg.CategoryEnabled = domain.DefaultSpecialDaysConfig().CategoryEnabled
	}
	return cfg, nil
}

func (s *Store) SaveSpecialDaysConfig(ctx context.Context, cfg domain.SpecialDaysConfig) error {
	return s.withLock(ctx, specialDaysFile, func() error {
		return s.WriteJSON(specialDaysFile, cfg)
	})
}

// CanvasState returns the dashboard bookkeeping record.
func (s *Store) CanvasState() (domain.CanvasState, error) {
	state := domain.CanvasState{}
	if err := s.ReadJSON(canvasFile, &state); err != nil && err != ErrNotFound {
		return domain.CanvasState{}, err
	}
	return state, nil
}

func (s *Store) SaveCanvasState(ctx context.Context, state domain.CanvasState) error {
	return s.withLock(ctx, canvasFile, func() error {
		return s.WriteJSON(canvasFile, state)
	})
}

// TrackedThreads returns every persisted thread keyed by channel:ts.
func (s *Store) TrackedThreads() (map[string]domain.TrackedThread, error) {
	threads := map[string]domain.TrackedThread{}
	if err := s.ReadJSON(threadsFile, &threads); err != nil && err != ErrNotFound {
		return nil, err
	}
	return threads, nil
}

func (s *Store) SaveTrackedThreads(ctx context.Context, threads map[string]domain.TrackedThread) error {
	return s.withLock(ctx, threadsFile, func() error {
		return s.WriteJSON(threadsFile, threads)
	})
}
