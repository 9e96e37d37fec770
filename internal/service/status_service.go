package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"

	"cakeday/internal/domain"
	"cakeday/internal/observance"
	"cakeday/internal/profile"
	"cakeday/internal/store"
	"cakeday/internal/threads"
)

// SystemStatus is the full machine-readable health report.
type SystemStatus struct {
	App              string                    `json:"app"`
	Environment      string                    `json:"environment"`
	Healthy          bool                      `json:"healthy"`
	UptimeSeconds    int64                     `json:"uptime_seconds"`
	Scheduler        SchedulerStatus           `json:"scheduler"`
	Birthdays        BirthdayStatus            `json:"birthdays"`
	TrackedThreads   int                       `json:"tracked_threads"`
	ProfileCacheSize int                       `json:"profile_cache_size"`
	Sources          []observance.SourceStatus `json:"observance_sources"`
	DataDir          string                    `json:"data_dir"`
	DataFiles        []store.DataFileInfo      `json:"data_files"`
	SpecialDays      domain.SpecialDaysConfig  `json:"special_days"`
	Canvas           domain.CanvasState        `json:"canvas"`
	GeneratedAt      time.Time                 `json:"generated_at"`
}

type SchedulerStatus struct {
	Running          bool      `json:"running"`
	HeartbeatStale   bool      `json:"heartbeat_stale"`
	LastHeartbeat    time.Time `json:"last_heartbeat"`
	TotalExecutions  int       `json:"total_executions"`
	FailedExecutions int       `json:"failed_executions"`
	LastError        string    `json:"last_error,omitempty"`
}

type BirthdayStatus struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// StatusService assembles health reports for the ops surface and for chat
// summaries.
type StatusService struct {
	appName        string
	environment    string
	store          *store.Store
	tracker        *threads.Tracker
	resolver       *profile.Resolver
	aggregator     *observance.Aggregator
	clock          clockwork.Clock
	heartbeatStale time.Duration
	startedAt      time.Time
	logger         *slog.Logger
}

func NewStatusService(
	appName, environment string,
	st *store.Store,
	tracker *threads.Tracker,
	resolver *profile.Resolver,
	aggregator *observance.Aggregator,
	clock clockwork.Clock,
	heartbeatStale time.Duration,
	logger *slog.Logger,
) *StatusService {
	return &StatusService{
		appName:        appName,
		environment:    environment,
		store:          st,
		tracker:        tracker,
		resolver:       resolver,
		aggregator:     aggregator,
		clock:          clock,
		heartbeatStale: heartbeatStale,
		startedAt:      clock.Now(),
		logger:         logger,
	}
}

// Report assembles the full status. Partial failures degrade the report
// rather than failing it.
func (s *StatusService) Report(ctx context.Context) SystemStatus {
	now := s.clock.Now()
	status := SystemStatus{
		App:              s.appName,
		Environment:      s.environment,
		UptimeSeconds:    int64(now.Sub(s.startedAt).Seconds()),
		TrackedThreads:   s.tracker.Len(),
		ProfileCacheSize: s.resolver.CacheLen(),
		Sources:          s.aggregator.Statuses(),
		DataDir:          s.store.DataDir(),
		GeneratedAt:      now,
	}

	if files, err := s.store.DataFiles(); err == nil {
		status.DataFiles = files
	} else {
		s.logger.WarnContext(ctx, "data file listing unavailable", slog.String("error", err.Error()))
	}
	if sdCfg, err := s.store.SpecialDaysConfig(); err == nil {
		status.SpecialDays = sdCfg
	} else {
		status.SpecialDays = domain.DefaultSpecialDaysConfig()
	}

	if stats, err := s.store.SchedulerStats(); err == nil {
		stale := stats.LastHeartbeat.IsZero() || now.Sub(stats.LastHeartbeat) > s.heartbeatStale
		status.Scheduler = SchedulerStatus{
			Running:          !stats.StartedAt.IsZero(),
			HeartbeatStale:   stale,
			LastHeartbeat:    stats.LastHeartbeat,
			TotalExecutions:  stats.TotalExecutions,
			FailedExecutions: stats.FailedExecutions,
			LastError:        stats.LastError,
		}
	} else {
		s.logger.WarnContext(ctx, "scheduler stats unavailable", slog.String("error", err.Error()))
		status.Scheduler = SchedulerStatus{HeartbeatStale: true}
	}

	if records, err := s.store.Birthdays(); err == nil {
		status.Birthdays.Total = len(records)
		for _, rec := range records {
			if rec.Preferences.Active {
				status.Birthdays.Active++
			}
		}
	} else {
		s.logger.WarnContext(ctx, "birthday count unavailable", slog.String("error", err.Error()))
	}

	if state, err := s.store.CanvasState(); err == nil {
		status.Canvas = state
	}

	status.Healthy = !status.Scheduler.HeartbeatStale
	return status
}

// Summary renders the compact human-readable form used in chat and on the
// ops summary endpoint.
func (s *StatusService) Summary(ctx context.Context) string {
	status := s.Report(ctx)

	health := ":large_green_circle: healthy"
	if !status.Healthy {
		health = ":red_circle: unhealthy (scheduler heartbeat stale)"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s* (%s) — %s\n", status.App, status.Environment, health)
	fmt.Fprintf(&sb, "Up %s · %d birthdays (%d active) · %d live threads\n",
		humanize.RelTime(s.startedAt, status.GeneratedAt, "", ""),
		status.Birthdays.Total, status.Birthdays.Active, status.TrackedThreads)
	if !status.Scheduler.LastHeartbeat.IsZero() {
		fmt.Fprintf(&sb, "Scheduler: %d runs, %d failed, heartbeat %s\n",
			status.Scheduler.TotalExecutions, status.Scheduler.FailedExecutions,
			humanize.Time(status.Scheduler.LastHeartbeat))
	}

	fresh, total := 0, len(status.Sources)
	for _, src := range status.Sources {
		if src.CacheFresh {
			fresh++
		}
	}
	fmt.Fprintf(&sb, "Observance sources: %d/%d caches fresh\n", fresh, total)

	var dataBytes int64
	for _, f := range status.DataFiles {
		dataBytes += f.Bytes
	}
	fmt.Fprintf(&sb, "Data: %d files (%s)", len(status.DataFiles), humanize.Bytes(uint64(dataBytes)))
	return sb.String()
}
