// Package scheduler drives the daily rhythm: birthday checks, observance
// digests, cache refreshes, and housekeeping, all off one ticker so the
// whole surface is testable with a fake clock.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"cakeday/internal/config"
	"cakeday/internal/dates"
	"cakeday/internal/domain"
	"cakeday/internal/observance"
	"cakeday/internal/profile"
	"cakeday/internal/service"
	"cakeday/internal/store"
)

// Scheduler owns the periodic work. It keeps its stats in memory and
// flushes them every few ticks; the heartbeat lets the ops surface detect a
// wedged loop.
type Scheduler struct {
	cfg          config.SchedulerConfig
	channelID    string
	store        *store.Store
	resolver     *profile.Resolver
	celebrations *service.CelebrationService
	specialDays  *service.SpecialDayService
	facts        *service.FactsService
	aggregator   *observance.Aggregator
	clock        clockwork.Clock
	logger       *slog.Logger

	stats       domain.SchedulerStats
	ticks       int
	lastDaily   string // date key of the last daily birthday run
	lastSpecial string
	lastRefresh string
	lastSweepYr int
}

func New(
	cfg config.SchedulerConfig,
	channelID string,
	st *store.Store,
	resolver *profile.Resolver,
	celebrations *service.CelebrationService,
	specialDays *service.SpecialDayService,
	facts *service.FactsService,
	aggregator *observance.Aggregator,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		channelID:    channelID,
		store:        st,
		resolver:     resolver,
		celebrations: celebrations,
		specialDays:  specialDays,
		facts:        facts,
		aggregator:   aggregator,
		clock:        clock,
		logger:       logger,
	}
}

// Run ticks until the context ends. Safe to restart: the ledger makes every
// celebration idempotent, so a crashed run resumes without repeats.
func (s *Scheduler) Run(ctx context.Context) error {
	loaded, err := s.store.SchedulerStats()
	if err != nil {
		return err
	}
	s.stats = loaded
	s.stats.StartedAt = s.clock.Now()
	s.stats.LastHeartbeat = s.clock.Now()
	if err := s.store.SaveSchedulerStats(ctx, s.stats); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "scheduler started",
		slog.Bool("timezone_aware", s.cfg.TimezoneAware),
		slog.String("daily_check_time", s.cfg.DailyCheckTime),
		slog.Duration("interval", s.cfg.CheckInterval),
	)

	// Warm the observance caches before the first tick so an early check
	// does not announce from empty data.
	s.refreshSources(ctx, false)

	ticker := s.clock.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.flushStats(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.Chan():
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduler pass. Exported for tests and the manual trigger.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now()
	s.stats.LastHeartbeat = now
	if err := s.store.TouchHeartbeat(ctx, now); err != nil {
		s.logger.WarnContext(ctx, "heartbeat write failed", slog.String("error", err.Error()))
	}
	s.ticks++
	if s.cfg.StatsFlushEvery > 0 && s.ticks%s.cfg.StatsFlushEvery == 0 {
		s.flushStats(ctx)
	}

	today := store.DateKey(now)
	if timeReached(now, s.cfg.CacheRefreshTime) && s.lastRefresh != today {
		s.lastRefresh = today
		s.housekeeping(ctx, now)
	}

	if s.cfg.TimezoneAware {
		s.runTimezoneCheck(ctx, now)
	} else if timeReached(now, s.cfg.DailyCheckTime) && s.lastDaily != today {
		s.lastDaily = today
		s.runDailyCheck(ctx, now)
	}

	if timeReached(now, s.cfg.DailyCheckTime) && s.lastSpecial != today {
		s.lastSpecial = today
		s.runSpecialDays(ctx, now)
	}
}

// runDailyCheck is the fleet-wide mode: everyone is celebrated together at
// the configured server-local time.
func (s *Scheduler) runDailyCheck(ctx context.Context, now time.Time) {
	records, err := s.store.Birthdays()
	if err != nil {
		s.recordFailure(ctx, "load birthdays: "+err.Error())
		return
	}

	dateKey := store.DateKey(now)
	var people []domain.BirthdayPerson
	for userID, rec := range records {
		if !rec.Preferences.Active || !dates.DueToday(rec, now) {
			continue
		}
		celebrated, err := s.store.IsCelebrated(dateKey, userID)
		if err != nil {
			s.logger.WarnContext(ctx, "ledger read failed", slog.String("user_id", userID), slog.String("error", err.Error()))
			continue
		}
		if celebrated {
			continue
		}
		people = append(people, domain.BirthdayPerson{Record: rec})
	}
	if len(people) == 0 {
		s.recordSuccess(ctx, now)
		return
	}

	result, err := s.celebrations.Celebrate(ctx, domain.CelebrationRequest{
		RunID:        uuid.NewString(),
		ChannelID:    s.channelID,
		People:       people,
		Mode:         domain.ModeProduction,
		IncludeImage: s.cfg.ImageGeneration,
	}, dateKey)
	if err != nil {
		s.recordFailure(ctx, err.Error())
		return
	}
	s.logger.InfoContext(ctx, "daily birthday check complete",
		slog.String("stage", string(result.Stage)),
		slog.Int("celebrated", len(result.Celebrated)),
		slog.Int("dropped", len(result.Dropped)),
	)
	s.recordSuccess(ctx, now)
}

// runTimezoneCheck celebrates each person when their own morning arrives.
// The ledger bucket key (user, local date) makes each local day fire once.
func (s *Scheduler) runTimezoneCheck(ctx context.Context, now time.Time) {
	records, err := s.store.Birthdays()
	if err != nil {
		s.recordFailure(ctx, "load birthdays: "+err.Error())
		return
	}

	// Group due people by their local date so two colleagues in the same
	// timezone still share one announcement.
	groups := map[string][]domain.BirthdayPerson{}
	for userID, rec := range records {
		if !rec.Preferences.Active {
			continue
		}
		prof, err := s.resolver.Profile(ctx, userID)
		if err != nil {
			s.logger.WarnContext(ctx, "profile fetch failed in tz check",
				slog.String("user_id", userID), slog.String("error", err.Error()))
			continue
		}
		due, localDate := dates.DueInTimezone(rec, prof.TZOffsetSecs, now, s.cfg.TimezoneCelebrationHr)
		if !due {
			continue
		}
		celebrated, err := s.store.IsCelebrated(localDate, userID)
		if err != nil || celebrated {
			continue
		}
		newly, err := s.store.MarkCelebratedTZ(ctx, localDate, userID+":"+localDate)
		if err != nil {
			s.logger.WarnContext(ctx, "tz bucket mark failed", slog.String("user_id", userID), slog.String("error", err.Error()))
			continue
		}
		if !newly {
			continue
		}
		groups[localDate] = append(groups[localDate], domain.BirthdayPerson{Record: rec, Profile: prof})
	}

	for localDate, people := range groups {
		result, err := s.celebrations.Celebrate(ctx, domain.CelebrationRequest{
			RunID:        uuid.NewString(),
			ChannelID:    s.channelID,
			People:       people,
			Mode:         domain.ModeProduction,
			IncludeImage: s.cfg.ImageGeneration,
		}, localDate)
		if err != nil {
			s.recordFailure(ctx, err.Error())
			continue
		}
		s.logger.InfoContext(ctx, "timezone celebration complete",
			slog.String("local_date", localDate),
			slog.String("stage", string(result.Stage)),
			slog.Int("celebrated", len(result.Celebrated)),
		)
		s.recordSuccess(ctx, now)
	}
}

func (s *Scheduler) runSpecialDays(ctx context.Context, now time.Time) {
	cfg, err := s.store.SpecialDaysConfig()
	if err != nil {
		s.logger.WarnContext(ctx, "special days config unavailable", slog.String("error", err.Error()))
		return
	}

	switch cfg.Mode {
	case "weekly":
		if now.Weekday() != cfg.WeeklyDay {
			return
		}
		if _, err := s.specialDays.AnnounceWeekly(ctx, s.channelID, now); err != nil {
			s.logger.ErrorContext(ctx, "weekly digest failed", slog.String("error", err.Error()))
		}
	default:
		if _, err := s.specialDays.AnnounceDaily(ctx, s.channelID, now); err != nil {
			s.logger.ErrorContext(ctx, "daily observance announcement failed", slog.String("error", err.Error()))
		}
	}
}

// housekeeping runs the early-morning maintenance: source refresh, fact
// cache sweep, and ledger pruning.
func (s *Scheduler) housekeeping(ctx context.Context, now time.Time) {
	s.refreshSources(ctx, false)

	if now.Year() != s.lastSweepYr {
		s.lastSweepYr = now.Year()
		if removed, err := s.facts.SweepPriorYears(now.Year()); err != nil {
			s.logger.WarnContext(ctx, "facts sweep failed", slog.String("error", err.Error()))
		} else if removed > 0 {
			s.logger.InfoContext(ctx, "prior-year fact caches removed", slog.Int("removed", removed))
		}
	}

	if err := s.store.PruneLedger(ctx, now, s.cfg.LedgerRetention); err != nil {
		s.logger.WarnContext(ctx, "ledger prune failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) refreshSources(ctx context.Context, force bool) {
	for _, src := range s.aggregator.Sources() {
		count, updated, err := src.Refresh(ctx, force)
		if err != nil {
			s.logger.WarnContext(ctx, "source refresh failed",
				slog.String("source", string(src.Name())), slog.String("error", err.Error()))
			continue
		}
		s.logger.DebugContext(ctx, "source refreshed",
			slog.String("source", string(src.Name())),
			slog.Int("observances", count),
			slog.Time("cache_updated", updated),
		)
	}
}

func (s *Scheduler) recordSuccess(ctx context.Context, now time.Time) {
	s.stats.TotalExecutions++
	s.stats.LastSuccessAt = now
	s.stats.LastError = ""
	s.flushStats(ctx)
}

func (s *Scheduler) recordFailure(ctx context.Context, msg string) {
	s.stats.TotalExecutions++
	s.stats.FailedExecutions++
	s.stats.LastError = msg
	s.logger.ErrorContext(ctx, "scheduler execution failed", slog.String("error", msg))
	s.flushStats(ctx)
}

func (s *Scheduler) flushStats(ctx context.Context) {
	if err := s.store.SaveSchedulerStats(ctx, s.stats); err != nil {
		s.logger.WarnContext(ctx, "stats flush failed", slog.String("error", err.Error()))
	}
}

// timeReached reports whether the server-local clock has passed HH:MM.
func timeReached(now time.Time, hhmm string) bool {
	target, err := time.Parse("15:04", hhmm)
	if err != nil {
		return true
	}
	if now.Hour() != target.Hour() {
		return now.Hour() > target.Hour()
	}
	return now.Minute() >= target.Minute()
}
