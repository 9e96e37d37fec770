package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"

	"cakeday/internal/domain"
	"cakeday/internal/observance"
	"cakeday/internal/slack"
	"cakeday/internal/store"
)

// CanvasService maintains the channel canvas dashboard and the external
// birthday-file backup. Updates are debounced: bursts of data changes
// coalesce into one rebuild.
type CanvasService struct {
	client         slack.Client
	store          *store.Store
	aggregator     *observance.Aggregator
	usernameFn     func(ctx context.Context, userID string) string
	clock          clockwork.Clock
	debounce       time.Duration
	interval       time.Duration
	channelID      string
	externalBackup bool
	logger         *slog.Logger

	triggers chan string
}

func NewCanvasService(
	client slack.Client,
	st *store.Store,
	aggregator *observance.Aggregator,
	usernameFn func(ctx context.Context, userID string) string,
	clock clockwork.Clock,
	debounce, interval time.Duration,
	channelID string,
	externalBackup bool,
	logger *slog.Logger,
) *CanvasService {
	return &CanvasService{
		client:         client,
		store:          st,
		aggregator:     aggregator,
		usernameFn:     usernameFn,
		clock:          clock,
		debounce:       debounce,
		interval:       interval,
		channelID:      channelID,
		externalBackup: externalBackup,
		logger:         logger,
		triggers:       make(chan string, 1),
	}
}

// Trigger requests a dashboard rebuild. Safe from any goroutine; bursts
// collapse into one pending update.
func (s *CanvasService) Trigger(reason string) {
	select {
	case s.triggers <- reason:
	default:
	}
}

// Run services triggers until the context ends. Each trigger opens a
// debounce window; triggers landing inside it are absorbed. A periodic
// ticker keeps the dashboard fresh even without data changes.
func (s *CanvasService) Run(ctx context.Context) {
	var periodic <-chan time.Time
	if s.interval > 0 {
		ticker := s.clock.NewTicker(s.interval)
		defer ticker.Stop()
		periodic = ticker.Chan()
	}

	for {
		var reason string
		select {
		case <-ctx.Done():
			return
		case reason = <-s.triggers:
		case <-periodic:
			reason = "periodic refresh"
		}

		window := s.clock.After(s.debounce)
	drain:
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.triggers:
			case <-window:
				break drain
			}
		}

		if err := s.Update(ctx); err != nil {
			s.logger.ErrorContext(ctx, "canvas update failed",
				slog.String("reason", reason), slog.String("error", err.Error()))
		}
	}
}

// Update rebuilds the canvas and, when enabled, refreshes the external
// backup. A vanished canvas is recreated transparently.
func (s *CanvasService) Update(ctx context.Context) error {
	state, err := s.store.CanvasState()
	if err != nil {
		return fmt.Errorf("load canvas state: %w", err)
	}

	markdown, err := s.render(ctx)
	if err != nil {
		return err
	}

	if state.CanvasID == "" {
		id, err := s.client.CreateCanvas(ctx, "Celebration Dashboard", markdown)
		if err != nil {
			return fmt.Errorf("create canvas: %w", err)
		}
		state.CanvasID = id
	} else if err := s.client.EditCanvas(ctx, state.CanvasID, markdown); err != nil {
		if !slack.IsCanvasNotFound(err) {
			return fmt.Errorf("edit canvas: %w", err)
		}
		s.logger.WarnContext(ctx, "canvas vanished, recreating", slog.String("canvas_id", state.CanvasID))
		id, createErr := s.client.CreateCanvas(ctx, "Celebration Dashboard", markdown)
		if createErr != nil {
			return fmt.Errorf("recreate canvas: %w", createErr)
		}
		state.CanvasID = id
	}
	state.CanvasUpdatedAt = s.clock.Now()

	if s.externalBackup {
		if err := s.backup(ctx, &state); err != nil {
			s.logger.WarnContext(ctx, "external backup failed", slog.String("error", err.Error()))
		}
	}

	if err := s.store.SaveCanvasState(ctx, state); err != nil {
		return fmt.Errorf("save canvas state: %w", err)
	}
	s.logger.InfoContext(ctx, "canvas updated", slog.String("canvas_id", state.CanvasID))
	return nil
}

// backup uploads the birthday file into the backup thread when its
// (filename, mtime) key changed since the last upload.
func (s *CanvasService) backup(ctx context.Context, state *domain.CanvasState) error {
	path := s.store.BirthdaysPath()
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing to back up yet
		}
		return fmt.Errorf("stat birthday file: %w", err)
	}

	key := fmt.Sprintf("%s:%d", info.Name(), info.ModTime().Unix())
	if key == state.BackupCacheKey {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read birthday file: %w", err)
	}

	if state.BackupThreadTS == "" {
		ts, err := s.client.PostMessage(ctx, s.channelID,
			":floppy_disk: Birthday data backups live in this thread.", nil)
		if err != nil {
			return fmt.Errorf("open backup thread: %w", err)
		}
		state.BackupThreadTS = ts
	}

	fileID, err := s.client.UploadFile(ctx, data,
		fmt.Sprintf("birthdays_%s.json", s.clock.Now().Format("20060102_150405")),
		"Birthday data backup")
	if err != nil {
		return fmt.Errorf("upload backup: %w", err)
	}
	if fi, err := s.client.FileInfo(ctx, fileID); err == nil {
		state.BackupPermalink = fi.Permalink
		if _, err := s.client.PostThreaded(ctx, s.channelID, state.BackupThreadTS,
			fmt.Sprintf("Backup %s: <%s|download>", s.clock.Now().Format("2 Jan 15:04"), fi.Permalink), nil); err != nil {
			s.logger.DebugContext(ctx, "backup thread note failed", slog.String("error", err.Error()))
		}
	}

	state.BackupCacheKey = key
	s.logger.InfoContext(ctx, "birthday data backed up", slog.String("key", key))
	return nil
}

func (s *CanvasService) render(ctx context.Context) (string, error) {
	now := s.clock.Now()
	var sb strings.Builder
	sb.WriteString("# :birthday: Celebration Dashboard\n\n")
	fmt.Fprintf(&sb, "_Updated %s_\n\n", now.Format("Monday, 2 January 2006 15:04"))

	records, err := s.store.Birthdays()
	if err != nil {
		return "", fmt.Errorf("load birthdays: %w", err)
	}
	active := 0
	for _, rec := range records {
		if rec.Preferences.Active {
			active++
		}
	}
	fmt.Fprintf(&sb, "**%d** birthdays on file (%d active)\n\n", len(records), active)

	sb.WriteString("## Upcoming birthdays\n")
	upcoming := 0
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for userID, rec := range records {
		if !rec.Preferences.Active {
			continue
		}
		next := nextOccurrence(rec, today)
		if int(next.Sub(today).Hours()/24) > 60 {
			continue
		}
		fmt.Fprintf(&sb, "* %s — %s\n", s.usernameFn(ctx, userID), next.Format("2 January"))
		upcoming++
	}
	if upcoming == 0 {
		sb.WriteString("* None in the next 60 days\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## This week's observances\n")
	week := s.aggregator.Week(now)
	if len(week) == 0 {
		sb.WriteString("* Nothing on the calendar\n")
	}
	for _, day := range week {
		fmt.Fprintf(&sb, "* **%s** (%s) — %d/%d\n", day.Name, day.Source, day.Day, day.Month)
	}
	sb.WriteString("\n")

	if stats, err := s.store.SchedulerStats(); err == nil && !stats.LastHeartbeat.IsZero() {
		sb.WriteString("## Bot health\n")
		fmt.Fprintf(&sb, "* Last heartbeat: %s\n", humanize.Time(stats.LastHeartbeat))
		fmt.Fprintf(&sb, "* Runs: %d (%d failed)\n", stats.TotalExecutions, stats.FailedExecutions)
	}
	return sb.String(), nil
}
