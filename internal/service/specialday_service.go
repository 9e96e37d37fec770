package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	slackapi "github.com/slack-go/slack"

	"cakeday/internal/domain"
	"cakeday/internal/observance"
	"cakeday/internal/slack"
	"cakeday/internal/store"
	"cakeday/internal/threads"
)

var categoryEmoji = map[domain.ObservanceCategory]string{
	domain.CategoryGlobalHealth: ":stethoscope:",
	domain.CategoryTech:         ":computer:",
	domain.CategoryCulture:      ":performing_arts:",
	domain.CategoryCompany:      ":office:",
}

// SpecialDayService announces observances, daily or as a weekly digest,
// with per-observance ledger marking so restarts never repeat one.
type SpecialDayService struct {
	client     slack.Client
	aggregator *observance.Aggregator
	messages   *MessageService
	store      *store.Store
	tracker    *threads.Tracker
	logger     *slog.Logger
}

func NewSpecialDayService(
	client slack.Client,
	aggregator *observance.Aggregator,
	messages *MessageService,
	st *store.Store,
	tracker *threads.Tracker,
	logger *slog.Logger,
) *SpecialDayService {
	return &SpecialDayService{
		client:     client,
		aggregator: aggregator,
		messages:   messages,
		store:      st,
		tracker:    tracker,
		logger:     logger,
	}
}

// AnnounceDaily posts today's observances, skipping any already marked in
// the ledger. Returns the number announced.
func (s *SpecialDayService) AnnounceDaily(ctx context.Context, channelID string, now time.Time) (int, error) {
	days := s.aggregator.ForDate(now)
	if len(days) == 0 {
		return 0, nil
	}

	dateKey := store.DateKey(now)
	var fresh []domain.SpecialDay
	for _, day := range days {
		announced, err := s.store.IsSpecialDayAnnounced(dateKey, day)
		if err != nil {
			return 0, fmt.Errorf("read observance ledger: %w", err)
		}
		if !announced {
			fresh = append(fresh, day)
		}
	}
	if len(fresh) == 0 {
		s.logger.DebugContext(ctx, "all observances already announced", slog.String("date", dateKey))
		return 0, nil
	}

	message, _ := s.messages.SpecialDayMessage(ctx, fresh)
	blocks := s.digestBlocks("Today's Observances", fresh, message)
	root, continuations := slack.SplitBlocks(blocks)

	ts, err := s.client.PostMessage(ctx, channelID, message, root)
	if err != nil {
		return 0, domain.Wrap(domain.KindUpstreamTransient, "post observance digest", err)
	}
	for _, chunk := range continuations {
		if _, err := s.client.PostThreaded(ctx, channelID, ts, "", chunk); err != nil {
			s.logger.WarnContext(ctx, "digest continuation failed", slog.String("error", err.Error()))
		}
	}

	// Marked only once the digest exists, so a failed post keeps the
	// observance eligible for the next run. The check-and-set still guards
	// concurrent sweeps.
	for _, day := range fresh {
		if _, err := s.store.MarkSpecialDayAnnounced(ctx, dateKey, day); err != nil {
			s.logger.WarnContext(ctx, "observance ledger mark failed",
				slog.String("observance", day.Name), slog.String("error", err.Error()))
		}
	}

	if err := s.tracker.Track(ctx, domain.TrackedThread{
		ChannelID:   channelID,
		ThreadTS:    ts,
		Type:        domain.ThreadSpecialDay,
		Personality: "chronicler",
		SpecialDays: fresh,
	}); err != nil {
		s.logger.WarnContext(ctx, "digest thread tracking failed", slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "observance digest posted",
		slog.Int("observances", len(fresh)), slog.String("date", dateKey))
	return len(fresh), nil
}

// AnnounceWeekly posts a look-ahead digest covering the next seven days.
// The weekly digest is informational only; each observance still gets its
// ledger mark on its actual day.
func (s *SpecialDayService) AnnounceWeekly(ctx context.Context, channelID string, now time.Time) (int, error) {
	days := s.aggregator.ForRange(now, 7)
	if len(days) == 0 {
		return 0, nil
	}

	var sb []slackapi.Block
	sb = append(sb, slack.HeaderBlock("This Week's Observances"))
	for _, day := range days {
		emoji := categoryEmoji[day.Category]
		line := fmt.Sprintf("%s *%s* — %s", emoji, day.Name, observanceDate(day, now))
		if day.URL != "" {
			line += fmt.Sprintf(" (<%s|more>)", day.URL)
		}
		sb = append(sb, slack.SectionBlock(line))
	}
	sb = append(sb, slack.ContextBlock(":closed_book: Weekly calendar digest"))

	root, continuations := slack.SplitBlocks(sb)
	ts, err := s.client.PostMessage(ctx, channelID, "This week's observances", root)
	if err != nil {
		return 0, domain.Wrap(domain.KindUpstreamTransient, "post weekly digest", err)
	}
	for _, chunk := range continuations {
		if _, err := s.client.PostThreaded(ctx, channelID, ts, "", chunk); err != nil {
			s.logger.WarnContext(ctx, "weekly continuation failed", slog.String("error", err.Error()))
		}
	}
	return len(days), nil
}

func (s *SpecialDayService) digestBlocks(title string, days []domain.SpecialDay, message string) []slackapi.Block {
	var blocks []slackapi.Block
	blocks = append(blocks, slack.HeaderBlock(title))
	blocks = append(blocks, slack.SectionBlock(message))

	var sources []string
	seen := map[domain.ObservanceSourceName]bool{}
	for _, day := range days {
		if !seen[day.Source] {
			seen[day.Source] = true
			sources = append(sources, string(day.Source))
		}
	}
	if len(sources) > 0 {
		blocks = append(blocks, slack.ContextBlock(":closed_book: Sources: "+joinNatural(sources)))
	}
	return blocks
}

// observanceDate renders the weekday the observance falls on within the
// digest window.
func observanceDate(day domain.SpecialDay, from time.Time) string {
	for i := 0; i < 7; i++ {
		d := from.AddDate(0, 0, i)
		if d.Day() == day.Day && int(d.Month()) == day.Month {
			return d.Format("Monday, 2 January")
		}
	}
	return fmt.Sprintf("%d/%d", day.Day, day.Month)
}
