package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	slackapi "github.com/slack-go/slack"

	"cakeday/internal/domain"
	"cakeday/internal/observance"
	"cakeday/internal/store"
	"cakeday/internal/threads"
)

// fixedSource serves a static observance list, ignoring refreshes.
type fixedSource struct {
	days []domain.SpecialDay
}

func (s fixedSource) Name() domain.ObservanceSourceName { return domain.SourceUN }

func (s fixedSource) Refresh(context.Context, bool) (int, time.Time, error) {
	return len(s.days), time.Time{}, nil
}

func (s fixedSource) Status() observance.SourceStatus { return observance.SourceStatus{} }

func (s fixedSource) Lookup(mmdd string) []domain.SpecialDay {
	var out []domain.SpecialDay
	for _, d := range s.days {
		if d.MMDD() == mmdd {
			out = append(out, d)
		}
	}
	return out
}

// faultyPostClient fails the first N root posts before recovering.
type faultyPostClient struct {
	*recordingClient
	failures int
}

func (c *faultyPostClient) PostMessage(ctx context.Context, channelID, text string, blocks []slackapi.Block) (string, error) {
	if c.failures > 0 {
		c.failures--
		return "", errors.New("slack unavailable")
	}
	return c.recordingClient.PostMessage(ctx, channelID, text, blocks)
}

func newSpecialDayService(t *testing.T, client *faultyPostClient, days ...domain.SpecialDay) (*SpecialDayService, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "storage"), filepath.Join(dir, "backups"), 10*time.Second, slog.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 15, 9, 5, 0, 0, time.UTC))
	aggregator := observance.NewAggregator(
		[]observance.Source{fixedSource{days: days}},
		domain.DefaultSpecialDaysConfig,
		slog.Default(),
	)
	messages := NewMessageService(&fakeCompleter{}, slog.Default())
	tracker, err := threads.NewTracker(st, clock, 72*time.Hour, slog.Default())
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	return NewSpecialDayService(client, aggregator, messages, st, tracker, slog.Default()), st
}

func TestFailedDigestPostLeavesLedgerUntouched(t *testing.T) {
	day := domain.SpecialDay{
		Day: 15, Month: 3,
		Name:     "World Testing Day",
		Category: domain.CategoryTech,
		Source:   domain.SourceUN,
	}
	client := &faultyPostClient{recordingClient: newRecordingClient(), failures: 1}
	svc, st := newSpecialDayService(t, client, day)
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

	if _, err := svc.AnnounceDaily(ctx, "C1", now); err == nil {
		t.Fatalf("expected the failed post to surface an error")
	}
	if announced, _ := st.IsSpecialDayAnnounced(store.DateKey(now), day); announced {
		t.Fatalf("failed post must not mark the observance announced")
	}

	// Slack recovered: the retry must still find the observance fresh.
	count, err := svc.AnnounceDaily(ctx, "C1", now)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one observance announced on retry, got %d", count)
	}
	if announced, _ := st.IsSpecialDayAnnounced(store.DateKey(now), day); !announced {
		t.Fatalf("successful post missing its ledger mark")
	}
	if client.postCount() != 1 {
		t.Fatalf("expected one digest post, got %d", client.postCount())
	}
}

func TestDailyDigestSkipsAnnouncedObservances(t *testing.T) {
	day := domain.SpecialDay{
		Day: 15, Month: 3,
		Name:     "World Testing Day",
		Category: domain.CategoryTech,
		Source:   domain.SourceUN,
	}
	client := &faultyPostClient{recordingClient: newRecordingClient()}
	svc, _ := newSpecialDayService(t, client, day)
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

	if count, err := svc.AnnounceDaily(ctx, "C1", now); err != nil || count != 1 {
		t.Fatalf("first run: count %d, err %v", count, err)
	}
	if count, err := svc.AnnounceDaily(ctx, "C1", now); err != nil || count != 0 {
		t.Fatalf("second run must announce nothing, got count %d, err %v", count, err)
	}
	if client.postCount() != 1 {
		t.Fatalf("observance digested %d times on one day", client.postCount())
	}
}
