package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-limiter/memorystore"

	"cakeday/internal/domain"
	"cakeday/internal/observance"
	"cakeday/internal/store"
)

func newMentionService(t *testing.T, maxRequests uint64) (*MentionService, *fakeCompleter, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "storage"), filepath.Join(dir, "backups"), 10*time.Second, slog.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	limits, err := memorystore.New(&memorystore.Config{Tokens: maxRequests, Interval: time.Minute})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	completer := &fakeCompleter{}
	agg := observance.NewAggregator(nil, domain.DefaultSpecialDaysConfig, slog.Default())
	svc := NewMentionService(completer, st, agg, limits,
		func(_ context.Context, userID string) string { return "user-" + userID },
		slog.Default())
	return svc, completer, st
}

func TestMentionRateLimitSixthRequestDeclined(t *testing.T) {
	svc, _, _ := newMentionService(t, 5)
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		reply := svc.Answer(ctx, "U1", "help", now)
		if !strings.Contains(reply, "Here's what I do") {
			t.Fatalf("request %d unexpectedly limited: %q", i+1, reply)
		}
	}

	sixth := svc.Answer(ctx, "U1", "help", now)
	if !strings.Contains(sixth, "Easy there") {
		t.Fatalf("sixth request should be declined politely, got %q", sixth)
	}

	// A different user has their own bucket.
	other := svc.Answer(ctx, "U2", "help", now)
	if strings.Contains(other, "Easy there") {
		t.Fatalf("rate limit leaked across users: %q", other)
	}
}

func TestMentionClassification(t *testing.T) {
	cases := []struct {
		text string
		want mentionIntent
	}{
		{"help me out", intentHelp},
		{"what can you do?", intentHelp},
		{"thanks a lot!", intentThanks},
		{"who has a birthday coming up?", intentUpcoming},
		{"any special day today?", intentToday},
		{"what's your favorite cake?", intentQuestion},
	}
	for _, c := range cases {
		if got := classifyMention(c.text); got != c.want {
			t.Errorf("classifyMention(%q) = %s, want %s", c.text, got, c.want)
		}
	}
}

func TestUpcomingAnswerListsBirthdaysWithoutYears(t *testing.T) {
	svc, _, st := newMentionService(t, 100)
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	year := 1990
	rec := testRecord("U1", 20, 3)
	rec.Year = &year
	if err := st.SaveBirthday(ctx, rec, "test"); err != nil {
		t.Fatalf("save birthday: %v", err)
	}

	reply := svc.Answer(ctx, "U9", "who has a birthday coming up?", now)
	if !strings.Contains(reply, "user-U1") {
		t.Fatalf("upcoming answer missing the person: %q", reply)
	}
	if strings.Contains(reply, "1990") {
		t.Fatalf("upcoming answer leaked a birth year: %q", reply)
	}
}

func TestFeb29UpcomingInNonLeapYear(t *testing.T) {
	svc, _, st := newMentionService(t, 100)
	ctx := context.Background()

	if err := st.SaveBirthday(ctx, testRecord("U1", 29, 2), "test"); err != nil {
		t.Fatalf("save birthday: %v", err)
	}

	// 2026 is not a leap year; the birthday observes on 28 February.
	now := time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)
	reply := svc.Answer(ctx, "U9", "who has a birthday coming up?", now)
	if !strings.Contains(reply, "28 February") {
		t.Fatalf("expected Feb-29 birthday observed on 28 February, got %q", reply)
	}
}

func TestQuestionFallbackWhenModelDown(t *testing.T) {
	svc, completer, _ := newMentionService(t, 100)
	completer.fail = true

	reply := svc.Answer(context.Background(), "U1", "tell me something fun", time.Now())
	if !strings.Contains(reply, "help") {
		t.Fatalf("expected graceful fallback pointing at help, got %q", reply)
	}
}
