package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"cakeday/internal/domain"
	"cakeday/internal/slack"
	"cakeday/internal/store"
	"cakeday/internal/threads"
)

func TestMatchPool(t *testing.T) {
	cases := []struct {
		text string
		want string // one expected member of the pool
	}{
		{"Happy birthday!!", "tada"},
		{"that cake looks amazing", "cake"},
		{"love this team", "heart"},
		{"cheers everyone", "clinking_glasses"},
		{"what a fine morning", "sparkles"},
	}
	for _, c := range cases {
		pool := matchPool(c.text)
		found := false
		for _, emoji := range pool {
			if emoji == c.want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("matchPool(%q) = %v, expected pool containing %q", c.text, pool, c.want)
		}
	}
}

func TestIsThankYou(t *testing.T) {
	if !isThankYou("Thanks so much, bot!") {
		t.Fatalf("thank-you not detected")
	}
	if isThankYou("happy birthday!") {
		t.Fatalf("false thank-you detection")
	}
}

func TestEngagementRespectsReactionCap(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "storage"), filepath.Join(dir, "backups"), 10*time.Second, slog.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	clock := clockwork.NewFakeClock()
	tracker, err := threads.NewTracker(st, clock, 72*time.Hour, slog.Default())
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	ctx := context.Background()

	if err := tracker.Track(ctx, domain.TrackedThread{ChannelID: "C1", ThreadTS: "1.0", Type: domain.ThreadBirthday}); err != nil {
		t.Fatalf("track: %v", err)
	}

	svc := NewEngagementService(slack.NewNoopClient(slog.Default()), tracker, 2, false,
		rand.New(rand.NewSource(1)), slog.Default())

	for i := 0; i < 4; i++ {
		svc.HandleThreadReply(ctx, "C1", "1.0", "1.1", "U2", "happy birthday!")
	}

	thread, ok := tracker.Get("C1", "1.0")
	if !ok {
		t.Fatalf("thread lost")
	}
	if thread.ReactionsCount != 2 {
		t.Fatalf("cap not enforced: %d reactions", thread.ReactionsCount)
	}
}

type failingReactionClient struct {
	*slack.NoopClient
	calls int
}

func (c *failingReactionClient) AddReaction(ctx context.Context, channelID, ts, name string) error {
	c.calls++
	return errors.New("ratelimited")
}

func TestBirthdayPersonReplyIgnored(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "storage"), filepath.Join(dir, "backups"), 10*time.Second, slog.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	clock := clockwork.NewFakeClock()
	tracker, err := threads.NewTracker(st, clock, 72*time.Hour, slog.Default())
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	ctx := context.Background()

	if err := tracker.Track(ctx, domain.TrackedThread{
		ChannelID: "C1", ThreadTS: "1.0", Type: domain.ThreadBirthday,
		BirthdayPeople: []string{"U1"},
	}); err != nil {
		t.Fatalf("track: %v", err)
	}

	svc := NewEngagementService(slack.NewNoopClient(slog.Default()), tracker, 20, false,
		rand.New(rand.NewSource(1)), slog.Default())

	svc.HandleThreadReply(ctx, "C1", "1.0", "1.1", "U1", "thanks everyone!")
	thread, _ := tracker.Get("C1", "1.0")
	if thread.ReactionsCount != 0 {
		t.Fatalf("reacted to the celebrated person's own reply: %d", thread.ReactionsCount)
	}

	svc.HandleThreadReply(ctx, "C1", "1.0", "1.2", "U2", "happy birthday!")
	thread, _ = tracker.Get("C1", "1.0")
	if thread.ReactionsCount != 1 {
		t.Fatalf("other users' replies should still get a reaction: %d", thread.ReactionsCount)
	}
}

func TestFailedReactionDoesNotBurnCap(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "storage"), filepath.Join(dir, "backups"), 10*time.Second, slog.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	clock := clockwork.NewFakeClock()
	tracker, err := threads.NewTracker(st, clock, 72*time.Hour, slog.Default())
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	ctx := context.Background()

	if err := tracker.Track(ctx, domain.TrackedThread{ChannelID: "C1", ThreadTS: "1.0", Type: domain.ThreadBirthday}); err != nil {
		t.Fatalf("track: %v", err)
	}

	client := &failingReactionClient{NoopClient: slack.NewNoopClient(slog.Default())}
	svc := NewEngagementService(client, tracker, 2, false, rand.New(rand.NewSource(1)), slog.Default())

	for i := 0; i < 3; i++ {
		svc.HandleThreadReply(ctx, "C1", "1.0", "1.1", "U2", "happy birthday!")
	}
	if client.calls != 3 {
		t.Fatalf("failed adds should not stop retries on later replies: %d calls", client.calls)
	}
	thread, _ := tracker.Get("C1", "1.0")
	if thread.ReactionsCount != 0 {
		t.Fatalf("failed reactions burned cap budget: %d", thread.ReactionsCount)
	}
}

func TestEngagementIgnoresUntrackedThread(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "storage"), filepath.Join(dir, "backups"), 10*time.Second, slog.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	clock := clockwork.NewFakeClock()
	tracker, err := threads.NewTracker(st, clock, 72*time.Hour, slog.Default())
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}

	svc := NewEngagementService(slack.NewNoopClient(slog.Default()), tracker, 20, false,
		rand.New(rand.NewSource(1)), slog.Default())
	// Must simply be a no-op.
	svc.HandleThreadReply(context.Background(), "C9", "9.9", "9.10", "U2", "hello")
}
