package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"cakeday/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "storage"), filepath.Join(dir, "backups"), 10*time.Second, slog.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestBirthdayRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	year := 1990
	rec := domain.BirthdayRecord{
		UserID:      "U1",
		Day:         15,
		Month:       3,
		Year:        &year,
		Preferences: domain.DefaultPreferences(),
	}
	if err := s.SaveBirthday(ctx, rec, "test"); err != nil {
		t.Fatalf("save birthday: %v", err)
	}

	got, err := s.Birthday("U1")
	if err != nil {
		t.Fatalf("read birthday: %v", err)
	}
	if got.Day != 15 || got.Month != 3 || got.Year == nil || *got.Year != 1990 {
		t.Fatalf("unexpected record after reload: %#v", got)
	}
	if !reflect.DeepEqual(got.Preferences, rec.Preferences) {
		t.Fatalf("preferences changed across round trip: %#v", got.Preferences)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set")
	}
}

func TestSaveBirthdayPreservesCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := domain.BirthdayRecord{UserID: "U1", Day: 1, Month: 1, Preferences: domain.DefaultPreferences()}
	if err := s.SaveBirthday(ctx, rec, "test"); err != nil {
		t.Fatalf("save: %v", err)
	}
	first, _ := s.Birthday("U1")

	rec.Day = 2
	if err := s.SaveBirthday(ctx, rec, "test"); err != nil {
		t.Fatalf("update: %v", err)
	}
	second, _ := s.Birthday("U1")

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at changed on update: %v vs %v", second.CreatedAt, first.CreatedAt)
	}
	if second.Day != 2 {
		t.Fatalf("update not applied")
	}
}

func TestSetBirthdayActiveMissingUser(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetBirthdayActive(context.Background(), "UNKNOWN", false, "test"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBackupRingCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		rec := domain.BirthdayRecord{UserID: "U1", Day: (i % 28) + 1, Month: 1, Preferences: domain.DefaultPreferences()}
		if err := s.SaveBirthday(ctx, rec, "test"); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	backups, err := filepath.Glob(filepath.Join(s.backupDir, "birthdays_*.json"))
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	if len(backups) > maxBackupFiles {
		t.Fatalf("backup ring exceeded cap: %d files", len(backups))
	}
}

func TestMarkCelebratedAtMostOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dateKey := "2026-03-15"

	marked, err := s.MarkCelebrated(ctx, dateKey, "U1")
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if !marked {
		t.Fatalf("expected first mark to succeed")
	}

	marked, err = s.MarkCelebrated(ctx, dateKey, "U1")
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if marked {
		t.Fatalf("expected duplicate mark to be rejected")
	}

	celebrated, err := s.IsCelebrated(dateKey, "U1")
	if err != nil || !celebrated {
		t.Fatalf("expected user to be celebrated: %v %v", celebrated, err)
	}
}

func TestMarkCelebratedConcurrentTriggers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dateKey := "2026-03-15"

	const attempts = 8
	results := make(chan bool, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			marked, err := s.MarkCelebrated(ctx, dateKey, "U1")
			if err != nil {
				t.Errorf("mark: %v", err)
				return
			}
			results <- marked
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for marked := range results {
		if marked {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning trigger, got %d", wins)
	}
}

func TestMarkCelebratedTZBucket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	marked, err := s.MarkCelebratedTZ(ctx, "2026-03-15", "U1:2026-03-15")
	if err != nil || !marked {
		t.Fatalf("first tz mark: %v %v", marked, err)
	}
	marked, _ = s.MarkCelebratedTZ(ctx, "2026-03-15", "U1:2026-03-15")
	if marked {
		t.Fatalf("expected duplicate tz bucket to be rejected")
	}

	celebrated, err := s.IsCelebrated("2026-03-15", "U1")
	if err != nil || !celebrated {
		t.Fatalf("expected tz bucket to count as celebrated")
	}
}

func TestPruneLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	if _, err := s.MarkCelebrated(ctx, "2025-12-01", "U1"); err != nil {
		t.Fatalf("mark old: %v", err)
	}
	if _, err := s.MarkCelebrated(ctx, DateKey(now), "U2"); err != nil {
		t.Fatalf("mark recent: %v", err)
	}

	if err := s.PruneLedger(ctx, now, 60*24*time.Hour); err != nil {
		t.Fatalf("prune: %v", err)
	}

	old, _ := s.IsCelebrated("2025-12-01", "U1")
	if old {
		t.Fatalf("expected old entry to be pruned")
	}
	recent, _ := s.IsCelebrated(DateKey(now), "U2")
	if !recent {
		t.Fatalf("expected recent entry to survive prune")
	}
}

func TestSpecialDaysConfigDefaults(t *testing.T) {
	s := newTestStore(t)

	cfg, err := s.SpecialDaysConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Mode != "daily" {
		t.Fatalf("expected daily default mode, got %q", cfg.Mode)
	}
	if !cfg.CategoryEnabled[domain.CategoryGlobalHealth] {
		t.Fatalf("expected categories enabled by default")
	}
}

func TestOnBirthdaysChangedHook(t *testing.T) {
	s := newTestStore(t)
	var reasons []string
	s.OnBirthdaysChanged = func(reason string) { reasons = append(reasons, reason) }

	rec := domain.BirthdayRecord{UserID: "U1", Day: 1, Month: 1, Preferences: domain.DefaultPreferences()}
	if err := s.SaveBirthday(context.Background(), rec, "birthday added"); err != nil {
		t.Fatalf("save: %v", err)
	}

	if len(reasons) != 1 || reasons[0] != "birthday added" {
		t.Fatalf("expected change hook to fire once with reason, got %v", reasons)
	}
}
