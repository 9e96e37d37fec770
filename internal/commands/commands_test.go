package commands

import (
	"context"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"cakeday/internal/domain"
	"cakeday/internal/observance"
	"cakeday/internal/personality"
	"cakeday/internal/profile"
	"cakeday/internal/slack"
	"cakeday/internal/store"
)

// calendarStub serves a static observance list for list and export tests.
type calendarStub struct {
	days []domain.SpecialDay
}

func (s calendarStub) Name() domain.ObservanceSourceName { return domain.SourceUN }

func (s calendarStub) Refresh(context.Context, bool) (int, time.Time, error) {
	return len(s.days), time.Time{}, nil
}

func (s calendarStub) Status() observance.SourceStatus { return observance.SourceStatus{} }

func (s calendarStub) Lookup(mmdd string) []domain.SpecialDay {
	var out []domain.SpecialDay
	for _, d := range s.days {
		if d.MMDD() == mmdd {
			out = append(out, d)
		}
	}
	return out
}

func newHandler(t *testing.T, days ...domain.SpecialDay) (*Handler, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "storage"), filepath.Join(dir, "backups"), 10*time.Second, slog.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	client := slack.NewNoopClient(slog.Default())
	resolver := profile.NewResolver(client, st, slog.Default())
	selector := personality.NewSelector(st, rand.New(rand.NewSource(3)))
	agg := observance.NewAggregator(
		[]observance.Source{calendarStub{days: days}},
		domain.DefaultSpecialDaysConfig,
		slog.Default(),
	)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))

	h := NewHandler(st, resolver, selector, agg, nil, nil, nil, clock, "C1", nil, slog.Default())
	return h, st
}

func TestSetAndShowBirthday(t *testing.T) {
	h, st := newHandler(t)
	ctx := context.Background()

	reply := h.Birthday(ctx, "U1", "set 25/12").Text
	if !strings.Contains(reply, "December 25th") {
		t.Fatalf("unexpected set reply: %q", reply)
	}

	rec, err := st.Birthday("U1")
	if err != nil {
		t.Fatalf("record not saved: %v", err)
	}
	if rec.Day != 25 || rec.Month != 12 || rec.Year != nil {
		t.Fatalf("wrong record: %#v", rec)
	}

	show := h.Birthday(ctx, "U1", "me").Text
	if !strings.Contains(show, "25/12") {
		t.Fatalf("show missing date: %q", show)
	}
	if !strings.Contains(show, "Capricorn") {
		t.Fatalf("show missing star sign: %q", show)
	}
}

func TestSetRejectsGarbage(t *testing.T) {
	h, _ := newHandler(t)
	reply := h.Birthday(context.Background(), "U1", "set banana").Text
	if !strings.Contains(reply, "didn't recognize") {
		t.Fatalf("garbage date accepted: %q", reply)
	}
}

func TestSetPreservesPreferences(t *testing.T) {
	h, st := newHandler(t)
	ctx := context.Background()

	prefs := domain.DefaultPreferences()
	prefs.ImageEnabled = false
	if err := st.SaveBirthday(ctx, domain.BirthdayRecord{
		UserID: "U1", Day: 1, Month: 1, Preferences: prefs,
	}, "test"); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	h.Birthday(ctx, "U1", "set 25/12")
	rec, err := st.Birthday("U1")
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if rec.Preferences.ImageEnabled {
		t.Fatalf("preferences reset by date update")
	}
}

func TestRemoveBirthday(t *testing.T) {
	h, st := newHandler(t)
	ctx := context.Background()

	h.Birthday(ctx, "U1", "set 25/12")
	reply := h.Birthday(ctx, "U1", "remove").Text
	if !strings.Contains(reply, "forgotten") {
		t.Fatalf("unexpected remove reply: %q", reply)
	}
	if _, err := st.Birthday("U1"); err != store.ErrNotFound {
		t.Fatalf("record still present after removal: %v", err)
	}

	again := h.Birthday(ctx, "U1", "remove").Text
	if !strings.Contains(again, "didn't have") {
		t.Fatalf("double removal not reported: %q", again)
	}
}

func TestPauseAndResume(t *testing.T) {
	h, st := newHandler(t)
	ctx := context.Background()

	h.Birthday(ctx, "U1", "set 25/12")
	reply := h.Birthday(ctx, "U1", "pause").Text
	if !strings.Contains(reply, "Paused") {
		t.Fatalf("pause failed: %q", reply)
	}
	rec, err := st.Birthday("U1")
	if err != nil || rec.Preferences.Active {
		t.Fatalf("record still active after pause: %#v (%v)", rec, err)
	}
	if show := h.Birthday(ctx, "U1", "me").Text; !strings.Contains(show, "paused") {
		t.Fatalf("show does not mention the pause: %q", show)
	}

	h.Birthday(ctx, "U1", "resume")
	rec, err = st.Birthday("U1")
	if err != nil || !rec.Preferences.Active {
		t.Fatalf("record not reactivated: %#v (%v)", rec, err)
	}
}

func TestUpcomingRespectsThirtyDayWindow(t *testing.T) {
	h, st := newHandler(t)
	ctx := context.Background()

	// Clock is 15 March; 20 March is inside the window, 20 June is not.
	if err := st.SaveBirthday(ctx, domain.BirthdayRecord{UserID: "U1", Day: 20, Month: 3, Preferences: domain.DefaultPreferences()}, "test"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.SaveBirthday(ctx, domain.BirthdayRecord{UserID: "U2", Day: 20, Month: 6, Preferences: domain.DefaultPreferences()}, "test"); err != nil {
		t.Fatalf("save: %v", err)
	}

	reply := h.Birthday(ctx, "U9", "upcoming").Text
	if !strings.Contains(reply, "20 March") {
		t.Fatalf("upcoming missing in-window birthday: %q", reply)
	}
	if strings.Contains(reply, "June") {
		t.Fatalf("upcoming leaked out-of-window birthday: %q", reply)
	}
}

func TestPersonalityChangeIsAdminOnly(t *testing.T) {
	h, st := newHandler(t)
	ctx := context.Background()

	denied := h.Birthday(ctx, "U1", "personality pirate").Text
	if !strings.Contains(denied, "admin-only") {
		t.Fatalf("non-admin allowed to change voice: %q", denied)
	}

	if err := st.SaveAdmins(ctx, []string{"U1"}); err != nil {
		t.Fatalf("save admins: %v", err)
	}
	allowed := h.Birthday(ctx, "U1", "personality pirate").Text
	if !strings.Contains(allowed, "pirate") || strings.Contains(allowed, "admin-only") {
		t.Fatalf("admin voice change failed: %q", allowed)
	}
}

func TestSpecialDayModeChange(t *testing.T) {
	h, st := newHandler(t)
	ctx := context.Background()

	if err := st.SaveAdmins(ctx, []string{"U1"}); err != nil {
		t.Fatalf("save admins: %v", err)
	}

	reply := h.SpecialDay(ctx, "U1", "mode weekly").Text
	if !strings.Contains(reply, "weekly") {
		t.Fatalf("mode change failed: %q", reply)
	}
	cfg, err := st.SpecialDaysConfig()
	if err != nil || cfg.Mode != "weekly" {
		t.Fatalf("mode not persisted: %#v (%v)", cfg, err)
	}

	bad := h.SpecialDay(ctx, "U1", "mode hourly").Text
	if !strings.Contains(bad, "Pick a cadence") {
		t.Fatalf("invalid mode accepted: %q", bad)
	}
}

func TestCategoryToggle(t *testing.T) {
	h, st := newHandler(t)
	ctx := context.Background()

	if err := st.SaveAdmins(ctx, []string{"U1"}); err != nil {
		t.Fatalf("save admins: %v", err)
	}

	reply := h.SpecialDay(ctx, "U1", "category culture off").Text
	if !strings.Contains(reply, "off") {
		t.Fatalf("toggle failed: %q", reply)
	}
	cfg, err := st.SpecialDaysConfig()
	if err != nil || cfg.CategoryEnabled[domain.CategoryCulture] {
		t.Fatalf("toggle not persisted: %#v (%v)", cfg, err)
	}
}

func TestCheckBirthday(t *testing.T) {
	h, _ := newHandler(t)
	ctx := context.Background()

	if reply := h.Birthday(ctx, "U2", "check nobody").Text; !strings.Contains(reply, "Usage") {
		t.Fatalf("missing mention not rejected: %q", reply)
	}
	if reply := h.Birthday(ctx, "U2", "check <@U1>").Text; !strings.Contains(reply, "No birthday on file") {
		t.Fatalf("unknown user not reported: %q", reply)
	}

	h.Birthday(ctx, "U1", "set 25/12")
	reply := h.Birthday(ctx, "U2", "check <@U1|ada>")
	if !strings.Contains(reply.Text, "25/12") || !strings.Contains(reply.Text, "<@U1>") {
		t.Fatalf("check reply missing the record: %q", reply.Text)
	}
	if len(reply.Blocks) == 0 {
		t.Fatalf("check reply carries no blocks")
	}

	h.Birthday(ctx, "U1", "pause")
	if reply := h.Birthday(ctx, "U2", "check <@U1>").Text; !strings.Contains(reply, "paused") {
		t.Fatalf("check reply hides the pause: %q", reply)
	}
}

func TestObservanceListFiltersCategory(t *testing.T) {
	h, _ := newHandler(t,
		domain.SpecialDay{Day: 18, Month: 3, Name: "World Poetry Day", Category: domain.CategoryCulture, Source: domain.SourceUNESCO},
		domain.SpecialDay{Day: 20, Month: 3, Name: "World Backup Day", Category: domain.CategoryTech, Source: domain.SourceUN},
	)
	ctx := context.Background()

	all := h.SpecialDay(ctx, "U1", "list")
	for _, name := range []string{"World Poetry Day", "World Backup Day"} {
		if !strings.Contains(all.Text, name) {
			t.Fatalf("unfiltered list missing %s: %q", name, all.Text)
		}
	}
	if len(all.Blocks) == 0 {
		t.Fatalf("list reply carries no blocks")
	}

	tech := h.SpecialDay(ctx, "U1", "list tech").Text
	if !strings.Contains(tech, "World Backup Day") || strings.Contains(tech, "World Poetry Day") {
		t.Fatalf("category filter leaked: %q", tech)
	}

	if reply := h.SpecialDay(ctx, "U1", "list gardening").Text; !strings.Contains(reply, "Unknown category") {
		t.Fatalf("bad category accepted: %q", reply)
	}
}

func TestObservanceExport(t *testing.T) {
	h, st := newHandler(t,
		domain.SpecialDay{Day: 18, Month: 3, Name: "World Poetry Day", Category: domain.CategoryCulture, Source: domain.SourceUNESCO},
		domain.SpecialDay{Day: 7, Month: 4, Name: "World Health Day", Category: domain.CategoryGlobalHealth, Source: domain.SourceWHO},
	)
	ctx := context.Background()

	if reply := h.SpecialDay(ctx, "U1", "export").Text; !strings.Contains(reply, "admin-only") {
		t.Fatalf("non-admin export allowed: %q", reply)
	}

	if err := st.SaveAdmins(ctx, []string{"U1"}); err != nil {
		t.Fatalf("save admins: %v", err)
	}
	full := h.SpecialDay(ctx, "U1", "export").Text
	for _, want := range []string{"date,name,category,source", "World Poetry Day", "World Health Day"} {
		if !strings.Contains(full, want) {
			t.Fatalf("export missing %q: %q", want, full)
		}
	}

	who := h.SpecialDay(ctx, "U1", "export who").Text
	if !strings.Contains(who, "World Health Day") || strings.Contains(who, "World Poetry Day") {
		t.Fatalf("source filter leaked: %q", who)
	}
}

func TestHelpRepliesCarryBlocks(t *testing.T) {
	h, _ := newHandler(t)
	ctx := context.Background()

	for _, reply := range []Reply{
		h.Birthday(ctx, "U1", "help"),
		h.SpecialDay(ctx, "U1", ""),
	} {
		if reply.Text == "" {
			t.Fatalf("help reply missing its text fallback")
		}
		if len(reply.Blocks) == 0 {
			t.Fatalf("help reply carries no blocks")
		}
	}
}
