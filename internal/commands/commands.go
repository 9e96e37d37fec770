// Package commands implements the /birthday and /special-day slash
// commands. Handlers return a Reply (mrkdwn text plus an optional block
// payload) that the event layer sends back as the command acknowledgement.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	slackapi "github.com/slack-go/slack"

	"cakeday/internal/ai"
	"cakeday/internal/dates"
	"cakeday/internal/domain"
	"cakeday/internal/observance"
	"cakeday/internal/personality"
	"cakeday/internal/profile"
	"cakeday/internal/service"
	"cakeday/internal/slack"
	"cakeday/internal/store"
)

// Reply is one command acknowledgement. Text is always set and doubles as
// the notification fallback; Blocks, when present, carry the rich layout.
type Reply struct {
	Text   string
	Blocks []slackapi.Block
}

func plain(s string) Reply { return Reply{Text: s} }

var mentionToken = regexp.MustCompile(`<@(U[A-Z0-9]+)(?:\|[^>]*)?>`)

var categoryByName = map[string]domain.ObservanceCategory{
	"health":  domain.CategoryGlobalHealth,
	"tech":    domain.CategoryTech,
	"culture": domain.CategoryCulture,
	"company": domain.CategoryCompany,
}

const birthdayHelp = `*Birthday commands* :birthday:
• ` + "`/birthday set 25/12`" + ` — save your birthday (add a year for age: ` + "`14/7/1990`" + `)
• ` + "`/birthday remove`" + ` — forget your birthday
• ` + "`/birthday me`" + ` — show what I have on file for you
• ` + "`/birthday check @someone`" + ` — look up a colleague's birthday
• ` + "`/birthday upcoming`" + ` — birthdays in the next 30 days
• ` + "`/birthday pause`" + ` / ` + "`resume`" + ` — pause or resume your celebrations
• ` + "`/birthday personality [name|random|list]`" + ` — announcement voice
• ` + "`/birthday export`" + ` — dump all records as CSV _(admin)_
• ` + "`/birthday test`" + ` — post a test celebration for yourself _(admin)_
• ` + "`/birthday status`" + ` — bot health _(admin)_`

const specialDayHelp = `*Special day commands* :closed_book:
• ` + "`/special-day today`" + ` — today's observances
• ` + "`/special-day week`" + ` — the next seven days
• ` + "`/special-day month`" + ` — this month's calendar
• ` + "`/special-day list [category]`" + ` — next 30 days, optionally one category
• ` + "`/special-day export [source]`" + ` — dump the cached calendar as CSV _(admin)_
• ` + "`/special-day mode [daily|weekly]`" + ` — announcement cadence _(admin)_
• ` + "`/special-day category <name> [on|off]`" + ` — toggle a category _(admin)_
• ` + "`/special-day stats`" + ` — per-source cache health _(admin)_
• ` + "`/special-day refresh`" + ` — force a source refresh _(admin)_`

// Handler routes slash commands. Every method returns user-facing mrkdwn;
// errors are folded into friendly text so a command never fails silently.
type Handler struct {
	store        *store.Store
	resolver     *profile.Resolver
	selector     *personality.Selector
	aggregator   *observance.Aggregator
	celebrations *service.CelebrationService
	status       *service.StatusService
	nlp          dates.DateNLP
	clock        clockwork.Clock
	channelID    string
	onDataChange func(reason string)
	logger       *slog.Logger
}

func NewHandler(
	st *store.Store,
	resolver *profile.Resolver,
	selector *personality.Selector,
	aggregator *observance.Aggregator,
	celebrations *service.CelebrationService,
	status *service.StatusService,
	nlp dates.DateNLP,
	clock clockwork.Clock,
	channelID string,
	onDataChange func(reason string),
	logger *slog.Logger,
) *Handler {
	return &Handler{
		store:        st,
		resolver:     resolver,
		selector:     selector,
		aggregator:   aggregator,
		celebrations: celebrations,
		status:       status,
		nlp:          nlp,
		clock:        clock,
		channelID:    channelID,
		onDataChange: onDataChange,
		logger:       logger,
	}
}

// Birthday handles /birthday.
func (h *Handler) Birthday(ctx context.Context, userID, text string) Reply {
	sub, rest := splitCommand(text)
	switch sub {
	case "", "help":
		return helpReply("Birthday commands", birthdayHelp)
	case "set":
		return plain(h.setBirthday(ctx, userID, rest))
	case "remove", "delete":
		return plain(h.removeBirthday(ctx, userID))
	case "me", "show":
		return plain(h.showBirthday(userID))
	case "check":
		return h.checkBirthday(rest)
	case "upcoming", "list":
		return h.upcoming(ctx)
	case "pause":
		return plain(h.setActive(ctx, userID, false))
	case "resume":
		return plain(h.setActive(ctx, userID, true))
	case "export":
		return plain(h.exportBirthdays(ctx, userID))
	case "personality":
		return plain(h.personalityCmd(ctx, userID, rest))
	case "test":
		return plain(h.testCelebration(ctx, userID, rest))
	case "status":
		return plain(h.statusCmd(ctx, userID))
	default:
		// Bare dates work too: "/birthday 25/12".
		if reply := h.setBirthday(ctx, userID, text); !strings.Contains(reply, "didn't recognize") {
			return plain(reply)
		}
		return plain("I don't know `" + sub + "`.\n\n" + birthdayHelp)
	}
}

// SpecialDay handles /special-day.
func (h *Handler) SpecialDay(ctx context.Context, userID, text string) Reply {
	sub, rest := splitCommand(text)
	switch sub {
	case "", "help":
		return helpReply("Special day commands", specialDayHelp)
	case "today":
		return h.observanceList(h.aggregator.ForDate(h.clock.Now()), "Today")
	case "week":
		return h.observanceList(h.aggregator.Week(h.clock.Now()), "This week")
	case "month":
		return h.observanceList(h.aggregator.Month(h.clock.Now()), "This month")
	case "list":
		return h.listObservances(rest)
	case "export":
		return h.exportObservances(ctx, userID, rest)
	case "mode":
		return plain(h.setMode(ctx, userID, rest))
	case "category":
		return plain(h.toggleCategory(ctx, userID, rest))
	case "stats":
		return plain(h.sourceStats(ctx, userID))
	case "refresh":
		return plain(h.refreshSources(ctx, userID))
	default:
		return plain("I don't know `" + sub + "`.\n\n" + specialDayHelp)
	}
}

func helpReply(title, body string) Reply {
	return Reply{
		Text: body,
		Blocks: []slackapi.Block{
			slack.HeaderBlock(title),
			slack.SectionBlock(body),
		},
	}
}

func (h *Handler) setBirthday(ctx context.Context, userID, text string) string {
	if strings.TrimSpace(text) == "" {
		return "Tell me the date too, like `/birthday set 25/12` :birthday:"
	}

	parsed, err := dates.ParseWithNLP(ctx, text, h.nlp, h.clock.Now())
	if err != nil {
		if domain.KindOf(err) == domain.KindInputInvalid {
			return "Sorry, I didn't recognize that date: " + err.Error() + "\nTry `DD/MM` or `DD/MM/YYYY`."
		}
		h.logger.WarnContext(ctx, "date parse failed", slog.String("error", err.Error()))
		return "Sorry, I couldn't read that date right now — try the `DD/MM` form."
	}

	rec := domain.BirthdayRecord{
		UserID:      userID,
		Day:         parsed.Day,
		Month:       parsed.Month,
		Year:        parsed.Year,
		Preferences: domain.DefaultPreferences(),
	}
	if existing, err := h.store.Birthday(userID); err == nil {
		rec.Preferences = existing.Preferences
		rec.CreatedAt = existing.CreatedAt
	}
	if err := h.store.SaveBirthday(ctx, rec, "slash command"); err != nil {
		h.logger.ErrorContext(ctx, "birthday save failed", slog.String("error", err.Error()))
		return "Something went wrong saving that — please try again."
	}
	h.notifyChange("birthday set")

	reply := fmt.Sprintf("Got it! %s it is :tada:", dates.InWords(parsed.Day, parsed.Month))
	if parsed.Year == nil {
		reply += "\n_Add a year (`" + fmt.Sprintf("%d/%d/1990", parsed.Day, parsed.Month) + "`) if you'd like your age celebrated._"
	}
	return reply
}

func (h *Handler) removeBirthday(ctx context.Context, userID string) string {
	if err := h.store.RemoveBirthday(ctx, userID, "slash command"); err != nil {
		if err == store.ErrNotFound {
			return "I didn't have a birthday on file for you."
		}
		h.logger.ErrorContext(ctx, "birthday removal failed", slog.String("error", err.Error()))
		return "Something went wrong — please try again."
	}
	h.notifyChange("birthday removed")
	return "Done — your birthday is forgotten. :wave:"
}

func (h *Handler) showBirthday(userID string) string {
	rec, err := h.store.Birthday(userID)
	if err != nil {
		if err == store.ErrNotFound {
			return "No birthday on file. Set one with `/birthday set DD/MM`."
		}
		return "Couldn't read your record just now — try again shortly."
	}

	reply := fmt.Sprintf("Your birthday: *%s* (%s)", rec.DateString(), dates.StarSign(rec.Day, rec.Month))
	if !rec.Preferences.Active {
		reply += "\n:zzz: Celebrations are currently *paused* for you."
	}
	return reply
}

// checkBirthday looks up another person's record by their mention token.
func (h *Handler) checkBirthday(text string) Reply {
	m := mentionToken.FindStringSubmatch(text)
	if m == nil {
		return plain("Usage: `/birthday check @someone`")
	}
	targetID := m[1]

	rec, err := h.store.Birthday(targetID)
	if err != nil {
		if err == store.ErrNotFound {
			return plain(fmt.Sprintf("No birthday on file for <@%s>.", targetID))
		}
		return plain("Couldn't read that record just now — try again shortly.")
	}

	now := h.clock.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	body := fmt.Sprintf("<@%s>'s birthday: *%s* (%s) — next on %s",
		targetID, rec.DateString(), dates.StarSign(rec.Day, rec.Month),
		nextBirthday(rec, today).Format("Monday, 2 January"))
	if !rec.Preferences.Active {
		body += "\n:zzz: Their celebrations are currently *paused*."
	}
	return Reply{Text: body, Blocks: []slackapi.Block{slack.SectionBlock(body)}}
}

func (h *Handler) upcoming(ctx context.Context) Reply {
	records, err := h.store.Birthdays()
	if err != nil {
		return plain("Couldn't read the calendar just now — try again shortly.")
	}

	now := h.clock.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	type entry struct {
		name string
		date time.Time
	}
	var entries []entry
	for userID, rec := range records {
		if !rec.Preferences.Active {
			continue
		}
		next := nextBirthday(rec, today)
		if int(next.Sub(today).Hours()/24) > 30 {
			continue
		}
		entries = append(entries, entry{name: h.resolver.Username(ctx, userID), date: next})
	}
	if len(entries) == 0 {
		return plain("No birthdays in the next 30 days.")
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].date.Equal(entries[j].date) {
			return entries[i].date.Before(entries[j].date)
		}
		return entries[i].name < entries[j].name
	})

	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "• %s — %s\n", e.name, e.date.Format("Monday, 2 January"))
	}
	list := strings.TrimRight(sb.String(), "\n")
	return Reply{
		Text: "*Upcoming birthdays* :birthday:\n" + list,
		Blocks: []slackapi.Block{
			slack.HeaderBlock("Upcoming birthdays"),
			slack.SectionBlock(list),
			slack.ContextBlock(fmt.Sprintf(":birthday: %d in the next 30 days", len(entries))),
		},
	}
}

func (h *Handler) setActive(ctx context.Context, userID string, active bool) string {
	if err := h.store.SetBirthdayActive(ctx, userID, active, "slash command"); err != nil {
		if err == store.ErrNotFound {
			return "No birthday on file. Set one with `/birthday set DD/MM`."
		}
		h.logger.ErrorContext(ctx, "pause toggle failed", slog.String("error", err.Error()))
		return "Something went wrong — please try again."
	}
	h.notifyChange("birthday pause toggled")
	if active {
		return "Welcome back — your celebrations are *on* again. :tada:"
	}
	return "Paused. I'll stay quiet on your birthday until you `/birthday resume`. :zzz:"
}

func (h *Handler) exportBirthdays(ctx context.Context, userID string) string {
	admin, err := h.resolver.IsAdmin(ctx, userID)
	if err != nil || !admin {
		return "Exports are admin-only, sorry!"
	}

	records, err := h.store.Birthdays()
	if err != nil {
		return "Couldn't read the records just now — try again shortly."
	}
	if len(records) == 0 {
		return "Nothing to export yet."
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("```\nuser_id,date,year,active\n")
	for _, id := range ids {
		rec := records[id]
		year := ""
		if rec.Year != nil {
			year = fmt.Sprintf("%d", *rec.Year)
		}
		fmt.Fprintf(&sb, "%s,%s,%s,%t\n", id, rec.DateString(), year, rec.Preferences.Active)
	}
	sb.WriteString("```")
	return sb.String()
}

func (h *Handler) personalityCmd(ctx context.Context, userID, text string) string {
	arg := strings.TrimSpace(strings.ToLower(text))
	if arg == "" || arg == "list" {
		current, _ := h.selector.Current()
		var sb strings.Builder
		fmt.Fprintf(&sb, "Current voice: *%s*\n\nAvailable:\n", current)
		for _, p := range personality.BirthdayPool() {
			fmt.Fprintf(&sb, "• %s *%s* — `%s`\n", p.Emoji, p.DisplayName, p.Key)
		}
		sb.WriteString("• :game_die: *Random* — `random`\n")
		return sb.String()
	}

	admin, err := h.resolver.IsAdmin(ctx, userID)
	if err != nil || !admin {
		return "Changing the voice is admin-only, sorry!"
	}
	if err := h.selector.SetCurrent(ctx, personality.Key(arg)); err != nil {
		return "I don't know a `" + arg + "` voice. Try `/birthday personality list`."
	}
	return "Voice switched to *" + arg + "* :microphone:"
}

func (h *Handler) testCelebration(ctx context.Context, userID, text string) string {
	admin, err := h.resolver.IsAdmin(ctx, userID)
	if err != nil || !admin {
		return "Test celebrations are admin-only, sorry!"
	}

	rec, err := h.store.Birthday(userID)
	if err != nil {
		rec = domain.BirthdayRecord{UserID: userID, Day: h.clock.Now().Day(), Month: int(h.clock.Now().Month()), Preferences: domain.DefaultPreferences()}
	}

	req := domain.CelebrationRequest{
		ChannelID:           h.channelID,
		People:              []domain.BirthdayPerson{{Record: rec}},
		Mode:                domain.ModeTest,
		PersonalityOverride: strings.TrimSpace(text),
		IncludeImage:        true,
	}
	result, err := h.celebrations.Celebrate(ctx, req, store.DateKey(h.clock.Now()))
	if err != nil {
		h.logger.ErrorContext(ctx, "test celebration failed", slog.String("error", err.Error()))
		return "Test run failed: " + ai.ErrorText(err)
	}
	return fmt.Sprintf("Test celebration posted (run `%s`, voice *%s*, %d image(s)).",
		result.RunID[:8], result.Personality, result.ImagesPosted)
}

func (h *Handler) statusCmd(ctx context.Context, userID string) string {
	admin, err := h.resolver.IsAdmin(ctx, userID)
	if err != nil || !admin {
		return "Status is admin-only, sorry!"
	}
	return h.status.Summary(ctx)
}

func (h *Handler) observanceList(days []domain.SpecialDay, title string) Reply {
	if len(days) == 0 {
		return plain(title + ": nothing on the calendar.")
	}
	var sb strings.Builder
	for _, d := range days {
		fmt.Fprintf(&sb, "• %02d/%02d *%s* (%s, %s)\n", d.Day, d.Month, d.Name, d.Category, d.Source)
	}
	list := strings.TrimRight(sb.String(), "\n")
	return Reply{
		Text: fmt.Sprintf("*%s* :closed_book:\n%s", title, list),
		Blocks: []slackapi.Block{
			slack.HeaderBlock(title),
			slack.SectionBlock(list),
			slack.ContextBlock(fmt.Sprintf(":closed_book: %d observance(s)", len(days))),
		},
	}
}

// listObservances covers the next 30 days, optionally narrowed to one
// category.
func (h *Handler) listObservances(text string) Reply {
	days := h.aggregator.ForRange(h.clock.Now(), 30)
	title := "Next 30 days"

	arg := strings.TrimSpace(strings.ToLower(text))
	if arg != "" {
		category, ok := categoryByName[arg]
		if !ok {
			return plain("Unknown category `" + arg + "`. Options: health, tech, culture, company.")
		}
		var filtered []domain.SpecialDay
		for _, d := range days {
			if d.Category == category {
				filtered = append(filtered, d)
			}
		}
		days = filtered
		title = fmt.Sprintf("Next 30 days — %s", category)
	}
	return h.observanceList(days, title)
}

// exportObservances dumps a full year of the cached calendar as CSV,
// optionally narrowed to one source.
func (h *Handler) exportObservances(ctx context.Context, userID, text string) Reply {
	admin, err := h.resolver.IsAdmin(ctx, userID)
	if err != nil || !admin {
		return plain("Exports are admin-only, sorry!")
	}

	days := h.aggregator.ForRange(h.clock.Now(), 365)
	arg := strings.TrimSpace(text)
	if arg != "" {
		var filtered []domain.SpecialDay
		for _, d := range days {
			if strings.EqualFold(string(d.Source), arg) {
				filtered = append(filtered, d)
			}
		}
		days = filtered
	}
	if len(days) == 0 {
		return plain("Nothing to export for that selection.")
	}

	var sb strings.Builder
	sb.WriteString("```\ndate,name,category,source\n")
	for _, d := range days {
		fmt.Fprintf(&sb, "%s,%q,%s,%s\n", d.MMDD(), d.Name, d.Category, d.Source)
	}
	sb.WriteString("```")
	return plain(sb.String())
}

func (h *Handler) setMode(ctx context.Context, userID, text string) string {
	admin, err := h.resolver.IsAdmin(ctx, userID)
	if err != nil || !admin {
		return "Changing the cadence is admin-only, sorry!"
	}

	mode := strings.TrimSpace(strings.ToLower(text))
	if mode != "daily" && mode != "weekly" {
		return "Pick a cadence: `/special-day mode daily` or `/special-day mode weekly`."
	}

	cfg, err := h.store.SpecialDaysConfig()
	if err != nil {
		return "Couldn't read the configuration — try again shortly."
	}
	cfg.Mode = mode
	if err := h.store.SaveSpecialDaysConfig(ctx, cfg); err != nil {
		return "Couldn't save the configuration — try again shortly."
	}
	return "Observance announcements now run *" + mode + "*."
}

func (h *Handler) toggleCategory(ctx context.Context, userID, text string) string {
	admin, err := h.resolver.IsAdmin(ctx, userID)
	if err != nil || !admin {
		return "Category toggles are admin-only, sorry!"
	}

	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return "Usage: `/special-day category <health|tech|culture|company> [on|off]`"
	}
	category, ok := categoryByName[fields[0]]
	if !ok {
		return "Unknown category `" + fields[0] + "`. Options: health, tech, culture, company."
	}

	enable := true
	if len(fields) > 1 {
		enable = fields[1] != "off"
	}

	cfg, err := h.store.SpecialDaysConfig()
	if err != nil {
		return "Couldn't read the configuration — try again shortly."
	}
	cfg.CategoryEnabled[category] = enable
	if err := h.store.SaveSpecialDaysConfig(ctx, cfg); err != nil {
		return "Couldn't save the configuration — try again shortly."
	}

	state := "on"
	if !enable {
		state = "off"
	}
	return fmt.Sprintf("*%s* observances are now *%s*.", category, state)
}

func (h *Handler) sourceStats(ctx context.Context, userID string) string {
	admin, err := h.resolver.IsAdmin(ctx, userID)
	if err != nil || !admin {
		return "Source stats are admin-only, sorry!"
	}

	var sb strings.Builder
	sb.WriteString("*Observance sources* :bar_chart:\n")
	for _, src := range h.aggregator.Sources() {
		st := src.Status()
		state := "disabled"
		switch {
		case st.Enabled && st.CacheFresh:
			state = "fresh"
		case st.Enabled:
			state = "stale"
		}
		fmt.Fprintf(&sb, "• %s: %s, %d observances", st.Name, state, st.ObservanceCount)
		if !st.LastUpdated.IsZero() {
			fmt.Fprintf(&sb, ", updated %s", st.LastUpdated.Format("2 Jan 15:04"))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (h *Handler) refreshSources(ctx context.Context, userID string) string {
	admin, err := h.resolver.IsAdmin(ctx, userID)
	if err != nil || !admin {
		return "Refreshing sources is admin-only, sorry!"
	}

	var sb strings.Builder
	sb.WriteString("Source refresh:\n")
	for _, src := range h.aggregator.Sources() {
		count, _, err := src.Refresh(ctx, true)
		if err != nil {
			fmt.Fprintf(&sb, "• %s: failed (%s)\n", src.Name(), err.Error())
			continue
		}
		fmt.Fprintf(&sb, "• %s: %d observances\n", src.Name(), count)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (h *Handler) notifyChange(reason string) {
	if h.onDataChange != nil {
		h.onDataChange(reason)
	}
}

func splitCommand(text string) (string, string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	sub := strings.ToLower(parts[0])
	if len(parts) == 1 {
		return sub, ""
	}
	return sub, strings.TrimSpace(parts[1])
}

func nextBirthday(rec domain.BirthdayRecord, today time.Time) time.Time {
	for year := today.Year(); ; year++ {
		day := rec.Day
		if day == 29 && rec.Month == 2 && !dates.IsLeapYear(year) {
			day = 28
		}
		candidate := time.Date(year, time.Month(rec.Month), day, 0, 0, 0, 0, today.Location())
		if !candidate.Before(today) {
			return candidate
		}
	}
}
