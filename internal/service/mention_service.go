package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sethvargo/go-limiter"

	"cakeday/internal/ai"
	"cakeday/internal/dates"
	"cakeday/internal/domain"
	"cakeday/internal/observance"
	"cakeday/internal/store"
)

// mentionIntent is the coarse classification of an @-mention.
type mentionIntent string

const (
	intentHelp     mentionIntent = "help"
	intentThanks   mentionIntent = "thanks"
	intentUpcoming mentionIntent = "upcoming"
	intentToday    mentionIntent = "today"
	intentQuestion mentionIntent = "question"
)

const mentionHelpText = `Here's what I do :birthday:
• Remember birthdays — DM me a date like *25/12* or use */birthday set*
• Announce birthdays in the celebration channel every morning
• Share notable observances from the UN, UNESCO and WHO calendars
• Answer questions when you @-mention me
Try asking "who has a birthday coming up?"`

const mentionSystem = `You are a friendly workplace celebration bot answering a colleague's
question. Use ONLY the context provided; if the answer is not in the context, say you
don't know rather than guessing. Keep replies under 100 words, Slack mrkdwn, warm tone.
Never reveal anyone's birth year or age unless the context explicitly includes it.`

// MentionService answers @-mentions, rate limited per user so one person
// cannot monopolize the LLM budget.
type MentionService struct {
	completer  ai.Completer
	store      *store.Store
	aggregator *observance.Aggregator
	limits     limiter.Store
	usernameFn func(ctx context.Context, userID string) string
	logger     *slog.Logger
}

func NewMentionService(
	completer ai.Completer,
	st *store.Store,
	aggregator *observance.Aggregator,
	limits limiter.Store,
	usernameFn func(ctx context.Context, userID string) string,
	logger *slog.Logger,
) *MentionService {
	return &MentionService{
		completer:  completer,
		store:      st,
		aggregator: aggregator,
		limits:     limits,
		usernameFn: usernameFn,
		logger:     logger,
	}
}

// Answer produces the reply text for one mention. Rate-limited users get a
// polite note with the time until their window resets.
func (s *MentionService) Answer(ctx context.Context, userID, text string, now time.Time) string {
	_, _, reset, ok, err := s.limits.Take(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "rate limiter failure", slog.String("error", err.Error()))
		// Fail open: a broken limiter should not mute the bot.
	} else if !ok {
		resetAt := time.Unix(0, int64(reset))
		return fmt.Sprintf("Easy there, <@%s>! :sweat_smile: I can only chat so fast — try again %s.",
			userID, humanize.Time(resetAt))
	}

	switch classifyMention(text) {
	case intentHelp:
		return mentionHelpText
	case intentThanks:
		return "Anytime, <@" + userID + ">! :blush:"
	case intentUpcoming:
		return s.upcomingAnswer(ctx, now)
	case intentToday:
		return s.todayAnswer(now)
	default:
		return s.llmAnswer(ctx, userID, text, now)
	}
}

func classifyMention(text string) mentionIntent {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "help", "what can you do", "how do i", "commands"):
		return intentHelp
	case containsAny(lower, "thank", "thx", "appreciate"):
		return intentThanks
	case containsAny(lower, "upcoming", "next birthday", "coming up", "who has a birthday"):
		return intentUpcoming
	case containsAny(lower, "today", "special day", "observance", "what day is it"):
		return intentToday
	default:
		return intentQuestion
	}
}

// upcomingAnswer lists birthdays in the next 30 days without years or ages.
func (s *MentionService) upcomingAnswer(ctx context.Context, now time.Time) string {
	upcoming, err := s.upcomingBirthdays(ctx, now, 30)
	if err != nil {
		s.logger.WarnContext(ctx, "upcoming lookup failed", slog.String("error", err.Error()))
		return "I couldn't check the birthday calendar just now — try again in a moment."
	}
	if len(upcoming) == 0 {
		return "No birthdays in the next 30 days. A quiet stretch! :seedling:"
	}

	var sb strings.Builder
	sb.WriteString("Coming up :birthday:\n")
	for _, entry := range upcoming {
		fmt.Fprintf(&sb, "• *%s* — %s\n", entry.name, entry.when)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (s *MentionService) todayAnswer(now time.Time) string {
	days := s.aggregator.ForDate(now)
	if len(days) == 0 {
		return "No notable observances on the calendar today."
	}
	var sb strings.Builder
	sb.WriteString("On the calendar today :calendar:\n")
	for _, d := range days {
		fmt.Fprintf(&sb, "• *%s* (%s)\n", d.Name, d.Source)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// llmAnswer builds a context block from bot state and asks the model.
func (s *MentionService) llmAnswer(ctx context.Context, userID, text string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("Asker: " + s.usernameFn(ctx, userID) + "\n")
	sb.WriteString("Today: " + now.Format("Monday, 2 January 2006") + "\n")

	if upcoming, err := s.upcomingBirthdays(ctx, now, 30); err == nil && len(upcoming) > 0 {
		sb.WriteString("Upcoming birthdays (next 30 days):\n")
		for _, entry := range upcoming {
			fmt.Fprintf(&sb, "- %s: %s\n", entry.name, entry.when)
		}
	}
	if days := s.aggregator.ForDate(now); len(days) > 0 {
		sb.WriteString("Today's observances:\n")
		for _, d := range days {
			fmt.Fprintf(&sb, "- %s (%s)\n", d.Name, d.Source)
		}
	}

	answer, _, err := s.completer.Complete(ctx, ai.CompletionRequest{
		System: mentionSystem,
		Messages: []ai.Message{{
			Role:    "user",
			Content: "Context:\n" + sb.String() + "\nQuestion: " + text,
		}},
		MaxTokens:   ai.TokensFor("mention_answer"),
		Temperature: ai.TemperatureFor("mention_answer"),
		UseCase:     "mention_answer",
	})
	if err != nil {
		s.logger.WarnContext(ctx, "mention answer generation failed", slog.String("error", err.Error()))
		return "I'm having trouble thinking straight right now :dizzy_face: — try asking again shortly, or say *help*."
	}
	return NormalizeMrkdwn(answer)
}

type upcomingEntry struct {
	name string
	when string
	days int
}

func (s *MentionService) upcomingBirthdays(ctx context.Context, now time.Time, horizon int) ([]upcomingEntry, error) {
	records, err := s.store.Birthdays()
	if err != nil {
		return nil, err
	}

	var out []upcomingEntry
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for userID, rec := range records {
		if !rec.Preferences.Active {
			continue
		}
		next := nextOccurrence(rec, today)
		delta := int(next.Sub(today).Hours() / 24)
		if delta > horizon {
			continue
		}
		when := next.Format("Monday, 2 January")
		if delta == 0 {
			when = "today!"
		}
		out = append(out, upcomingEntry{name: s.usernameFn(ctx, userID), when: when, days: delta})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].days != out[j].days {
			return out[i].days < out[j].days
		}
		return out[i].name < out[j].name
	})
	return out, nil
}

// nextOccurrence finds the next calendar occurrence of a birthday, applying
// the Feb-29 policy for non-leap years.
func nextOccurrence(rec domain.BirthdayRecord, today time.Time) time.Time {
	for year := today.Year(); ; year++ {
		day, month := rec.Day, rec.Month
		if day == 29 && month == 2 && !dates.IsLeapYear(year) {
			day = 28
		}
		candidate := time.Date(year, time.Month(month), day, 0, 0, 0, 0, today.Location())
		if !candidate.Before(today) {
			return candidate
		}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
