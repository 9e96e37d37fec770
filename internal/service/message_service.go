// Package service holds the bot's behaviors: message and image generation,
// the celebration pipeline, thread engagement, mentions, special days,
// canvas, and status.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"cakeday/internal/ai"
	"cakeday/internal/domain"
	"cakeday/internal/personality"
)

const messageSystemBase = `You write short celebration messages for a workplace chat channel.
Rules:
- Address each birthday person with their exact mention token, e.g. <@U12345>. Never invent user IDs.
- Warm, inclusive, workplace-appropriate. No sarcasm about age, appearance, or personal life.
- Use Slack mrkdwn: *bold*, _italic_, <url|label> links. Never Markdown ** or __.
- Output the message only, no preamble or commentary.`

const maxGenerationAttempts = 3 // first try plus two regenerations

var (
	mentionPattern     = regexp.MustCompile(`<@U[A-Z0-9]+>`)
	mdBoldPattern      = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	mdItalicPattern    = regexp.MustCompile(`__([^_]+)__`)
	mdLinkPattern      = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	htmlTagPattern     = regexp.MustCompile(`</?(?:p|div|span|br|b|i|em|strong|ul|ol|li|h[1-6])\s*/?>`)
	placeholderPattern = regexp.MustCompile(`\{[a-z_]+\}`)
)

// MessageService generates announcement copy.
type MessageService struct {
	completer ai.Completer
	logger    *slog.Logger
}

func NewMessageService(completer ai.Completer, logger *slog.Logger) *MessageService {
	return &MessageService{completer: completer, logger: logger}
}

// BirthdayMessage generates one consolidated message for every person in
// the request. A result failing the mention sanity check is regenerated up
// to twice; exhaustion falls back to the personality template.
func (s *MessageService) BirthdayMessage(ctx context.Context, p personality.Personality, people []domain.BirthdayPerson, facts string) (string, bool) {
	system := messageSystemBase + "\n\n" + p.StyleExtension
	user := birthdayUserPrompt(people, facts)

	for attempt := 1; attempt <= maxGenerationAttempts; attempt++ {
		raw, _, err := s.completer.Complete(ctx, ai.CompletionRequest{
			System:      system,
			Messages:    []ai.Message{{Role: "user", Content: user}},
			MaxTokens:   ai.TokensFor("birthday_message"),
			Temperature: ai.TemperatureFor("birthday_message"),
			UseCase:     "birthday_message",
		})
		if err != nil {
			s.logger.WarnContext(ctx, "birthday message generation failed",
				slog.Int("attempt", attempt), slog.String("error", err.Error()))
			continue
		}

		msg := NormalizeMrkdwn(raw)
		if MessageLooksValid(msg, people) {
			return msg, true
		}
		s.logger.WarnContext(ctx, "generated message failed mention check, regenerating",
			slog.Int("attempt", attempt),
			slog.Int("mentions_found", len(mentionPattern.FindAllString(msg, -1))),
			slog.Int("people", len(people)),
		)
	}

	return FallbackMessage(p, people), false
}

// SpecialDayMessage generates the observance digest copy in the chronicler
// voice, falling back to a plain listing.
func (s *MessageService) SpecialDayMessage(ctx context.Context, days []domain.SpecialDay) (string, bool) {
	p := personality.Chronicler()
	var sb strings.Builder
	sb.WriteString("Write an announcement for these observances, one short passage each:\n")
	for _, d := range days {
		fmt.Fprintf(&sb, "- %s (%s", d.Name, d.Category)
		if d.Source != "" {
			fmt.Fprintf(&sb, ", source: %s", d.Source)
		}
		sb.WriteString(")")
		if d.URL != "" {
			fmt.Fprintf(&sb, " — more at %s", d.URL)
		}
		sb.WriteString("\n")
	}

	raw, _, err := s.completer.Complete(ctx, ai.CompletionRequest{
		System:      messageSystemBase + "\n\n" + p.StyleExtension,
		Messages:    []ai.Message{{Role: "user", Content: sb.String()}},
		MaxTokens:   ai.TokensFor("special_day_message"),
		Temperature: ai.TemperatureFor("special_day_message"),
		UseCase:     "special_day_message",
	})
	if err != nil {
		s.logger.WarnContext(ctx, "special day message generation failed", slog.String("error", err.Error()))
		names := make([]string, 0, len(days))
		for _, d := range days {
			names = append(names, d.Name)
		}
		return strings.ReplaceAll(p.Fallback, "{mentions}", strings.Join(names, ", ")), false
	}
	return NormalizeMrkdwn(raw), true
}

func birthdayUserPrompt(people []domain.BirthdayPerson, facts string) string {
	var sb strings.Builder
	if len(people) == 1 {
		sb.WriteString("Write a birthday message for this person:\n")
	} else {
		fmt.Fprintf(&sb, "Write ONE shared birthday message celebrating all %d people together:\n", len(people))
	}
	for _, person := range people {
		fmt.Fprintf(&sb, "- %s (mention token: %s)", person.Profile.PreferredName(), person.Mention())
		if person.Profile.Title != "" {
			fmt.Fprintf(&sb, ", %s", person.Profile.Title)
		}
		if person.Age != nil && person.Record.Preferences.ShowAge {
			fmt.Fprintf(&sb, ", turning %d", *person.Age)
		}
		if person.StarSign != "" {
			fmt.Fprintf(&sb, ", star sign %s", person.StarSign)
		}
		if person.DateInWords != "" {
			fmt.Fprintf(&sb, ", birthday %s", person.DateInWords)
		}
		for k, v := range person.Profile.CustomFields {
			fmt.Fprintf(&sb, ", %s: %s", k, v)
		}
		sb.WriteString("\n")
	}
	if facts != "" {
		sb.WriteString("\nYou may weave in one of these date facts if it fits naturally:\n")
		sb.WriteString(facts)
		sb.WriteString("\n")
	}
	return sb.String()
}

// NormalizeMrkdwn converts stray Markdown into Slack mrkdwn and strips
// common HTML tags.
func NormalizeMrkdwn(text string) string {
	out := strings.TrimSpace(text)
	out = mdBoldPattern.ReplaceAllString(out, "*$1*")
	// ${1} keeps the trailing underscore out of the capture name.
	out = mdItalicPattern.ReplaceAllString(out, "_${1}_")
	out = mdLinkPattern.ReplaceAllString(out, "<$2|$1>")
	out = htmlTagPattern.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

// MessageLooksValid checks the generated copy mentions every celebrated
// person and carries no leaked template placeholders.
func MessageLooksValid(msg string, people []domain.BirthdayPerson) bool {
	if placeholderPattern.MatchString(msg) {
		return false
	}
	for _, person := range people {
		if !strings.Contains(msg, person.Mention()) {
			return false
		}
	}
	return true
}

// FallbackMessage interpolates the personality template with the real
// mention tokens.
func FallbackMessage(p personality.Personality, people []domain.BirthdayPerson) string {
	mentions := make([]string, 0, len(people))
	for _, person := range people {
		mentions = append(mentions, person.Mention())
	}
	return strings.ReplaceAll(p.Fallback, "{mentions}", joinNatural(mentions))
}

// joinNatural renders "a", "a and b", "a, b and c".
func joinNatural(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}
