// Package events consumes the Socket Mode stream and routes each event to
// the right behavior: mentions, thread replies, DM date intake, membership
// changes, and slash commands.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"cakeday/internal/commands"
	"cakeday/internal/dates"
	"cakeday/internal/domain"
	"cakeday/internal/profile"
	"cakeday/internal/service"
	"cakeday/internal/slack"
	"cakeday/internal/store"
)

// maxConcurrentEvents bounds the handler goroutines so a burst of events
// cannot exhaust the process.
const maxConcurrentEvents = 16

// Dispatcher reads the socket stream, acks promptly, and hands each event
// to a bounded worker.
type Dispatcher struct {
	socket     *socketmode.Client
	client     slack.Client
	commands   *commands.Handler
	mentions   *service.MentionService
	engagement *service.EngagementService
	store      *store.Store
	resolver   *profile.Resolver
	nlp        dates.DateNLP
	channelID  string
	logger     *slog.Logger

	sem chan struct{}
}

func NewDispatcher(
	socket *socketmode.Client,
	client slack.Client,
	cmds *commands.Handler,
	mentions *service.MentionService,
	engagement *service.EngagementService,
	st *store.Store,
	resolver *profile.Resolver,
	nlp dates.DateNLP,
	channelID string,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		socket:     socket,
		client:     client,
		commands:   cmds,
		mentions:   mentions,
		engagement: engagement,
		store:      st,
		resolver:   resolver,
		nlp:        nlp,
		channelID:  channelID,
		logger:     logger,
		sem:        make(chan struct{}, maxConcurrentEvents),
	}
}

// Run consumes until the context ends. The socket client reconnects on its
// own; this loop only routes.
func (d *Dispatcher) Run(ctx context.Context) error {
	go func() {
		if err := d.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			d.logger.ErrorContext(ctx, "socket mode stopped", slog.String("error", err.Error()))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-d.socket.Events:
			if !ok {
				return fmt.Errorf("socket event stream closed")
			}
			d.route(ctx, evt)
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		d.logger.InfoContext(ctx, "socket mode connected")
	case socketmode.EventTypeConnectionError:
		d.logger.WarnContext(ctx, "socket mode connection error")
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			d.socket.Ack(*evt.Request)
		}
		d.spawn(ctx, func(ctx context.Context) { d.handleEventsAPI(ctx, apiEvent) })
	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slackapi.SlashCommand)
		if !ok {
			return
		}
		// Slash commands must be acked with the reply within the platform
		// deadline, so they run inline rather than in a worker.
		d.ackSlashCommand(ctx, evt, cmd)
	case socketmode.EventTypeInteractive:
		if evt.Request != nil {
			d.socket.Ack(*evt.Request)
		}
	}
}

// spawn runs fn in a bounded goroutine; when the pool is saturated the
// event is dropped with a log line rather than blocking the stream.
func (d *Dispatcher) spawn(ctx context.Context, fn func(context.Context)) {
	select {
	case d.sem <- struct{}{}:
	default:
		d.logger.WarnContext(ctx, "event worker pool saturated, dropping event")
		return
	}
	go func() {
		defer func() { <-d.sem }()
		handlerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		fn(handlerCtx)
	}()
}

func (d *Dispatcher) handleEventsAPI(ctx context.Context, apiEvent slackevents.EventsAPIEvent) {
	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		d.handleMention(ctx, ev)
	case *slackevents.MessageEvent:
		d.handleMessage(ctx, ev)
	case *slackevents.MemberLeftChannelEvent:
		d.handleMemberLeft(ctx, ev)
	}
}

func (d *Dispatcher) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	botID, err := d.client.BotUserID(ctx)
	if err == nil && ev.User == botID {
		return
	}

	question := stripMention(ev.Text)
	reply := d.mentions.Answer(ctx, ev.User, question, time.Now())

	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}
	if _, err := d.client.PostThreaded(ctx, ev.Channel, threadTS, reply, nil); err != nil {
		d.logger.WarnContext(ctx, "mention reply failed", slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.SubType != "" && ev.SubType != "file_share" {
		return
	}
	botID, err := d.client.BotUserID(ctx)
	if err == nil && (ev.User == botID || ev.BotID != "") {
		return
	}

	switch {
	case ev.ChannelType == "im":
		d.handleDM(ctx, ev)
	case ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp:
		d.engagement.HandleThreadReply(ctx, ev.Channel, ev.ThreadTimeStamp, ev.TimeStamp, ev.User, ev.Text)
	}
}

// handleDM treats a direct message as birthday-date intake.
func (d *Dispatcher) handleDM(ctx context.Context, ev *slackevents.MessageEvent) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	parsed, err := dates.ParseWithNLP(ctx, text, d.nlp, time.Now())
	if err != nil {
		reply := "Hi! DM me your birthday as `DD/MM` (or `DD/MM/YYYY` if you'd like your age celebrated)."
		if domain.KindOf(err) == domain.KindInputInvalid && looksLikeDateAttempt(text) {
			reply = "Hmm, I couldn't read that date: " + err.Error() + "\nTry `25/12` or `14/7/1990`."
		}
		if _, err := d.client.PostMessage(ctx, ev.Channel, reply, nil); err != nil {
			d.logger.WarnContext(ctx, "dm reply failed", slog.String("error", err.Error()))
		}
		return
	}

	rec := domain.BirthdayRecord{
		UserID:      ev.User,
		Day:         parsed.Day,
		Month:       parsed.Month,
		Year:        parsed.Year,
		Preferences: domain.DefaultPreferences(),
	}
	if existing, err := d.store.Birthday(ev.User); err == nil {
		rec.Preferences = existing.Preferences
		rec.CreatedAt = existing.CreatedAt
	}
	if err := d.store.SaveBirthday(ctx, rec, "dm intake"); err != nil {
		d.logger.ErrorContext(ctx, "dm birthday save failed", slog.String("error", err.Error()))
		return
	}

	reply := fmt.Sprintf("Saved! %s :birthday:", dates.InWords(parsed.Day, parsed.Month))
	if _, err := d.client.PostMessage(ctx, ev.Channel, reply, nil); err != nil {
		d.logger.WarnContext(ctx, "dm confirmation failed", slog.String("error", err.Error()))
	}
}

// handleMemberLeft soft-deactivates the birthday record so a returning
// colleague keeps their data.
func (d *Dispatcher) handleMemberLeft(ctx context.Context, ev *slackevents.MemberLeftChannelEvent) {
	if ev.Channel != d.channelID {
		return
	}
	d.resolver.Invalidate(ev.User)

	err := d.store.SetBirthdayActive(ctx, ev.User, false, "left channel")
	if err != nil && err != store.ErrNotFound {
		d.logger.WarnContext(ctx, "deactivation failed", slog.String("user_id", ev.User), slog.String("error", err.Error()))
		return
	}
	if err == nil {
		d.logger.InfoContext(ctx, "birthday deactivated after channel exit", slog.String("user_id", ev.User))
		d.sendDepartureNote(ctx, ev.User)
	}
}

// sendDepartureNote tells the departing person their record is paused, not
// deleted. Best effort; the DM fails when they left the workspace entirely.
func (d *Dispatcher) sendDepartureNote(ctx context.Context, userID string) {
	dm, err := d.client.OpenDM(ctx, userID)
	if err != nil {
		d.logger.DebugContext(ctx, "departure dm unavailable", slog.String("user_id", userID), slog.String("error", err.Error()))
		return
	}
	note := "You've left the celebration channel, so I've paused your birthday. " +
		"Your date is still on file — rejoin and `/birthday resume` any time. :wave:"
	if _, err := d.client.PostMessage(ctx, dm, note, nil); err != nil {
		d.logger.DebugContext(ctx, "departure dm failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) ackSlashCommand(ctx context.Context, evt socketmode.Event, cmd slackapi.SlashCommand) {
	var reply commands.Reply
	switch cmd.Command {
	case "/birthday":
		reply = d.commands.Birthday(ctx, cmd.UserID, cmd.Text)
	case "/special-day":
		reply = d.commands.SpecialDay(ctx, cmd.UserID, cmd.Text)
	default:
		reply.Text = "I don't handle `" + cmd.Command + "`."
	}

	if evt.Request != nil {
		payload := map[string]any{
			"response_type": "ephemeral",
			"text":          reply.Text,
		}
		if len(reply.Blocks) > 0 {
			payload["blocks"] = reply.Blocks
		}
		d.socket.Ack(*evt.Request, payload)
	}
}

// stripMention removes the leading bot mention from the text.
func stripMention(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "<@") {
		if end := strings.Index(trimmed, ">"); end > 0 {
			trimmed = strings.TrimSpace(trimmed[end+1:])
		}
	}
	return trimmed
}

// looksLikeDateAttempt guards against lecturing people who were just
// saying hello.
func looksLikeDateAttempt(text string) bool {
	for _, r := range text {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
