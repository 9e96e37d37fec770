// Package app wires the whole bot together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	nethttp "net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-limiter/memorystore"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"golang.org/x/sync/errgroup"

	"cakeday/internal/ai"
	"cakeday/internal/commands"
	"cakeday/internal/config"
	"cakeday/internal/dates"
	"cakeday/internal/domain"
	"cakeday/internal/events"
	"cakeday/internal/http"
	"cakeday/internal/observance"
	"cakeday/internal/personality"
	"cakeday/internal/profile"
	"cakeday/internal/scheduler"
	"cakeday/internal/service"
	"cakeday/internal/slack"
	"cakeday/internal/store"
	"cakeday/internal/threads"
)

// unavailableCompleter stands in when no model key is configured; every
// caller already degrades to its template fallback.
type unavailableCompleter struct{}

func (unavailableCompleter) Complete(context.Context, ai.CompletionRequest) (string, ai.Usage, error) {
	return "", ai.Usage{}, domain.E(domain.KindUpstreamRefused, "language model not configured")
}

// App holds the assembled components.
type App struct {
	cfg        config.Config
	logger     *slog.Logger
	server     *nethttp.Server
	scheduler  *scheduler.Scheduler
	dispatcher *events.Dispatcher
	canvas     *service.CanvasService
	tracker    *threads.Tracker
}

// New loads configuration and wires every component.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.App.Environment)
	slog.SetDefault(logger)
	clock := clockwork.NewRealClock()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	st, err := store.New(cfg.Storage.DataDir, cfg.Storage.BackupDir, cfg.Storage.LockTimeout, logger)
	if err != nil {
		return nil, err
	}

	// Slack clients. Socket Mode is optional: without an app token the bot
	// still schedules and serves the ops surface, it just cannot receive
	// events.
	api := slackapi.New(cfg.Slack.BotToken,
		slackapi.OptionAppLevelToken(cfg.Slack.AppToken),
	)
	var client slack.Client = slack.NewAPIClient(api, logger)
	var socket *socketmode.Client
	if cfg.Slack.AppToken != "" {
		socket = socketmode.New(api)
	} else {
		logger.Warn("SLACK_APP_TOKEN not set, event handling disabled")
	}

	resolver := profile.NewResolver(client, st, logger)

	// Language and image models.
	var completer ai.Completer
	var dateNLP dates.DateNLP
	if cfg.AI.AnthropicAPIKey != "" {
		anthropicClient := anthropic.NewClient(option.WithAPIKey(cfg.AI.AnthropicAPIKey))
		completer = ai.NewAnthropicCompleter(anthropicClient, cfg.AI.Model, logger)
		if cfg.AI.NLPDateParsing {
			dateNLP = ai.NewDateExtractor(completer, logger)
		}
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, using template fallbacks for all copy")
		completer = unavailableCompleter{}
	}
	imageGen := ai.NewOpenAIImageClient(cfg.AI.ImageAPIKey, cfg.AI.ImageModel, logger)

	// Observance sources.
	var sources []observance.Source
	for _, spec := range []struct {
		name    domain.ObservanceSourceName
		url     string
		enabled bool
		ttl     time.Duration
	}{
		{domain.SourceUN, cfg.Observance.UNURL, cfg.Observance.UNEnabled, cfg.Observance.UNTTL},
		{domain.SourceUNESCO, cfg.Observance.UNESCOURL, cfg.Observance.UNESCOEnabled, cfg.Observance.UNESCOTTL},
		{domain.SourceWHO, cfg.Observance.WHOURL, cfg.Observance.WHOEnabled, cfg.Observance.WHOTTL},
	} {
		src, err := observance.NewScrapeSource(spec.name, spec.url, spec.enabled, cfg.Storage.CacheDir, spec.ttl, logger)
		if err != nil {
			return nil, fmt.Errorf("build %s source: %w", spec.name, err)
		}
		sources = append(sources, src)
	}
	if cfg.Observance.CalendarificEnabled {
		cal, err := observance.NewCalendarificSource(
			cfg.Observance.CalendarificKey, cfg.Observance.CalendarificCountry, cfg.Observance.CalendarificRegion,
			true, cfg.Observance.MonthlyCallBudget, cfg.Observance.BudgetWarnAt, cfg.Storage.CacheDir, logger)
		if err != nil {
			return nil, fmt.Errorf("build calendarific source: %w", err)
		}
		sources = append(sources, cal)
	}
	aggregator := observance.NewAggregator(sources, func() domain.SpecialDaysConfig {
		sdCfg, err := st.SpecialDaysConfig()
		if err != nil {
			return domain.DefaultSpecialDaysConfig()
		}
		return sdCfg
	}, logger)

	// Core services.
	selector := personality.NewSelector(st, rng)
	messages := service.NewMessageService(completer, logger)
	images := service.NewImageService(imageGen, completer, cfg.AI.UseRefPhoto, cfg.AI.ImageQuality, cfg.AI.ImageSize, logger)
	facts, err := service.NewFactsService(completer, cfg.Storage.CacheDir, logger)
	if err != nil {
		return nil, err
	}
	tracker, err := threads.NewTracker(st, clock, time.Duration(cfg.Engagement.TrackingTTLDays)*24*time.Hour, logger)
	if err != nil {
		return nil, err
	}

	celebrations := service.NewCelebrationService(client, resolver, st, selector, messages, images, facts, tracker, clock,
		cfg.Scheduler.ImageWorkers, cfg.Scheduler.ImageGeneration, logger)
	specials := service.NewSpecialDayService(client, aggregator, messages, st, tracker, logger)
	status := service.NewStatusService(cfg.App.Name, cfg.App.Environment, st, tracker, resolver, aggregator, clock,
		cfg.Scheduler.HeartbeatStale, logger)
	engagement := service.NewEngagementService(client, tracker, cfg.Engagement.MaxReactionsPerThread,
		cfg.Engagement.ThankYouReplies, rng, logger)

	limits, err := memorystore.New(&memorystore.Config{
		Tokens:   uint64(cfg.Engagement.MentionMaxRequests),
		Interval: cfg.Engagement.MentionWindow,
	})
	if err != nil {
		return nil, err
	}
	mentions := service.NewMentionService(completer, st, aggregator, limits, resolver.Username, logger)

	canvasChannel := cfg.Slack.OpsChannel
	if canvasChannel == "" {
		canvasChannel = cfg.Slack.BirthdayChannel
	}
	canvas := service.NewCanvasService(client, st, aggregator, resolver.Username, clock,
		cfg.Canvas.Debounce, cfg.Canvas.UpdateInterval, canvasChannel, cfg.Storage.ExternalBackup, logger)

	// Every birthday mutation refreshes the dashboard and backup.
	st.OnBirthdaysChanged = func(reason string) { canvas.Trigger(reason) }

	cmds := commands.NewHandler(st, resolver, selector, aggregator, celebrations, status, dateNLP, clock,
		cfg.Slack.BirthdayChannel, canvas.Trigger, logger)

	var dispatcher *events.Dispatcher
	if socket != nil {
		dispatcher = events.NewDispatcher(socket, client, cmds, mentions, engagement, st, resolver, dateNLP,
			cfg.Slack.BirthdayChannel, logger)
	}

	sched := scheduler.New(cfg.Scheduler, cfg.Slack.BirthdayChannel, st, resolver, celebrations, specials, facts,
		aggregator, clock, logger)

	httpHandler := http.NewHandler(status, celebrations, canvas, st, cfg.Slack.BirthdayChannel,
		func() string { return store.DateKey(clock.Now()) }, logger)
	server := &nethttp.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           http.NewRouter(httpHandler, cfg.App.Environment, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		server:     server,
		scheduler:  sched,
		dispatcher: dispatcher,
		canvas:     canvas,
		tracker:    tracker,
	}, nil
}

// Run starts every long-lived loop and blocks until the context ends.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("ops server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.cfg.Scheduler.Enabled {
		g.Go(func() error {
			err := a.scheduler.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if a.dispatcher != nil {
		g.Go(func() error {
			err := a.dispatcher.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if a.cfg.Canvas.Enabled {
		g.Go(func() error {
			a.canvas.Run(gctx)
			return nil
		})
		a.canvas.Trigger("startup")
	}

	g.Go(func() error {
		a.tracker.RunSweeper(gctx, time.Hour)
		return nil
	})

	a.logger.Info("cakeday started",
		slog.String("environment", a.cfg.App.Environment),
		slog.Bool("scheduler", a.cfg.Scheduler.Enabled),
		slog.Bool("events", a.dispatcher != nil),
	)
	return g.Wait()
}
