package service

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"

	"cakeday/internal/slack"
	"cakeday/internal/threads"
)

// reactionPools maps message keywords to candidate emoji reactions. The
// first matching pool wins; unmatched messages draw from the default pool.
var reactionPools = []struct {
	keywords []string
	emoji    []string
}{
	{[]string{"happy birthday", "hbd", "congrats", "congratulations"}, []string{"tada", "birthday", "partying_face", "confetti_ball"}},
	{[]string{"cake", "dessert", "sweet"}, []string{"cake", "cupcake", "birthday"}},
	{[]string{"love", "heart", "best"}, []string{"heart", "sparkling_heart", "two_hearts"}},
	{[]string{"cheers", "toast", "drinks"}, []string{"clinking_glasses", "champagne", "beers"}},
	{[]string{"old", "age", "young"}, []string{"joy", "hourglass_flowing_sand", "baby"}},
}

var defaultReactions = []string{"tada", "sparkles", "raised_hands", "clap", "heart"}

var thankYouMarkers = []string{"thank you", "thanks", "thx", "ty bot", "cheers bot"}

// EngagementService reacts to replies in tracked announcement threads and
// optionally answers direct thanks.
type EngagementService struct {
	client      slack.Client
	tracker     *threads.Tracker
	reactionCap int
	thankYouOn  bool
	logger      *slog.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

func NewEngagementService(client slack.Client, tracker *threads.Tracker, reactionCap int, thankYouOn bool, rng *rand.Rand, logger *slog.Logger) *EngagementService {
	return &EngagementService{
		client:      client,
		tracker:     tracker,
		reactionCap: reactionCap,
		thankYouOn:  thankYouOn,
		logger:      logger,
		rand:        rng,
	}
}

// HandleThreadReply processes one human reply inside a thread. Untracked or
// expired threads are ignored, as are replies from the people being
// celebrated in that thread.
func (s *EngagementService) HandleThreadReply(ctx context.Context, channelID, threadTS, messageTS, userID, text string) {
	thread, ok := s.tracker.Get(channelID, threadTS)
	if !ok {
		return
	}
	for _, id := range thread.BirthdayPeople {
		if id == userID {
			return
		}
	}
	if thread.ReactionsCount >= s.reactionCap {
		s.logger.DebugContext(ctx, "thread reaction cap reached", slog.String("key", thread.Key()))
		return
	}

	emoji := s.pickReaction(text)
	if err := s.client.AddReaction(ctx, channelID, messageTS, emoji); err != nil {
		// A failed reaction must not burn cap budget.
		s.logger.WarnContext(ctx, "reaction failed",
			slog.String("emoji", emoji), slog.String("error", err.Error()))
		return
	}
	if _, err := s.tracker.IncrementReactions(ctx, channelID, threadTS, s.reactionCap); err != nil {
		s.logger.WarnContext(ctx, "reaction accounting failed", slog.String("error", err.Error()))
	}

	if s.thankYouOn && isThankYou(text) {
		reply := "You're welcome, <@" + userID + ">! :blush:"
		if _, err := s.client.PostThreaded(ctx, channelID, threadTS, reply, nil); err != nil {
			s.logger.WarnContext(ctx, "thank-you reply failed", slog.String("error", err.Error()))
			return
		}
		if err := s.tracker.IncrementResponses(ctx, channelID, threadTS); err != nil {
			s.logger.WarnContext(ctx, "response accounting failed", slog.String("error", err.Error()))
		}
	}
}

func (s *EngagementService) pickReaction(text string) string {
	pool := matchPool(text)
	s.mu.Lock()
	defer s.mu.Unlock()
	return pool[s.rand.Intn(len(pool))]
}

func matchPool(text string) []string {
	lower := strings.ToLower(text)
	for _, candidate := range reactionPools {
		for _, kw := range candidate.keywords {
			if strings.Contains(lower, kw) {
				return candidate.emoji
			}
		}
	}
	return defaultReactions
}

func isThankYou(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range thankYouMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
