package service

import (
	"context"
	"log/slog"
	"math/rand"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	slackapi "github.com/slack-go/slack"

	"cakeday/internal/ai"
	"cakeday/internal/domain"
	"cakeday/internal/personality"
	"cakeday/internal/profile"
	"cakeday/internal/slack"
	"cakeday/internal/store"
	"cakeday/internal/threads"
)

var testMentionPattern = regexp.MustCompile(`<@U[A-Z0-9]+>`)

// fakeCompleter echoes every mention token it finds in the prompt, which
// satisfies the mention sanity check for any set of people.
type fakeCompleter struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeCompleter) Complete(_ context.Context, req ai.CompletionRequest) (string, ai.Usage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.UseCase)
	f.mu.Unlock()
	if f.fail {
		return "", ai.Usage{}, domain.E(domain.KindUpstreamTransient, "fake completer down")
	}

	switch req.UseCase {
	case "date_facts":
		return `["On this day the test suite passed."]`, ai.Usage{}, nil
	case "image_caption":
		return "A fine caption", ai.Usage{}, nil
	}

	var mentions []string
	for _, m := range req.Messages {
		mentions = append(mentions, testMentionPattern.FindAllString(m.Content, -1)...)
	}
	if len(mentions) == 0 {
		return "A lovely day to all!", ai.Usage{}, nil
	}
	return "Happy birthday " + strings.Join(mentions, " ") + "! :tada:", ai.Usage{}, nil
}

func (f *fakeCompleter) callCount(useCase string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == useCase {
			n++
		}
	}
	return n
}

// fakeImageGen returns a tiny payload without touching any API.
type fakeImageGen struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeImageGen) Generate(_ context.Context, _ ai.ImageRequest) (ai.ImageResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return ai.ImageResult{}, domain.E(domain.KindUpstreamTransient, "fake image gen down")
	}
	return ai.ImageResult{PNG: []byte("png-bytes")}, nil
}

// recordingClient extends the noop client with controllable membership and
// a record of posted messages.
type recordingClient struct {
	*slack.NoopClient

	mu          sync.Mutex
	members     []string
	memberCalls int
	// dropAfter removes dropUser from membership once memberCalls exceeds it.
	dropAfter int
	dropUser  string
	posts     []recordedPost
}

type recordedPost struct {
	channelID string
	text      string
	blocks    []slackapi.Block
}

func newRecordingClient(members ...string) *recordingClient {
	return &recordingClient{
		NoopClient: slack.NewNoopClient(slog.Default()),
		members:    members,
		dropAfter:  -1,
	}
}

func (c *recordingClient) ConversationMembers(_ context.Context, _ string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memberCalls++
	out := make([]string, 0, len(c.members))
	for _, m := range c.members {
		if c.dropAfter >= 0 && c.memberCalls > c.dropAfter && m == c.dropUser {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *recordingClient) PostMessage(ctx context.Context, channelID, text string, blocks []slackapi.Block) (string, error) {
	c.mu.Lock()
	c.posts = append(c.posts, recordedPost{channelID: channelID, text: text, blocks: blocks})
	c.mu.Unlock()
	return c.NoopClient.PostMessage(ctx, channelID, text, blocks)
}

func (c *recordingClient) postCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.posts)
}

func (c *recordingClient) lastPost() recordedPost {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.posts[len(c.posts)-1]
}

type pipelineFixture struct {
	client    *recordingClient
	store     *store.Store
	completer *fakeCompleter
	imageGen  *fakeImageGen
	clock     *clockwork.FakeClock
	service   *CelebrationService
}

func newPipeline(t *testing.T, client *recordingClient) *pipelineFixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "storage"), filepath.Join(dir, "backups"), 10*time.Second, slog.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 15, 9, 5, 0, 0, time.UTC))
	completer := &fakeCompleter{}
	imageGen := &fakeImageGen{}

	resolver := profile.NewResolver(client, st, slog.Default())
	selector := personality.NewSelector(st, rand.New(rand.NewSource(7)))
	messages := NewMessageService(completer, slog.Default())
	images := NewImageService(imageGen, completer, false, "medium", "1024x1024", slog.Default())
	facts, err := NewFactsService(completer, filepath.Join(dir, "cache"), slog.Default())
	if err != nil {
		t.Fatalf("new facts service: %v", err)
	}
	tracker, err := threads.NewTracker(st, clock, 72*time.Hour, slog.Default())
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}

	svc := NewCelebrationService(client, resolver, st, selector, messages, images, facts, tracker, clock, 4, true, slog.Default())
	return &pipelineFixture{
		client:    client,
		store:     st,
		completer: completer,
		imageGen:  imageGen,
		clock:     clock,
		service:   svc,
	}
}

func testRecord(userID string, day, month int) domain.BirthdayRecord {
	return domain.BirthdayRecord{
		UserID:      userID,
		Day:         day,
		Month:       month,
		Preferences: domain.DefaultPreferences(),
	}
}
