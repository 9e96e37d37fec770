package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	slackapi "github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"cakeday/internal/dates"
	"cakeday/internal/domain"
	"cakeday/internal/personality"
	"cakeday/internal/profile"
	"cakeday/internal/slack"
	"cakeday/internal/store"
	"cakeday/internal/threads"
)

// Stage names one step of the celebration pipeline.
type Stage string

const (
	StagePending      Stage = "pending"
	StageResolving    Stage = "resolving_profiles"
	StageRevalidating Stage = "revalidating"
	StagePersonality  Stage = "selecting_personality"
	StageFacts        Stage = "fetching_facts"
	StageMessage      Stage = "generating_message"
	StageImages       Stage = "generating_images"
	StageUploading    Stage = "uploading_files"
	StagePosting      Stage = "posting"
	StageMarking      Stage = "marking_ledger"
	StageTracking     Stage = "tracking_thread"
	StageDone         Stage = "done"
	StageAborted      Stage = "aborted"
)

const (
	filePollAttempts = 10
	filePollInterval = time.Second
)

// CelebrationResult summarizes one pipeline run.
type CelebrationResult struct {
	RunID         string
	Stage         Stage
	Personality   string
	MessageTS     string
	Celebrated    []string
	Dropped       []string
	ImagesPosted  int
	ImageFailures int
	UsedFallback  bool
}

// CelebrationService runs the announcement pipeline end to end: resolve,
// revalidate, generate, upload, post, mark, track. Image failures degrade
// to text; only a failed post aborts.
type CelebrationService struct {
	client       slack.Client
	resolver     *profile.Resolver
	store        *store.Store
	selector     *personality.Selector
	messages     *MessageService
	images       *ImageService
	facts        *FactsService
	tracker      *threads.Tracker
	clock        clockwork.Clock
	imageWorkers int
	imagesOn     bool
	logger       *slog.Logger
}

func NewCelebrationService(
	client slack.Client,
	resolver *profile.Resolver,
	st *store.Store,
	selector *personality.Selector,
	messages *MessageService,
	images *ImageService,
	facts *FactsService,
	tracker *threads.Tracker,
	clock clockwork.Clock,
	imageWorkers int,
	imagesOn bool,
	logger *slog.Logger,
) *CelebrationService {
	if imageWorkers < 1 {
		imageWorkers = 1
	}
	return &CelebrationService{
		client:       client,
		resolver:     resolver,
		store:        st,
		selector:     selector,
		messages:     messages,
		images:       images,
		facts:        facts,
		tracker:      tracker,
		clock:        clock,
		imageWorkers: imageWorkers,
		imagesOn:     imagesOn,
		logger:       logger,
	}
}

// Celebrate runs the pipeline for one channel and day. dateKey is the
// ledger idempotency key; in test mode the ledger is left untouched.
func (s *CelebrationService) Celebrate(ctx context.Context, req domain.CelebrationRequest, dateKey string) (CelebrationResult, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	result := CelebrationResult{RunID: req.RunID, Stage: StagePending}
	log := s.logger.With(slog.String("run_id", req.RunID), slog.String("channel", req.ChannelID))

	// Anyone already in the ledger for this day is skipped silently, so a
	// manual trigger racing (or following) the scheduled sweep cannot
	// double-post.
	if req.Mode != domain.ModeTest {
		fresh := make([]domain.BirthdayPerson, 0, len(req.People))
		for _, person := range req.People {
			celebrated, err := s.store.IsCelebrated(dateKey, person.Record.UserID)
			if err != nil {
				log.WarnContext(ctx, "ledger read failed, skipping person",
					slog.String("user_id", person.Record.UserID), slog.String("error", err.Error()))
				continue
			}
			if celebrated {
				log.InfoContext(ctx, "already celebrated today, skipping",
					slog.String("user_id", person.Record.UserID))
				continue
			}
			fresh = append(fresh, person)
		}
		req.People = fresh
		if len(req.People) == 0 {
			result.Stage = StageAborted
			return result, nil
		}
	}

	// Resolve profiles for everyone in the request.
	result.Stage = StageResolving
	people := make([]domain.BirthdayPerson, 0, len(req.People))
	for _, person := range req.People {
		resolved, err := s.resolver.Profile(ctx, person.Record.UserID)
		if err != nil {
			log.WarnContext(ctx, "profile resolution failed, dropping person",
				slog.String("user_id", person.Record.UserID), slog.String("error", err.Error()))
			result.Dropped = append(result.Dropped, person.Record.UserID)
			continue
		}
		person.Profile = resolved
		person.Age = dates.Age(person.Record, s.clock.Now())
		person.StarSign = dates.StarSign(person.Record.Day, person.Record.Month)
		person.DateInWords = dates.InWords(person.Record.Day, person.Record.Month)
		people = append(people, person)
	}

	// Revalidate: deactivated records, deleted accounts, bots, and people
	// who have left the channel all drop out here.
	result.Stage = StageRevalidating
	people, dropped := s.revalidate(ctx, req.ChannelID, people)
	result.Dropped = append(result.Dropped, dropped...)
	if len(people) == 0 {
		log.InfoContext(ctx, "no valid birthday people remain, aborting run")
		result.Stage = StageAborted
		return result, nil
	}

	result.Stage = StagePersonality
	voice, err := s.selector.PickForBirthday(ctx, req.PersonalityOverride)
	if err != nil {
		result.Stage = StageAborted
		return result, err
	}
	result.Personality = string(voice.Key)
	log = log.With(slog.String("personality", string(voice.Key)))

	result.Stage = StageFacts
	now := s.clock.Now()
	facts := s.facts.ForDate(ctx, voice, now.Day(), int(now.Month()), now.Year())

	result.Stage = StageMessage
	message, generated := s.messages.BirthdayMessage(ctx, voice, people, facts)
	result.UsedFallback = !generated

	result.Stage = StageImages
	images := s.generateImages(ctx, req, voice, people, message, log)

	// Late-dropout check: membership can change while generation runs. If
	// anyone left, regenerate for the survivors so the copy never mentions
	// a departed person.
	survivors, lateDropped := s.revalidate(ctx, req.ChannelID, people)
	if len(lateDropped) > 0 {
		result.Dropped = append(result.Dropped, lateDropped...)
		if len(survivors) == 0 {
			log.InfoContext(ctx, "everyone dropped out before posting, aborting run")
			result.Stage = StageAborted
			return result, nil
		}
		log.InfoContext(ctx, "late dropout detected, regenerating message",
			slog.Int("dropped", len(lateDropped)), slog.Int("survivors", len(survivors)))
		people = survivors
		message, generated = s.messages.BirthdayMessage(ctx, voice, people, facts)
		result.UsedFallback = !generated
		images = filterImages(images, people)
	}

	result.Stage = StageUploading
	fileIDs := s.uploadImages(ctx, images, log)
	result.ImagesPosted = len(fileIDs)
	result.ImageFailures = len(images) - len(fileIDs)

	result.Stage = StagePosting
	blocks := s.buildBlocks(voice, people, message, images, fileIDs, facts)
	root, continuations := slack.SplitBlocks(blocks)
	ts, err := s.client.PostMessage(ctx, req.ChannelID, message, root)
	if err != nil {
		result.Stage = StageAborted
		return result, domain.Wrap(domain.KindUpstreamTransient, "post celebration", err)
	}
	result.MessageTS = ts
	for _, chunk := range continuations {
		if _, err := s.client.PostThreaded(ctx, req.ChannelID, ts, "", chunk); err != nil {
			log.WarnContext(ctx, "continuation post failed", slog.String("error", err.Error()))
		}
	}

	// The ledger is marked only after the announcement exists, so a failed
	// post never burns the celebration.
	result.Stage = StageMarking
	if req.Mode != domain.ModeTest {
		for _, person := range people {
			newly, err := s.store.MarkCelebrated(ctx, dateKey, person.Record.UserID)
			if err != nil {
				log.ErrorContext(ctx, "ledger mark failed",
					slog.String("user_id", person.Record.UserID), slog.String("error", err.Error()))
				continue
			}
			if !newly {
				log.WarnContext(ctx, "ledger already marked, concurrent run suspected",
					slog.String("user_id", person.Record.UserID))
			}
		}
	}

	result.Stage = StageTracking
	userIDs := make([]string, 0, len(people))
	for _, person := range people {
		userIDs = append(userIDs, person.Record.UserID)
	}
	result.Celebrated = userIDs
	if req.Mode != domain.ModeTest {
		err := s.tracker.Track(ctx, domain.TrackedThread{
			ChannelID:      req.ChannelID,
			ThreadTS:       ts,
			Type:           domain.ThreadBirthday,
			Personality:    string(voice.Key),
			BirthdayPeople: userIDs,
		})
		if err != nil {
			log.WarnContext(ctx, "thread tracking failed", slog.String("error", err.Error()))
		}
	}

	result.Stage = StageDone
	log.InfoContext(ctx, "celebration posted",
		slog.Int("people", len(people)),
		slog.Int("images", result.ImagesPosted),
		slog.Bool("fallback", result.UsedFallback),
	)
	return result, nil
}

// revalidate drops anyone who should no longer be celebrated and returns
// survivors plus the dropped IDs.
func (s *CelebrationService) revalidate(ctx context.Context, channelID string, people []domain.BirthdayPerson) ([]domain.BirthdayPerson, []string) {
	var survivors []domain.BirthdayPerson
	var dropped []string
	for _, person := range people {
		switch {
		case !person.Record.Preferences.Active:
			dropped = append(dropped, person.Record.UserID)
		case person.Profile.IsDeleted || person.Profile.IsBot:
			dropped = append(dropped, person.Record.UserID)
		default:
			member, err := s.resolver.IsChannelMember(ctx, channelID, person.Record.UserID)
			if err != nil {
				// Membership unknown: keep the person rather than silently
				// skipping a birthday.
				s.logger.WarnContext(ctx, "membership check failed, keeping person",
					slog.String("user_id", person.Record.UserID), slog.String("error", err.Error()))
				survivors = append(survivors, person)
				continue
			}
			if !member {
				dropped = append(dropped, person.Record.UserID)
				continue
			}
			survivors = append(survivors, person)
		}
	}
	return survivors, dropped
}

// generateImages fans out per-person artwork over a bounded worker group.
// Failures are logged and skipped; the celebration continues as text.
func (s *CelebrationService) generateImages(ctx context.Context, req domain.CelebrationRequest, voice personality.Personality, people []domain.BirthdayPerson, message string, log *slog.Logger) []GeneratedImage {
	if !s.imagesOn || !req.IncludeImage || req.TextOnly {
		return nil
	}

	var (
		mu     sync.Mutex
		images []GeneratedImage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.imageWorkers)

	for _, person := range people {
		if !person.Record.Preferences.ImageEnabled {
			continue
		}
		person := person
		g.Go(func() error {
			img, err := s.images.ForPerson(gctx, voice, person, message, req.ImageQuality, req.ImageSize)
			if err != nil {
				log.WarnContext(gctx, "image generation failed",
					slog.String("user_id", person.Record.UserID), slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			images = append(images, img)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return images
}

// uploadImages uploads each artwork and polls until the platform has
// processed the file, returning file IDs aligned with the images slice.
func (s *CelebrationService) uploadImages(ctx context.Context, images []GeneratedImage, log *slog.Logger) map[string]string {
	fileIDs := make(map[string]string, len(images))
	for _, img := range images {
		fileID, err := s.client.UploadFile(ctx, img.PNG, img.Filename, img.Caption)
		if err != nil {
			log.WarnContext(ctx, "file upload failed",
				slog.String("user_id", img.UserID), slog.String("error", err.Error()))
			continue
		}
		if !s.waitForFile(ctx, fileID) {
			log.WarnContext(ctx, "file never finished processing, posting without it",
				slog.String("file_id", fileID))
			continue
		}
		fileIDs[img.UserID] = fileID
	}
	return fileIDs
}

func (s *CelebrationService) waitForFile(ctx context.Context, fileID string) bool {
	for attempt := 0; attempt < filePollAttempts; attempt++ {
		info, err := s.client.FileInfo(ctx, fileID)
		if err == nil && info.Mimetype != "" && info.Permalink != "" {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-s.clock.After(filePollInterval):
		}
	}
	return false
}

func (s *CelebrationService) buildBlocks(voice personality.Personality, people []domain.BirthdayPerson, message string, images []GeneratedImage, fileIDs map[string]string, fact string) []slackapi.Block {
	var blocks []slackapi.Block
	blocks = append(blocks, slack.HeaderBlock(headerText(voice, people)))
	blocks = append(blocks, slack.SectionBlock(message))

	fields := make([]string, 0, len(people))
	for _, person := range people {
		field := fmt.Sprintf("*%s*\n%s · %s", person.Profile.PreferredName(), person.DateInWords, person.StarSign)
		if person.Age != nil && person.Record.Preferences.ShowAge {
			field += fmt.Sprintf(" · turning %d", *person.Age)
		}
		fields = append(fields, field)
	}
	// Slack caps a section at ten fields.
	for i := 0; i < len(fields); i += 10 {
		blocks = append(blocks, slack.FieldsBlock(fields[i:min(i+10, len(fields))]))
	}

	captions := make(map[string]string, len(images))
	for _, img := range images {
		captions[img.UserID] = img.Caption
	}
	for _, person := range people {
		fileID, ok := fileIDs[person.Record.UserID]
		if !ok {
			continue
		}
		blocks = append(blocks, slack.ImageByFileBlock(fileID, captions[person.Record.UserID]))
	}

	blocks = append(blocks, slack.DividerBlock())
	if fact != "" {
		blocks = append(blocks, slack.ContextBlock(":scroll: "+fact))
	}
	blocks = append(blocks, slack.ContextBlock(voice.Emoji+" "+voice.DisplayName+" mode"))
	return blocks
}

func headerText(voice personality.Personality, people []domain.BirthdayPerson) string {
	if len(people) == 1 {
		return "Happy Birthday, " + people[0].Profile.PreferredName() + "!"
	}
	if len(people) == 2 {
		return "A Double Dose of Birthdays!"
	}
	return fmt.Sprintf("%d Birthdays Today!", len(people))
}

func filterImages(images []GeneratedImage, people []domain.BirthdayPerson) []GeneratedImage {
	keep := make(map[string]bool, len(people))
	for _, person := range people {
		keep[person.Record.UserID] = true
	}
	out := images[:0]
	for _, img := range images {
		if keep[img.UserID] {
			out = append(out, img)
		}
	}
	return out
}
