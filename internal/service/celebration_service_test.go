package service

import (
	"context"
	"strings"
	"testing"

	slackapi "github.com/slack-go/slack"

	"cakeday/internal/domain"
)

func TestSingleBirthdayCelebration(t *testing.T) {
	client := newRecordingClient("U1")
	fx := newPipeline(t, client)
	ctx := context.Background()

	result, err := fx.service.Celebrate(ctx, domain.CelebrationRequest{
		ChannelID:    "C1",
		People:       []domain.BirthdayPerson{{Record: testRecord("U1", 15, 3)}},
		Mode:         domain.ModeProduction,
		IncludeImage: false,
	}, "2026-03-15")
	if err != nil {
		t.Fatalf("celebrate: %v", err)
	}

	if result.Stage != StageDone {
		t.Fatalf("expected done, got %s", result.Stage)
	}
	if client.postCount() != 1 {
		t.Fatalf("expected exactly one post, got %d", client.postCount())
	}
	if !strings.Contains(client.lastPost().text, "<@U1>") {
		t.Fatalf("message does not mention the birthday person: %q", client.lastPost().text)
	}
	if result.UsedFallback {
		t.Fatalf("expected generated message, got fallback")
	}

	celebrated, err := fx.store.IsCelebrated("2026-03-15", "U1")
	if err != nil || !celebrated {
		t.Fatalf("expected ledger mark after post, got %v (%v)", celebrated, err)
	}
}

func TestConsolidatedCelebrationMentionsEveryone(t *testing.T) {
	client := newRecordingClient("U1", "U2")
	fx := newPipeline(t, client)
	ctx := context.Background()

	result, err := fx.service.Celebrate(ctx, domain.CelebrationRequest{
		ChannelID: "C1",
		People: []domain.BirthdayPerson{
			{Record: testRecord("U1", 15, 3)},
			{Record: testRecord("U2", 15, 3)},
		},
		Mode: domain.ModeProduction,
	}, "2026-03-15")
	if err != nil {
		t.Fatalf("celebrate: %v", err)
	}

	if client.postCount() != 1 {
		t.Fatalf("expected one consolidated post, got %d", client.postCount())
	}
	text := client.lastPost().text
	for _, mention := range []string{"<@U1>", "<@U2>"} {
		if !strings.Contains(text, mention) {
			t.Fatalf("consolidated message missing %s: %q", mention, text)
		}
	}
	if len(result.Celebrated) != 2 {
		t.Fatalf("expected both celebrated, got %v", result.Celebrated)
	}
}

func TestLateDropoutRegeneratesMessage(t *testing.T) {
	client := newRecordingClient("U1", "U2")
	// First membership check passes for both; U2 vanishes before the
	// pre-post revalidation.
	client.dropAfter = 2
	client.dropUser = "U2"
	fx := newPipeline(t, client)
	ctx := context.Background()

	result, err := fx.service.Celebrate(ctx, domain.CelebrationRequest{
		ChannelID: "C1",
		People: []domain.BirthdayPerson{
			{Record: testRecord("U1", 15, 3)},
			{Record: testRecord("U2", 15, 3)},
		},
		Mode: domain.ModeProduction,
	}, "2026-03-15")
	if err != nil {
		t.Fatalf("celebrate: %v", err)
	}

	if result.Stage != StageDone {
		t.Fatalf("expected done, got %s", result.Stage)
	}
	text := client.lastPost().text
	if strings.Contains(text, "<@U2>") {
		t.Fatalf("posted message mentions the departed person: %q", text)
	}
	if !strings.Contains(text, "<@U1>") {
		t.Fatalf("posted message missing the surviving person: %q", text)
	}

	if celebrated, _ := fx.store.IsCelebrated("2026-03-15", "U2"); celebrated {
		t.Fatalf("departed person must not get a ledger mark")
	}
	if celebrated, _ := fx.store.IsCelebrated("2026-03-15", "U1"); !celebrated {
		t.Fatalf("surviving person missing a ledger mark")
	}
}

func TestAllDroppedAborts(t *testing.T) {
	client := newRecordingClient() // nobody in the channel
	fx := newPipeline(t, client)

	result, err := fx.service.Celebrate(context.Background(), domain.CelebrationRequest{
		ChannelID: "C1",
		People:    []domain.BirthdayPerson{{Record: testRecord("U1", 15, 3)}},
		Mode:      domain.ModeProduction,
	}, "2026-03-15")
	if err != nil {
		t.Fatalf("celebrate: %v", err)
	}
	if result.Stage != StageAborted {
		t.Fatalf("expected aborted run, got %s", result.Stage)
	}
	if client.postCount() != 0 {
		t.Fatalf("aborted run must not post, got %d posts", client.postCount())
	}
}

func TestImageFailureDegradesToText(t *testing.T) {
	client := newRecordingClient("U1")
	fx := newPipeline(t, client)
	fx.imageGen.fail = true

	result, err := fx.service.Celebrate(context.Background(), domain.CelebrationRequest{
		ChannelID:    "C1",
		People:       []domain.BirthdayPerson{{Record: testRecord("U1", 15, 3)}},
		Mode:         domain.ModeProduction,
		IncludeImage: true,
	}, "2026-03-15")
	if err != nil {
		t.Fatalf("celebrate: %v", err)
	}

	if result.Stage != StageDone {
		t.Fatalf("image failure must not abort the run, got %s", result.Stage)
	}
	if result.ImagesPosted != 0 {
		t.Fatalf("expected no images posted, got %d", result.ImagesPosted)
	}
	if client.postCount() != 1 {
		t.Fatalf("expected the text post to land, got %d", client.postCount())
	}
}

func TestCompleterFailureUsesFallback(t *testing.T) {
	client := newRecordingClient("U1")
	fx := newPipeline(t, client)
	fx.completer.fail = true

	result, err := fx.service.Celebrate(context.Background(), domain.CelebrationRequest{
		ChannelID: "C1",
		People:    []domain.BirthdayPerson{{Record: testRecord("U1", 15, 3)}},
		Mode:      domain.ModeProduction,
	}, "2026-03-15")
	if err != nil {
		t.Fatalf("celebrate: %v", err)
	}

	if !result.UsedFallback {
		t.Fatalf("expected template fallback when generation fails")
	}
	text := client.lastPost().text
	if !strings.Contains(text, "<@U1>") {
		t.Fatalf("fallback missing mention interpolation: %q", text)
	}
	if strings.Contains(text, "{mentions}") {
		t.Fatalf("fallback leaked its placeholder: %q", text)
	}
}

func TestSecondTriggerSameDayIsSuppressed(t *testing.T) {
	client := newRecordingClient("U1")
	fx := newPipeline(t, client)
	ctx := context.Background()

	req := domain.CelebrationRequest{
		ChannelID: "C1",
		People:    []domain.BirthdayPerson{{Record: testRecord("U1", 15, 3)}},
		Mode:      domain.ModeProduction,
	}
	first, err := fx.service.Celebrate(ctx, req, "2026-03-15")
	if err != nil || first.Stage != StageDone {
		t.Fatalf("first run: stage %s, err %v", first.Stage, err)
	}

	// A manual trigger after the sweep has marked the ledger must be a
	// silent no-op.
	second, err := fx.service.Celebrate(ctx, req, "2026-03-15")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Stage != StageAborted {
		t.Fatalf("expected the repeat trigger to abort, got %s", second.Stage)
	}
	if client.postCount() != 1 {
		t.Fatalf("user celebrated %d times on one day", client.postCount())
	}
}

func TestAnnouncementBlocksCarryFieldsAndFact(t *testing.T) {
	client := newRecordingClient("U1")
	fx := newPipeline(t, client)

	// The poet voice asks for historical facts, so the footer must carry one.
	result, err := fx.service.Celebrate(context.Background(), domain.CelebrationRequest{
		ChannelID:           "C1",
		People:              []domain.BirthdayPerson{{Record: testRecord("U1", 15, 3)}},
		Mode:                domain.ModeProduction,
		PersonalityOverride: "poet",
	}, "2026-03-15")
	if err != nil || result.Stage != StageDone {
		t.Fatalf("celebrate: stage %s, err %v", result.Stage, err)
	}

	var fieldsSeen, factSeen bool
	for _, b := range client.lastPost().blocks {
		switch blk := b.(type) {
		case *slackapi.SectionBlock:
			if len(blk.Fields) > 0 {
				fieldsSeen = true
			}
		case *slackapi.ContextBlock:
			for _, el := range blk.ContextElements.Elements {
				if txt, ok := el.(*slackapi.TextBlockObject); ok && strings.Contains(txt.Text, "test suite passed") {
					factSeen = true
				}
			}
		}
	}
	if !fieldsSeen {
		t.Fatalf("announcement missing the per-person fields block")
	}
	if !factSeen {
		t.Fatalf("announcement footer missing the historical fact")
	}
}

func TestTestModeSkipsLedger(t *testing.T) {
	client := newRecordingClient("U1")
	fx := newPipeline(t, client)

	_, err := fx.service.Celebrate(context.Background(), domain.CelebrationRequest{
		ChannelID: "C1",
		People:    []domain.BirthdayPerson{{Record: testRecord("U1", 15, 3)}},
		Mode:      domain.ModeTest,
	}, "2026-03-15")
	if err != nil {
		t.Fatalf("celebrate: %v", err)
	}

	if client.postCount() != 1 {
		t.Fatalf("test mode should still post, got %d", client.postCount())
	}
	if celebrated, _ := fx.store.IsCelebrated("2026-03-15", "U1"); celebrated {
		t.Fatalf("test mode must leave the ledger untouched")
	}
}
