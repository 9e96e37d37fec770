package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cakeday/internal/ai"
	"cakeday/internal/domain"
	"cakeday/internal/personality"
)

// GeneratedImage is one finished artwork for one birthday person.
type GeneratedImage struct {
	UserID   string
	PNG      []byte
	Filename string
	Caption  string
}

// ImageService renders per-person birthday artwork from the personality's
// image prompt template.
type ImageService struct {
	generator   ai.ImageGenerator
	completer   ai.Completer
	useRefPhoto bool
	quality     string
	size        string
	logger      *slog.Logger
}

func NewImageService(generator ai.ImageGenerator, completer ai.Completer, useRefPhoto bool, quality, size string, logger *slog.Logger) *ImageService {
	return &ImageService{
		generator:   generator,
		completer:   completer,
		useRefPhoto: useRefPhoto,
		quality:     quality,
		size:        size,
		logger:      logger,
	}
}

// ForPerson generates the artwork and a short caption for one person. The
// message text provides context so image and copy feel related.
func (s *ImageService) ForPerson(ctx context.Context, p personality.Personality, person domain.BirthdayPerson, messageText, quality, size string) (GeneratedImage, error) {
	prompt := BuildImagePrompt(p, person, messageText)

	req := ai.ImageRequest{
		Prompt:  prompt,
		Quality: firstNonEmpty(quality, s.quality),
		Size:    firstNonEmpty(size, s.size),
	}
	if s.useRefPhoto {
		req.ReferenceURL = person.Profile.BestPhotoURL()
	}

	result, err := s.generator.Generate(ctx, req)
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("generate image for %s: %w", person.Record.UserID, err)
	}

	img := GeneratedImage{
		UserID:   person.Record.UserID,
		PNG:      result.PNG,
		Filename: fmt.Sprintf("birthday_%s.png", person.Record.UserID),
		Caption:  s.caption(ctx, p, person),
	}
	return img, nil
}

// caption asks the model for one line; failures degrade to a static line.
func (s *ImageService) caption(ctx context.Context, p personality.Personality, person domain.BirthdayPerson) string {
	raw, _, err := s.completer.Complete(ctx, ai.CompletionRequest{
		System: "Write a single short caption (under 15 words) for a birthday artwork, " +
			"in this voice:\n" + p.StyleExtension,
		Messages:    []ai.Message{{Role: "user", Content: "Caption for " + person.Profile.PreferredName() + "'s birthday artwork."}},
		MaxTokens:   ai.TokensFor("image_caption"),
		Temperature: ai.TemperatureFor("image_caption"),
		UseCase:     "image_caption",
	})
	if err != nil {
		s.logger.DebugContext(ctx, "caption generation failed", slog.String("error", err.Error()))
		return fmt.Sprintf("Happy birthday, %s! %s", person.Profile.PreferredName(), p.Emoji)
	}
	return strings.Trim(NormalizeMrkdwn(raw), `"`)
}

// BuildImagePrompt expands the personality's template placeholders.
func BuildImagePrompt(p personality.Personality, person domain.BirthdayPerson, messageText string) string {
	title := ""
	if person.Profile.Title != "" {
		title = ", " + person.Profile.Title
	}

	var elements []string
	if person.StarSign != "" {
		elements = append(elements, "star sign "+person.StarSign)
	}
	for k, v := range person.Profile.CustomFields {
		elements = append(elements, k+": "+v)
	}
	profileElements := ""
	if len(elements) > 0 {
		profileElements = "Personal touches: " + strings.Join(elements, "; ") + "."
	}

	context := ""
	if messageText != "" {
		context = "The celebration message says: " + truncate(messageText, 280) + "."
	}

	prompt := p.ImagePrompt
	prompt = strings.ReplaceAll(prompt, "{name}", person.Profile.PreferredName())
	prompt = strings.ReplaceAll(prompt, "{title}", title)
	prompt = strings.ReplaceAll(prompt, "{message_context}", context)
	prompt = strings.ReplaceAll(prompt, "{profile_elements}", profileElements)
	return strings.Join(strings.Fields(prompt), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
