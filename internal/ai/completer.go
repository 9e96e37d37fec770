// Package ai holds the language-model and image-model providers. Both are
// consumed through small interfaces so the services can be tested with
// fakes.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"cakeday/internal/domain"
)

// Message is one turn of a completion conversation.
type Message struct {
	Role    string // "user" | "assistant"
	Content string
}

// Usage is returned for logging; the bot keeps no token accounting beyond
// operator-visible logs.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// CompletionRequest bundles one LLM call.
type CompletionRequest struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	UseCase     string // for logging and token-table lookups
}

// Completer is the abstract language model.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, Usage, error)
}

// AnthropicCompleter implements Completer on the Anthropic SDK.
type AnthropicCompleter struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

func NewAnthropicCompleter(client anthropic.Client, model string, logger *slog.Logger) *AnthropicCompleter {
	return &AnthropicCompleter{client: client, model: model, logger: logger}
}

func (c *AnthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (string, Usage, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", Usage{}, domain.Wrap(domain.KindUpstreamTransient, "llm completion", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", Usage{}, domain.E(domain.KindUpstreamTransient, "llm returned empty completion")
	}

	usage := Usage{InputTokens: msg.Usage.InputTokens, OutputTokens: msg.Usage.OutputTokens}
	c.logger.DebugContext(ctx, "llm completion",
		slog.String("use_case", req.UseCase),
		slog.Int64("input_tokens", usage.InputTokens),
		slog.Int64("output_tokens", usage.OutputTokens),
	)
	return text, usage, nil
}

// TokenLimits and Temperatures are the per-use-case tables the message
// generator draws from.
var TokenLimits = map[string]int{
	"birthday_message":    600,
	"special_day_message": 800,
	"mention_answer":      500,
	"image_caption":       120,
	"date_extraction":     200,
}

var Temperatures = map[string]float64{
	"birthday_message":    0.9,
	"special_day_message": 0.7,
	"mention_answer":      0.6,
	"image_caption":       0.8,
	"date_extraction":     0.0,
}

// TokensFor returns the table value with a safe default.
func TokensFor(useCase string) int {
	if v, ok := TokenLimits[useCase]; ok {
		return v
	}
	return 400
}

func TemperatureFor(useCase string) float64 {
	if v, ok := Temperatures[useCase]; ok {
		return v
	}
	return 0.7
}

// ErrorText renders an error for user-facing fallbacks without leaking a
// stack of wrapped causes.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, ':'); i > 0 && i < 40 {
		return msg[:i]
	}
	if len(msg) > 80 {
		return msg[:80]
	}
	return fmt.Sprintf("%s", msg)
}
