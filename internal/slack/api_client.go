package slack

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	slackapi "github.com/slack-go/slack"
)

// APIClient implements Client against the real Slack API.
type APIClient struct {
	api    *slackapi.Client
	logger *slog.Logger

	mu        sync.Mutex
	botUserID string
}

func NewAPIClient(api *slackapi.Client, logger *slog.Logger) *APIClient {
	return &APIClient{api: api, logger: logger}
}

func (c *APIClient) PostMessage(ctx context.Context, channelID, text string, blocks []slackapi.Block) (string, error) {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, slackapi.MsgOptionBlocks(blocks...))
	}

	_, ts, err := c.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		c.logger.ErrorContext(ctx, "slack post message failed", slog.String("channel_id", channelID), slog.String("error", err.Error()))
		return "", fmt.Errorf("post message: %w", err)
	}
	return ts, nil
}

func (c *APIClient) PostThreaded(ctx context.Context, channelID, threadTS, text string, blocks []slackapi.Block) (string, error) {
	opts := []slackapi.MsgOption{
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionTS(threadTS),
	}
	if len(blocks) > 0 {
		opts = append(opts, slackapi.MsgOptionBlocks(blocks...))
	}

	_, ts, err := c.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("post threaded message: %w", err)
	}
	return ts, nil
}

// UploadFile uploads privately (no channel share); the pipeline embeds the
// file into blocks by ID after processing finishes.
func (c *APIClient) UploadFile(ctx context.Context, data []byte, filename, title string) (string, error) {
	summary, err := c.api.UploadFileV2Context(ctx, slackapi.UploadFileV2Parameters{
		Reader:   bytes.NewReader(data),
		FileSize: len(data),
		Filename: filename,
		Title:    title,
	})
	if err != nil {
		return "", fmt.Errorf("upload file %s: %w", filename, err)
	}
	return summary.ID, nil
}

func (c *APIClient) FileInfo(ctx context.Context, fileID string) (FileInfo, error) {
	file, _, _, err := c.api.GetFileInfoContext(ctx, fileID, 0, 0)
	if err != nil {
		return FileInfo{}, fmt.Errorf("files.info %s: %w", fileID, err)
	}
	return FileInfo{Mimetype: file.Mimetype, Permalink: file.Permalink}, nil
}

// AddReaction treats already_reacted as success.
func (c *APIClient) AddReaction(ctx context.Context, channelID, ts, name string) error {
	err := c.api.AddReactionContext(ctx, name, slackapi.ItemRef{Channel: channelID, Timestamp: ts})
	if err != nil && !strings.Contains(err.Error(), "already_reacted") {
		return fmt.Errorf("add reaction %s: %w", name, err)
	}
	return nil
}

func (c *APIClient) UserInfo(ctx context.Context, userID string) (*slackapi.User, error) {
	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("users.info %s: %w", userID, err)
	}
	return user, nil
}

func (c *APIClient) UserProfile(ctx context.Context, userID string) (*slackapi.UserProfile, error) {
	profile, err := c.api.GetUserProfileContext(ctx, &slackapi.GetUserProfileParameters{UserID: userID, IncludeLabels: true})
	if err != nil {
		return nil, fmt.Errorf("users.profile.get %s: %w", userID, err)
	}
	return profile, nil
}

// ConversationMembers paginates until the cursor is exhausted.
func (c *APIClient) ConversationMembers(ctx context.Context, channelID string) ([]string, error) {
	members := make([]string, 0, 64)
	cursor := ""
	for {
		page, next, err := c.api.GetUsersInConversationContext(ctx, &slackapi.GetUsersInConversationParameters{
			ChannelID: channelID,
			Cursor:    cursor,
			Limit:     200,
		})
		if err != nil {
			return nil, fmt.Errorf("conversations.members %s: %w", channelID, err)
		}
		members = append(members, page...)
		if next == "" {
			return members, nil
		}
		cursor = next
	}
}

func (c *APIClient) OpenDM(ctx context.Context, userID string) (string, error) {
	channel, _, _, err := c.api.OpenConversationContext(ctx, &slackapi.OpenConversationParameters{Users: []string{userID}})
	if err != nil {
		return "", fmt.Errorf("conversations.open %s: %w", userID, err)
	}
	return channel.ID, nil
}

func (c *APIClient) CreateCanvas(ctx context.Context, title, markdown string) (string, error) {
	canvasID, err := c.api.CreateCanvasContext(ctx, title, slackapi.DocumentContent{
		Type:     "markdown",
		Markdown: markdown,
	})
	if err != nil {
		return "", fmt.Errorf("canvases.create: %w", err)
	}
	return canvasID, nil
}

func (c *APIClient) EditCanvas(ctx context.Context, canvasID, markdown string) error {
	err := c.api.EditCanvasContext(ctx, slackapi.EditCanvasParams{
		CanvasID: canvasID,
		Changes: []slackapi.CanvasChange{{
			Operation: "replace",
			DocumentContent: slackapi.DocumentContent{
				Type:     "markdown",
				Markdown: markdown,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("canvases.edit %s: %w", canvasID, err)
	}
	return nil
}

// BotUserID resolves and memoizes the bot's own user ID.
func (c *APIClient) BotUserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.botUserID != "" {
		return c.botUserID, nil
	}

	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("auth.test: %w", err)
	}
	c.botUserID = resp.UserID
	return c.botUserID, nil
}

// IsCanvasNotFound reports whether the platform says the canvas was deleted
// out from under us; the dashboard recovers by recreating.
func IsCanvasNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "canvas_not_found")
}
