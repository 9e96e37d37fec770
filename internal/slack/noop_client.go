package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	slackapi "github.com/slack-go/slack"
)

// NoopClient logs every call instead of hitting Slack. Used in development
// and as the base for test fakes.
type NoopClient struct {
	logger *slog.Logger
	seq    atomic.Int64
}

func NewNoopClient(logger *slog.Logger) *NoopClient {
	return &NoopClient{logger: logger}
}

func (c *NoopClient) nextTS() string {
	return fmt.Sprintf("1700000000.%06d", c.seq.Add(1))
}

func (c *NoopClient) PostMessage(_ context.Context, channelID, text string, blocks []slackapi.Block) (string, error) {
	c.logger.Info("noop slack post", slog.String("channel_id", channelID), slog.String("text", text), slog.Int("block_count", len(blocks)))
	return c.nextTS(), nil
}

func (c *NoopClient) PostThreaded(_ context.Context, channelID, threadTS, text string, blocks []slackapi.Block) (string, error) {
	c.logger.Info("noop slack threaded post", slog.String("channel_id", channelID), slog.String("thread_ts", threadTS), slog.Int("block_count", len(blocks)))
	return c.nextTS(), nil
}

func (c *NoopClient) UploadFile(_ context.Context, data []byte, filename, title string) (string, error) {
	c.logger.Info("noop slack upload", slog.String("filename", filename), slog.Int("bytes", len(data)))
	return "F" + filename, nil
}

func (c *NoopClient) FileInfo(_ context.Context, fileID string) (FileInfo, error) {
	return FileInfo{Mimetype: "image/png", Permalink: "https://example.invalid/" + fileID}, nil
}

func (c *NoopClient) AddReaction(_ context.Context, channelID, ts, name string) error {
	c.logger.Info("noop slack reaction", slog.String("channel_id", channelID), slog.String("ts", ts), slog.String("name", name))
	return nil
}

func (c *NoopClient) UserInfo(_ context.Context, userID string) (*slackapi.User, error) {
	return &slackapi.User{ID: userID, Name: userID}, nil
}

func (c *NoopClient) UserProfile(_ context.Context, userID string) (*slackapi.UserProfile, error) {
	return &slackapi.UserProfile{DisplayName: userID}, nil
}

func (c *NoopClient) ConversationMembers(_ context.Context, channelID string) ([]string, error) {
	return nil, nil
}

func (c *NoopClient) OpenDM(_ context.Context, userID string) (string, error) {
	return "D" + userID, nil
}

func (c *NoopClient) CreateCanvas(_ context.Context, title, _ string) (string, error) {
	c.logger.Info("noop canvas create", slog.String("title", title))
	return "CANVAS1", nil
}

func (c *NoopClient) EditCanvas(_ context.Context, canvasID, _ string) error {
	c.logger.Info("noop canvas edit", slog.String("canvas_id", canvasID))
	return nil
}

func (c *NoopClient) BotUserID(_ context.Context) (string, error) {
	return "UBOT", nil
}
