package slack

import (
	"context"

	slackapi "github.com/slack-go/slack"
)

// FileInfo is the subset of the platform file record the pipeline polls for.
type FileInfo struct {
	Mimetype  string
	Permalink string
}

// Client is the platform surface the core consumes. APIClient talks to
// Slack; NoopClient logs for local development.
type Client interface {
	PostMessage(ctx context.Context, channelID, text string, blocks []slackapi.Block) (string, error)
	PostThreaded(ctx context.Context, channelID, threadTS, text string, blocks []slackapi.Block) (string, error)
	UploadFile(ctx context.Context, data []byte, filename, title string) (string, error)
	FileInfo(ctx context.Context, fileID string) (FileInfo, error)
	AddReaction(ctx context.Context, channelID, ts, name string) error
	UserInfo(ctx context.Context, userID string) (*slackapi.User, error)
	UserProfile(ctx context.Context, userID string) (*slackapi.UserProfile, error)
	ConversationMembers(ctx context.Context, channelID string) ([]string, error)
	OpenDM(ctx context.Context, userID string) (string, error)
	CreateCanvas(ctx context.Context, title, markdown string) (string, error)
	EditCanvas(ctx context.Context, canvasID, markdown string) error
	BotUserID(ctx context.Context) (string, error)
}
