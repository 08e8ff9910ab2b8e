package discord

import "context"

type FileMessage struct {
	ChannelID   string
	Content     string
	Filename    string
	ContentType string
	FileBody    []byte
}

// Client is the subset of Discord used to announce finished interviews.
type Client interface {
	Connect(ctx context.Context) error
	Close() error
	SendChannelMessageWithFile(msg FileMessage) error
}
