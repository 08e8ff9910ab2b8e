package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
	discordpkg "github.com/foxseedlab/mensetsu/internal/discord"
)

type Client struct {
	session   *discordgo.Session
	token     string
	channelID string
}

func NewClient(token, channelID string) discordpkg.Client {
	return &Client{
		token:     token,
		channelID: channelID,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	_ = ctx
	s, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return err
	}
	c.session = s
	channel := c.resolveChannel(c.channelID)
	if channel == nil {
		return fmt.Errorf("transcript channel %s is not accessible", c.channelID)
	}
	slog.Info("discord transcript channel resolved", "channel_id", channel.ID, "channel_name", channel.Name)
	return nil
}

func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func (c *Client) SendChannelMessageWithFile(msg discordpkg.FileMessage) error {
	if c.session == nil {
		return errors.New("discord client is not connected")
	}
	contentType := msg.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	_, err := c.session.ChannelMessageSendComplex(msg.ChannelID, &discordgo.MessageSend{
		Content: msg.Content,
		Files: []*discordgo.File{
			{Name: msg.Filename, ContentType: contentType, Reader: bytes.NewReader(msg.FileBody)},
		},
	})
	return err
}

func (c *Client) resolveChannel(channelID string) *discordgo.Channel {
	if c.session == nil {
		return nil
	}
	if c.session.State != nil {
		channel, err := c.session.State.Channel(channelID)
		if err == nil && channel != nil && channel.Name != "" {
			return channel
		}
	}
	channel, err := c.session.Channel(channelID)
	if err != nil {
		if !isRESTNotFound(err) {
			slog.Warn("failed to fetch discord channel", "channel_id", channelID, "error", err)
		}
		return nil
	}
	return channel
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusNotFound
}
