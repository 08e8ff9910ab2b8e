package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/mensetsu/internal/archive"
	"github.com/foxseedlab/mensetsu/internal/discord"
	"github.com/foxseedlab/mensetsu/internal/transcript"
	"github.com/foxseedlab/mensetsu/internal/webhook"
	"golang.org/x/sync/errgroup"
)

type Completion struct {
	Record   transcript.Record
	FileName string
	Status   string
	Reason   string
	EndedAt  time.Time

	// TranscriptSaved is false when the final write of FileName failed and
	// the notification carries the only complete copy.
	TranscriptSaved bool
}

type Notifier interface {
	NotifyTranscript(ctx context.Context, c Completion) error
}

type target struct {
	name     string
	notifier Notifier
}

// FanOut delivers to every target concurrently. A failing target never
// prevents the others from running.
type FanOut struct {
	targets []target
}

func NewFanOut() *FanOut {
	return &FanOut{}
}

func (f *FanOut) Add(name string, n Notifier) {
	f.targets = append(f.targets, target{name: name, notifier: n})
}

func (f *FanOut) Targets() []string {
	out := make([]string, 0, len(f.targets))
	for _, t := range f.targets {
		out = append(out, t.name)
	}
	return out
}

func (f *FanOut) NotifyTranscript(ctx context.Context, c Completion) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, t := range f.targets {
		g.Go(func() error {
			if err := t.notifier.NotifyTranscript(ctx, c); err != nil {
				slog.Error("failed to deliver transcript", "target", t.name, "interview_id", c.Record.InterviewID, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
				mu.Unlock()
				return nil
			}
			slog.Info("transcript delivered", "target", t.name, "interview_id", c.Record.InterviewID)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

type WebhookNotifier struct {
	sender webhook.Sender
}

func NewWebhookNotifier(sender webhook.Sender) *WebhookNotifier {
	return &WebhookNotifier{sender: sender}
}

func (n *WebhookNotifier) NotifyTranscript(ctx context.Context, c Completion) error {
	return n.sender.SendTranscript(ctx, BuildWebhookPayload(c))
}

type DiscordNotifier struct {
	client    discord.Client
	channelID string
}

func NewDiscordNotifier(client discord.Client, channelID string) *DiscordNotifier {
	return &DiscordNotifier{client: client, channelID: channelID}
}

func (n *DiscordNotifier) NotifyTranscript(_ context.Context, c Completion) error {
	body, err := json.MarshalIndent(c.Record, "", "  ")
	if err != nil {
		return err
	}
	return n.client.SendChannelMessageWithFile(discord.FileMessage{
		ChannelID:   n.channelID,
		Content:     BuildSummaryText(c),
		Filename:    c.FileName,
		ContentType: "application/json",
		FileBody:    body,
	})
}

type ArchiveNotifier struct {
	archiver archive.Archiver
}

func NewArchiveNotifier(a archive.Archiver) *ArchiveNotifier {
	return &ArchiveNotifier{archiver: a}
}

func (n *ArchiveNotifier) NotifyTranscript(ctx context.Context, c Completion) error {
	body, err := json.MarshalIndent(c.Record, "", "  ")
	if err != nil {
		return err
	}
	return n.archiver.PutTranscript(ctx, c.FileName, body)
}
