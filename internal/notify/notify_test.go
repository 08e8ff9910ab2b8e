package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/mensetsu/internal/discord"
	"github.com/foxseedlab/mensetsu/internal/transcript"
	"github.com/foxseedlab/mensetsu/internal/webhook"
)

type mockSender struct {
	mu       sync.Mutex
	payloads []webhook.TranscriptWebhookPayload
	err      error
}

func (s *mockSender) SendTranscript(_ context.Context, p webhook.TranscriptWebhookPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	return s.err
}

type mockDiscord struct {
	mu   sync.Mutex
	msgs []discord.FileMessage
}

func (d *mockDiscord) Connect(context.Context) error { return nil }
func (d *mockDiscord) Close() error                  { return nil }
func (d *mockDiscord) SendChannelMessageWithFile(msg discord.FileMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	return nil
}

type mockArchiver struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (a *mockArchiver) PutTranscript(_ context.Context, name string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.names = append(a.names, name)
	return a.err
}

func testCompletion() Completion {
	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	rec := transcript.NewRecord("iv-1", created, 2)
	_ = rec.Append(transcript.NewEntry(1, "What is a list?", []string{"A mutable sequence."}, created.Add(90*time.Second)))
	return Completion{
		Record:   rec,
		FileName: transcript.FileName("iv-1", created),
		Status:   "completed",
		Reason:   "complete",
		EndedAt:  created.Add(5 * time.Minute),
	}
}

func TestFanOut_DeliversToEveryTargetDespiteFailures(t *testing.T) {
	sender := &mockSender{err: errors.New("webhook down")}
	dc := &mockDiscord{}
	arch := &mockArchiver{}

	f := NewFanOut()
	f.Add("webhook", NewWebhookNotifier(sender))
	f.Add("discord", NewDiscordNotifier(dc, "chan-1"))
	f.Add("s3", NewArchiveNotifier(arch))

	err := f.NotifyTranscript(context.Background(), testCompletion())
	if err == nil || !strings.Contains(err.Error(), "webhook") {
		t.Fatalf("expected joined webhook error, got %v", err)
	}
	if len(sender.payloads) != 1 || len(dc.msgs) != 1 || len(arch.names) != 1 {
		t.Fatalf("expected every target called once: webhook=%d discord=%d s3=%d", len(sender.payloads), len(dc.msgs), len(arch.names))
	}
	if got := f.Targets(); len(got) != 3 {
		t.Fatalf("unexpected targets %v", got)
	}
}

func TestDiscordNotifier_AttachesRecordJSON(t *testing.T) {
	dc := &mockDiscord{}
	c := testCompletion()
	if err := NewDiscordNotifier(dc, "chan-1").NotifyTranscript(context.Background(), c); err != nil {
		t.Fatalf("NotifyTranscript: %v", err)
	}
	msg := dc.msgs[0]
	if msg.ChannelID != "chan-1" || msg.Filename != c.FileName || msg.ContentType != "application/json" {
		t.Fatalf("unexpected message %+v", msg)
	}
	var rec transcript.Record
	if err := json.Unmarshal(msg.FileBody, &rec); err != nil {
		t.Fatalf("attachment is not a record: %v", err)
	}
	if rec.InterviewID != "iv-1" || len(rec.Entries) != 1 {
		t.Fatalf("unexpected attached record %+v", rec)
	}
	if !strings.Contains(msg.Content, "1/2 questions answered") {
		t.Fatalf("unexpected summary %q", msg.Content)
	}
}

func TestBuildWebhookPayload(t *testing.T) {
	p := BuildWebhookPayload(testCompletion())
	if p.SchemaVersion != webhook.TranscriptWebhookSchemaVersion {
		t.Fatalf("unexpected schema version %d", p.SchemaVersion)
	}
	if p.DurationSeconds != 300 || p.AnsweredQuestions != 1 || p.TotalQuestions != 2 {
		t.Fatalf("unexpected payload %+v", p)
	}
	if p.CreatedAt != "2026-04-01T09:00:00Z" || p.EndedAt != "2026-04-01T09:05:00Z" {
		t.Fatalf("unexpected timestamps %s %s", p.CreatedAt, p.EndedAt)
	}
}

func TestBuildTranscriptText(t *testing.T) {
	c := testCompletion()
	c.Record.TotalQuestions = 3
	_ = c.Record.Append(transcript.NewEntry(2, "What is a tuple?", nil, c.Record.CreatedAt.Add(3*time.Minute)))
	text := BuildTranscriptText(c)
	for _, want := range []string{
		"Interview: iv-1",
		"Answered: 2/3",
		"00:01:30 Q1. What is a list?",
		"A mutable sequence.",
		"00:03:00 Q2. What is a tuple?",
		"(no answer)",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in transcript text:\n%s", want, text)
		}
	}
}

func TestFormatElapsedHMS(t *testing.T) {
	if got := formatElapsedHMS(3*time.Hour + 4*time.Minute + 5*time.Second); got != "03:04:05" {
		t.Fatalf("unexpected format %q", got)
	}
}
