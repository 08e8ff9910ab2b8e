package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/mensetsu/internal/webhook"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

func BuildTranscriptText(c Completion) string {
	rec := c.Record
	lines := []string{
		fmt.Sprintf("Interview: %s", rec.InterviewID),
		fmt.Sprintf("Period: %s ~ %s (UTC)", rec.CreatedAt.UTC().Format(transcriptTimeLayout), c.EndedAt.UTC().Format(transcriptTimeLayout)),
		fmt.Sprintf("Answered: %d/%d", len(rec.Entries), rec.TotalQuestions),
		"",
	}
	for _, e := range rec.Entries {
		elapsed := e.Timestamp.Sub(rec.CreatedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		lines = append(lines,
			fmt.Sprintf("%s Q%d. %s", formatElapsedHMS(elapsed), e.QuestionNumber, e.Question),
			answerOrPlaceholder(e.FullAnswer),
			"",
		)
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// BuildSummaryText is the short chat message posted next to the attached
// transcript file.
func BuildSummaryText(c Completion) string {
	rec := c.Record
	words := 0
	for _, e := range rec.Entries {
		words += e.WordCount
	}
	return fmt.Sprintf("Interview %s %s (%s): %d/%d questions answered, %d words, duration %s",
		rec.InterviewID, c.Status, c.Reason, len(rec.Entries), rec.TotalQuestions, words,
		formatElapsedHMS(durationOf(c)))
}

func BuildWebhookPayload(c Completion) webhook.TranscriptWebhookPayload {
	rec := c.Record
	return webhook.TranscriptWebhookPayload{
		SchemaVersion:     webhook.TranscriptWebhookSchemaVersion,
		InterviewID:       rec.InterviewID,
		Status:            c.Status,
		EndReason:         c.Reason,
		CreatedAt:         rec.CreatedAt.UTC().Format(time.RFC3339),
		EndedAt:           c.EndedAt.UTC().Format(time.RFC3339),
		DurationSeconds:   int64(durationOf(c).Seconds()),
		TotalQuestions:    rec.TotalQuestions,
		AnsweredQuestions: len(rec.Entries),
		TranscriptFile:    c.FileName,
		TranscriptSaved:   c.TranscriptSaved,
		Entries:           rec.Entries,
		Transcript:        BuildTranscriptText(c),
	}
}

func durationOf(c Completion) time.Duration {
	d := c.EndedAt.Sub(c.Record.CreatedAt)
	if d < 0 {
		return 0
	}
	return d
}

func answerOrPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(no answer)"
	}
	return s
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
