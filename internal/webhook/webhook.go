package webhook

import (
	"context"

	"github.com/foxseedlab/mensetsu/internal/transcript"
)

const TranscriptWebhookSchemaVersion = 1

type TranscriptWebhookPayload struct {
	SchemaVersion     int                `json:"schema_version"`
	InterviewID       string             `json:"interview_id"`
	Status            string             `json:"status"`
	EndReason         string             `json:"end_reason"`
	CreatedAt         string             `json:"created_at"`
	EndedAt           string             `json:"ended_at"`
	DurationSeconds   int64              `json:"duration_seconds"`
	TotalQuestions    int                `json:"total_questions"`
	AnsweredQuestions int                `json:"answered_questions"`
	TranscriptFile    string             `json:"transcript_file"`
	TranscriptSaved   bool               `json:"transcript_saved"`
	Entries           []transcript.Entry `json:"entries"`
	Transcript        string             `json:"transcript"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptWebhookPayload) error
}
