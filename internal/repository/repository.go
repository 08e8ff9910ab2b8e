package repository

import (
	"context"
	"time"
)

type CreateInterviewInput struct {
	ID             string
	TotalQuestions int
	TranscriptFile string
	CreatedAt      time.Time
}

type FinishInterviewInput struct {
	ID        string
	Status    InterviewStatus
	EndReason string
	EndedAt   time.Time
}

type InsertAnswerInput struct {
	InterviewID    string
	QuestionNumber int
	Question       string
	AnswerSegments []string
	FullAnswer     string
	WordCount      int
	AnsweredAt     time.Time
}

type InterviewRepository interface {
	CreateInterview(ctx context.Context, input CreateInterviewInput) error
	FinishInterview(ctx context.Context, input FinishInterviewInput) error
	GetInterview(ctx context.Context, id string) (*Interview, error)
}

type AnswerRepository interface {
	InsertAnswer(ctx context.Context, input InsertAnswerInput) error
	ListAnswersByInterviewID(ctx context.Context, interviewID string) ([]Answer, error)
}

// Repository mirrors transcripts into a database. The JSON file written by
// the transcript store stays the record of truth.
type Repository interface {
	InterviewRepository
	AnswerRepository
	Close()
}

// Nop is used when DATABASE_URL is unset.
type Nop struct{}

func (Nop) CreateInterview(context.Context, CreateInterviewInput) error { return nil }
func (Nop) FinishInterview(context.Context, FinishInterviewInput) error { return nil }
func (Nop) GetInterview(context.Context, string) (*Interview, error)    { return nil, nil }
func (Nop) InsertAnswer(context.Context, InsertAnswerInput) error       { return nil }
func (Nop) ListAnswersByInterviewID(context.Context, string) ([]Answer, error) {
	return nil, nil
}
func (Nop) Close() {}
