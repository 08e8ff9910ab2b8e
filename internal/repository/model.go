package repository

import "time"

type InterviewStatus string

const (
	InterviewStatusRunning   InterviewStatus = "running"
	InterviewStatusCompleted InterviewStatus = "completed"
	InterviewStatusAborted   InterviewStatus = "aborted"
)

type Interview struct {
	ID             string
	TotalQuestions int
	TranscriptFile string
	Status         InterviewStatus
	EndReason      string
	CreatedAt      time.Time
	EndedAt        *time.Time
}

type Answer struct {
	InterviewID    string
	QuestionNumber int
	Question       string
	AnswerSegments []string
	FullAnswer     string
	WordCount      int
	AnsweredAt     time.Time
}
