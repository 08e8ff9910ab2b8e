package transcript

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrRecordFull     = errors.New("transcript: record already holds every question")
	ErrDuplicateEntry = errors.New("transcript: question already recorded")
)

type Entry struct {
	QuestionNumber int       `json:"question_number"`
	Question       string    `json:"question"`
	AnswerSegments []string  `json:"answer_segments"`
	FullAnswer     string    `json:"full_answer"`
	Timestamp      time.Time `json:"timestamp"`
	WordCount      int       `json:"word_count"`
}

// NewEntry builds a finalized answer. The segment slice is copied so later
// mutation of the session buffer cannot leak into the record.
func NewEntry(number int, question string, segments []string, at time.Time) Entry {
	segs := make([]string, len(segments))
	copy(segs, segments)
	words := 0
	for _, s := range segs {
		words += len(strings.Fields(s))
	}
	return Entry{
		QuestionNumber: number,
		Question:       question,
		AnswerSegments: segs,
		FullAnswer:     strings.Join(segs, " "),
		Timestamp:      at,
		WordCount:      words,
	}
}

type Record struct {
	InterviewID    string    `json:"interview_id"`
	CreatedAt      time.Time `json:"created_at"`
	TotalQuestions int       `json:"total_questions"`
	Entries        []Entry   `json:"entries"`
}

func NewRecord(interviewID string, createdAt time.Time, totalQuestions int) Record {
	return Record{
		InterviewID:    interviewID,
		CreatedAt:      createdAt,
		TotalQuestions: totalQuestions,
		Entries:        []Entry{},
	}
}

// Append adds e, keeping at most TotalQuestions entries and at most one per
// question number.
func (r *Record) Append(e Entry) error {
	if len(r.Entries) >= r.TotalQuestions {
		return ErrRecordFull
	}
	for _, existing := range r.Entries {
		if existing.QuestionNumber == e.QuestionNumber {
			return fmt.Errorf("%w: question %d", ErrDuplicateEntry, e.QuestionNumber)
		}
	}
	r.Entries = append(r.Entries, e)
	return nil
}

func (r Record) Clone() Record {
	out := r
	out.Entries = make([]Entry, len(r.Entries))
	for i, e := range r.Entries {
		e.AnswerSegments = append([]string(nil), e.AnswerSegments...)
		out.Entries[i] = e
	}
	return out
}
