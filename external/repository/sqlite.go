package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/foxseedlab/mensetsu/internal/repository"
	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	// single writer per database file
	db.SetMaxOpenConns(1)
	return db, nil
}

func NewSQLiteRepository(db *sql.DB) repository.Repository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateInterview(ctx context.Context, input repository.CreateInterviewInput) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO interviews (id, total_questions, transcript_file, status, created_at)
		 VALUES (?, ?, ?, 'running', ?)`,
		input.ID, input.TotalQuestions, input.TranscriptFile, input.CreatedAt.UTC())
	return err
}

func (r *SQLiteRepository) FinishInterview(ctx context.Context, input repository.FinishInterviewInput) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE interviews SET status = ?, end_reason = ?, ended_at = ? WHERE id = ?`,
		string(input.Status), input.EndReason, input.EndedAt.UTC(), input.ID)
	return err
}

func (r *SQLiteRepository) GetInterview(ctx context.Context, id string) (*repository.Interview, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, total_questions, transcript_file, status, end_reason, created_at, ended_at
		 FROM interviews WHERE id = ?`, id)
	var iv repository.Interview
	var status string
	var endedAt sql.NullTime
	if err := row.Scan(&iv.ID, &iv.TotalQuestions, &iv.TranscriptFile, &status, &iv.EndReason, &iv.CreatedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	iv.Status = repository.InterviewStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		iv.EndedAt = &t
	}
	return &iv, nil
}

func (r *SQLiteRepository) InsertAnswer(ctx context.Context, input repository.InsertAnswerInput) error {
	segments, err := json.Marshal(nonNilSegments(input.AnswerSegments))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO interview_answers (interview_id, question_number, question, answer_segments, full_answer, word_count, answered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (interview_id, question_number) DO NOTHING`,
		input.InterviewID, input.QuestionNumber, input.Question, string(segments), input.FullAnswer, input.WordCount, input.AnsweredAt.UTC())
	return err
}

func (r *SQLiteRepository) ListAnswersByInterviewID(ctx context.Context, interviewID string) ([]repository.Answer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT interview_id, question_number, question, answer_segments, full_answer, word_count, answered_at
		 FROM interview_answers WHERE interview_id = ? ORDER BY question_number`, interviewID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []repository.Answer
	for rows.Next() {
		var a repository.Answer
		var segments string
		var answeredAt time.Time
		if err := rows.Scan(&a.InterviewID, &a.QuestionNumber, &a.Question, &segments, &a.FullAnswer, &a.WordCount, &answeredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(segments), &a.AnswerSegments); err != nil {
			return nil, err
		}
		a.AnsweredAt = answeredAt
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Close() {
	_ = r.db.Close()
}
