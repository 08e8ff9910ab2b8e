package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/foxseedlab/mensetsu/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateInterview(ctx context.Context, input repository.CreateInterviewInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO interviews (id, total_questions, transcript_file, status, created_at)
		 VALUES ($1, $2, $3, 'running', $4)`,
		input.ID, input.TotalQuestions, input.TranscriptFile, input.CreatedAt)
	return err
}

func (r *PostgresRepository) FinishInterview(ctx context.Context, input repository.FinishInterviewInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE interviews SET status = $2, end_reason = $3, ended_at = $4 WHERE id = $1`,
		input.ID, string(input.Status), input.EndReason, input.EndedAt)
	return err
}

func (r *PostgresRepository) GetInterview(ctx context.Context, id string) (*repository.Interview, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, total_questions, transcript_file, status, end_reason, created_at, ended_at
		 FROM interviews WHERE id = $1`, id)
	var iv repository.Interview
	var status string
	var endedAt *time.Time
	if err := row.Scan(&iv.ID, &iv.TotalQuestions, &iv.TranscriptFile, &status, &iv.EndReason, &iv.CreatedAt, &endedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	iv.Status = repository.InterviewStatus(status)
	iv.EndedAt = endedAt
	return &iv, nil
}

func (r *PostgresRepository) InsertAnswer(ctx context.Context, input repository.InsertAnswerInput) error {
	segments, err := json.Marshal(nonNilSegments(input.AnswerSegments))
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO interview_answers (interview_id, question_number, question, answer_segments, full_answer, word_count, answered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (interview_id, question_number) DO NOTHING`,
		input.InterviewID, input.QuestionNumber, input.Question, segments, input.FullAnswer, input.WordCount, input.AnsweredAt)
	return err
}

func (r *PostgresRepository) ListAnswersByInterviewID(ctx context.Context, interviewID string) ([]repository.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT interview_id, question_number, question, answer_segments, full_answer, word_count, answered_at
		 FROM interview_answers WHERE interview_id = $1 ORDER BY question_number`, interviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Answer
	for rows.Next() {
		var a repository.Answer
		var segments []byte
		if err := rows.Scan(&a.InterviewID, &a.QuestionNumber, &a.Question, &segments, &a.FullAnswer, &a.WordCount, &a.AnsweredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(segments, &a.AnswerSegments); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func nonNilSegments(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
