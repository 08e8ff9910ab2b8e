package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/foxseedlab/mensetsu/internal/session"
	"github.com/foxseedlab/mensetsu/internal/transcript"
	"github.com/foxseedlab/mensetsu/internal/tts"
)

const defaultQuestionWait = 30 * time.Second

type Sessions interface {
	Start(ctx context.Context) (session.StartResult, error)
	Get(id string) (*session.Runner, error)
	End(ctx context.Context, id string) (session.Info, error)
	Transcript(ctx context.Context, id string) (session.TranscriptResult, error)
	List() []session.Info
}

type Handler struct {
	Sessions           Sessions
	Logger             *slog.Logger
	MaxFramesPerSecond int
	QuestionWait time.Duration
}

type healthResponse struct {
	HealthScore    float64 `json:"health_score"`
	NetworkLatency float64 `json:"network_latency"`
}

type transcriptsResponse struct {
	TranscriptFile string             `json:"transcript_file"`
	TotalQuestions int                `json:"total_questions"`
	Entries        []transcript.Entry `json:"entries"`
	Active         bool               `json:"active"`
}

type completedResponse struct {
	Question       *string `json:"question"`
	Completed      bool    `json:"completed"`
	TotalQuestions int     `json:"total_questions"`
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.Sessions.Start(r.Context())
	if err != nil {
		h.logger().Error("failed to start session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) NextQuestion(w http.ResponseWriter, r *http.Request) {
	runner, ok := h.lookup(w, r)
	if !ok {
		return
	}
	wait := h.QuestionWait
	if wait <= 0 {
		wait = defaultQuestionWait
	}
	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	q, more, err := runner.NextQuestion(ctx)
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, "question not ready")
		return
	}
	if !more {
		writeJSON(w, http.StatusOK, completedResponse{Completed: true, TotalQuestions: runner.View().TotalQuestions})
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) QuestionAudio(w http.ResponseWriter, r *http.Request) {
	runner, ok := h.lookup(w, r)
	if !ok {
		return
	}
	a, err := runner.QuestionAudio()
	switch {
	case errors.Is(err, tts.ErrUnavailable):
		w.WriteHeader(http.StatusNoContent)
		return
	case err != nil:
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.Header().Set("Content-Type", a.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

func (h *Handler) SessionHealth(w http.ResponseWriter, r *http.Request) {
	runner, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s := runner.Health()
	writeJSON(w, http.StatusOK, healthResponse{HealthScore: s.Score, NetworkLatency: s.MeanLatency.Seconds()})
}

func (h *Handler) Transcripts(w http.ResponseWriter, r *http.Request) {
	res, err := h.Sessions.Transcript(r.Context(), r.PathValue("id"))
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.logger().Error("failed to load transcript", "session_id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	writeJSON(w, http.StatusOK, transcriptsResponse{
		TranscriptFile: res.TranscriptFile,
		TotalQuestions: res.Record.TotalQuestions,
		Entries:        res.Record.Entries,
		Active:         res.Active,
	})
}

func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.Sessions.End(r.Context(), r.PathValue("id"))
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.Sessions.List()})
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Runner, bool) {
	runner, err := h.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return runner, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
