package server

import (
	"net/http"
)

func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/session/start", h.StartSession)
	mux.HandleFunc("GET /api/session/{id}/question", h.NextQuestion)
	mux.HandleFunc("GET /api/session/{id}/question/audio", h.QuestionAudio)
	mux.HandleFunc("GET /api/session/{id}/health", h.SessionHealth)
	mux.HandleFunc("GET /api/session/{id}/transcripts", h.Transcripts)
	mux.HandleFunc("DELETE /api/session/{id}", h.EndSession)
	mux.HandleFunc("GET /api/sessions", h.ListSessions)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /ws/{session_id}", h.ServeWS)

	return mux
}
