package api

import (
	"net/http"

	"github.com/ferro-labs/verifygw/internal/chat"
	"github.com/ferro-labs/verifygw/internal/logging"
	"github.com/go-chi/chi/v5"
)

type chatRequest struct {
	Message   string `json:"message" validate:"required,max=2000"`
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	reply, err := s.Chat.Handle(r.Context(), chat.Message{
		Text:      req.Message,
		SessionID: req.SessionID,
		UserID:    logging.UserIDFromContext(r.Context()),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) startChatSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Chat.StartSession(r.Context(), logging.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) getChatSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Chat.Session(r.Context(), chi.URLParam(r, "id"), logging.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
