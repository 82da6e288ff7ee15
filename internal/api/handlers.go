package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mindsprite/mindsprite/internal/core"
)

const maxBodyBytes = 64 << 10

// SendMessageRequest is the body of POST /sessions/{id}/messages
type SendMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	s.respondJSON(w, code, map[string]interface{}{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusCreated, map[string]string{"session_id": core.NewSessionID()})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req SendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, core.KindInvalidInput, "invalid request body")
		return
	}

	result, err := s.orch.Handle(r.Context(), sessionID, req.Content)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			s.respondError(w, http.StatusBadRequest, core.KindInvalidInput, "limit must be a positive integer")
			return
		}
		limit = l
	}

	msgs, err := s.orch.History(r.Context(), chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, msgs)
}

func (s *Server) handlePendingCare(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.orch.PendingCare(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *Server) handleCancelCare(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil || taskID <= 0 {
		s.respondError(w, http.StatusBadRequest, core.KindInvalidInput, "invalid task id")
		return
	}

	if err := s.orch.Cancel(r.Context(), chi.URLParam(r, "sessionID"), taskID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": string(core.CareStatusCancelled)})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.orch.Profile(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	care, err := s.orch.Care().Stats(r.Context())
	if err != nil {
		s.respondErr(w, r, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err))
		return
	}

	resp := map[string]interface{}{"care": care}
	if s.jobs != nil {
		resp["scheduler"] = s.jobs.GetStats()
	}
	s.respondJSON(w, http.StatusOK, resp)
}
