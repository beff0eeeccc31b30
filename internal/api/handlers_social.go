package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/service"
)

func (s *Server) handleCreateContent(w http.ResponseWriter, r *http.Request) {
	var req service.CreateContentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	item, err := s.svc.Social.CreateContent(r.Context(), userFrom(r.Context()).ID, req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"content": item})
}

func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Social.ListContent(r.Context(), userFrom(r.Context()).ID, queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, err)
		return
	}
	if items == nil {
		items = []models.ContentItem{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"content": items})
}

type scheduleRequest struct {
	ScheduledFor string `json:"scheduled_for" validate:"required"`
}

func (s *Server) handleScheduleContent(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, badRequest("Invalid content id"))
		return
	}
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	at, err := time.Parse(time.RFC3339, req.ScheduledFor)
	if err != nil {
		s.fail(w, badRequest("scheduled_for must be an RFC 3339 timestamp"))
		return
	}
	item, err := s.svc.Social.Schedule(r.Context(), userFrom(r.Context()).ID, id, at)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"content": item})
}

func (s *Server) handlePostContent(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, badRequest("Invalid content id"))
		return
	}
	posts, err := s.svc.Social.AutoPost(r.Context(), userFrom(r.Context()).ID, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (s *Server) handleSocialReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.Social.AnalyticsReport(r.Context(), queryInt(r, "days", 7))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"report": rep})
}

func (s *Server) handleSaveCredentials(w http.ResponseWriter, r *http.Request) {
	var req service.CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	platform := chi.URLParam(r, "platform")
	if err := s.svc.Social.SaveCredentials(r.Context(), platform, req); err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"platform": platform})
}

func (s *Server) handleEngagement(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, badRequest("Invalid post id"))
		return
	}
	var in service.EngagementInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.svc.Social.RecordEngagement(r.Context(), id, in); err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"post_id": id})
}
