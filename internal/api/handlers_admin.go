package api

import (
	"net/http"

	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/repository"
)

func (s *Server) handleHourlyCosts(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Costs.HourlyStats(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"hourly": st})
}

func (s *Server) handleDailyCosts(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Costs.DailyStats(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"daily": st})
}

func (s *Server) handleCostBreakdown(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	rows, err := s.svc.Costs.CostBreakdown(r.Context(), hours)
	if err != nil {
		s.fail(w, err)
		return
	}
	if rows == nil {
		rows = []repository.CostBreakdownRow{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"hours": hours, "breakdown": rows})
}

func (s *Server) handleTopUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.Costs.TopUserCosts(r.Context(), queryInt(r, "limit", 10))
	if err != nil {
		s.fail(w, err)
		return
	}
	if users == nil {
		users = []repository.UserCost{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleCostReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Costs.Report(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(report))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"report": report})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.svc.Costs.Alerts(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, err)
		return
	}
	if alerts == nil {
		alerts = []models.CostAlert{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

type emergencyRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (s *Server) handleEmergencyActivate(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.fail(w, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual activation"
	}
	changed, err := s.svc.Emergency.Activate(req.Reason)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.Warn("emergency mode activated by admin", "reason", req.Reason, "changed", changed)
	s.writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "emergency": s.svc.Emergency.Status()})
}

func (s *Server) handleEmergencyDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Emergency.Deactivate(); err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info("emergency mode deactivated by admin")
	s.writeJSON(w, http.StatusOK, map[string]any{"emergency": s.svc.Emergency.Status()})
}

func (s *Server) handleLearningRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Learning.RunSession(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session": res})
}
