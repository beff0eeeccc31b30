package api

import (
	"net/http"
	"time"

	"github.com/digkill/picly/internal/models"
)

type userView struct {
	ID                 int64                     `json:"id"`
	Username           string                    `json:"username"`
	Email              string                    `json:"email"`
	PremiumCredits     int                       `json:"premium_credits"`
	FreeCreditsToday   int                       `json:"free_credits_today"`
	SubscriptionStatus models.SubscriptionStatus `json:"subscription_status"`
	ReferralCode       string                    `json:"referral_code"`
	TotalGenerations   int                       `json:"total_generations"`
	CreatedAt          time.Time                 `json:"created_at"`
	LastLogin          *time.Time                `json:"last_login,omitempty"`
}

func viewUser(u *models.User) userView {
	status := u.SubscriptionStatus
	if status == "" {
		status = models.SubscriptionNone
	}
	return userView{
		ID:                 u.ID,
		Username:           u.Username,
		Email:              u.Email,
		PremiumCredits:     u.PremiumCredits,
		FreeCreditsToday:   u.FreeCreditsToday,
		SubscriptionStatus: status,
		ReferralCode:       u.ReferralCode,
		TotalGenerations:   u.TotalGenerations,
		CreatedAt:          u.CreatedAt,
		LastLogin:          u.LastLogin,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	user, err := s.svc.Auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"user_id":  user.ID,
		"message":  "Registration successful",
		"referral": user.ReferralCode,
	})
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.svc.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user":       viewUser(res.User),
		"token":      res.Token,
		"expires_at": res.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if err := s.svc.Auth.Logout(r.Context(), token); err != nil {
			s.fail(w, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
	})
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"user": viewUser(userFrom(r.Context()))})
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	bal, err := s.svc.Credits.GetUserCredits(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"credits": bal})
}

type referralRequest struct {
	Code string `json:"referral_code" validate:"required"`
}

func (s *Server) handleReferral(w http.ResponseWriter, r *http.Request) {
	var req referralRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.svc.Credits.ApplyReferral(r.Context(), userFrom(r.Context()).ID, req.Code)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreditHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.Credits.History(r.Context(), userFrom(r.Context()).ID, queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}
