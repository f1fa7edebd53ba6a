package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mealplanhq/mealplan/internal/auth"
	"github.com/mealplanhq/mealplan/internal/store"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (c *credentials) normalize() {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decodeJSON(w, r, &req) {
		return
	}
	req.normalize()

	user, token, err := s.auth.Signup(r.Context(), req.Email, req.Password, req.Name)
	switch {
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, "an account with this email already exists")
		return
	case err != nil:
		s.logger.Error("signup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.setCookie(w, sessionCookie, token, s.auth.SessionExpiry())
	s.logger.Info("user signed up", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decodeJSON(w, r, &req) {
		return
	}
	req.normalize()
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Error("login failed", "error", err)
		}
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.setCookie(w, sessionCookie, token, s.auth.SessionExpiry())
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decodeJSON(w, r, &req) {
		return
	}
	req.normalize()
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, token, err := s.auth.AdminLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Error("admin login failed", "error", err)
		}
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.setCookie(w, adminCookie, token, s.auth.AdminExpiry())
	s.logger.Info("admin logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearCookie(w, sessionCookie)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	s.clearCookie(w, adminCookie)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decodeJSON(w, r, &req) {
		return
	}
	req.normalize()
	if err := auth.ValidateEmail(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.autoApprove {
		user, token, err := s.auth.ApproveMagicLink(r.Context(), req.Email)
		if err != nil {
			s.logger.Error("magic link approval failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		s.setCookie(w, sessionCookie, token, s.auth.SessionExpiry())
		writeJSON(w, http.StatusOK, map[string]any{"user": user, "approved": true})
		return
	}

	token, err := s.auth.MagicLinkToken(req.Email)
	if err != nil {
		s.logger.Error("issue magic link failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	link := fmt.Sprintf("%s/api/auth/magic-link?token=%s&email=%s",
		s.baseURL, url.QueryEscape(token), url.QueryEscape(req.Email))
	if err := s.mailer.SendMagicLink(r.Context(), req.Email, link, humanDuration(s.auth.MagicLinkExpiry())); err != nil {
		s.logger.Error("send magic link failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send sign-in link")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (s *Server) handleVerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	_, token, err := s.auth.VerifyMagicLink(r.Context(), q.Get("token"), q.Get("email"))
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) {
			s.logger.Error("verify magic link failed", "error", err)
		}
		http.Redirect(w, r, "/login?error=invalid-link", http.StatusFound)
		return
	}
	s.setCookie(w, sessionCookie, token, s.auth.SessionExpiry())
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decodeJSON(w, r, &req) {
		return
	}
	req.normalize()

	// The answer is the same whether or not the account exists.
	ok := map[string]any{"sent": true}
	if auth.ValidateEmail(req.Email) != nil {
		writeJSON(w, http.StatusOK, ok)
		return
	}
	token, user, err := s.auth.ResetToken(r.Context(), req.Email)
	if err != nil {
		s.logger.Error("issue reset token failed", "error", err)
		writeJSON(w, http.StatusOK, ok)
		return
	}
	if user != nil {
		link := s.baseURL + "/reset-password?token=" + url.QueryEscape(token)
		if err := s.mailer.SendPasswordReset(r.Context(), user.Email, link, humanDuration(s.auth.ResetExpiry())); err != nil {
			s.logger.Error("send reset email failed", "user_id", user.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, ok)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}

	err := s.auth.ResetPassword(r.Context(), req.Token, req.Password)
	switch {
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("reset password failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	ctx := r.Context()

	user, err := s.store.GetUserByID(ctx, identity.UserID)
	if err != nil {
		s.logger.Error("get user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	purchases, err := s.store.ListPurchasesByUser(ctx, user.ID)
	if err != nil {
		s.logger.Error("list purchases failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	subs, err := s.store.ListSubscriptionsByUser(ctx, user.ID)
	if err != nil {
		s.logger.Error("list subscriptions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if purchases == nil {
		purchases = []store.Purchase{}
	}
	if subs == nil {
		subs = []store.Subscription{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":          user,
		"purchases":     purchases,
		"subscriptions": subs,
	})
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if users == nil {
		users = []store.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// humanDuration renders link lifetimes for emails, e.g. "15 minutes".
func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	}
	return plural(int(d/time.Second), "second")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
