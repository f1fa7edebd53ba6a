package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mealplanhq/mealplan/internal/auth"
	"github.com/mealplanhq/mealplan/internal/jobs"
	"github.com/mealplanhq/mealplan/internal/store"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// cronAuthorized checks the scheduler's bearer secret and answers 401 when it
// does not match.
func (s *Server) cronAuthorized(w http.ResponseWriter, r *http.Request) bool {
	if s.cronSecret == "" {
		return true
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.cronSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	if !s.cronAuthorized(w, r) {
		return
	}
	// A dropped scheduler connection must not abandon claimed jobs mid-phase.
	res := s.processor.ProcessBatch(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, res)
}

// canSee reports whether identity may read job.
func canSee(identity *auth.Identity, job *store.MealPlanJob) bool {
	if identity.IsAdmin() {
		return true
	}
	return strings.EqualFold(job.CustomerEmail, identity.Email)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	q := r.URL.Query()

	limit := defaultJobLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxJobLimit)
	}

	filter := store.JobFilter{Status: q.Get("status"), Limit: limit}
	if !identity.IsAdmin() {
		filter.Email = identity.Email
	}

	list, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.logger.Error("list jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []store.MealPlanJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

// loadJob fetches a job the caller may see, writing 404 otherwise.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request, identity *auth.Identity) *store.MealPlanJob {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.logger.Error("get job failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if job == nil || !canSee(identity, job) {
		writeError(w, http.StatusNotFound, "job not found")
		return nil
	}
	return job
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job := s.loadJob(w, r, getIdentityFromContext(r.Context()))
	if job == nil {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleAdminResetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := s.store.ResetJob(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("reset job failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	identity := getIdentityFromContext(r.Context())
	s.logger.Info("job reset", "job_id", id, "by", identity.UserID)

	job, err := s.store.GetJob(r.Context(), id)
	if err != nil || job == nil {
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": store.JobPending})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

var jobsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsMaxMessage = 512
)

// handleJobWS streams job snapshots until the job reaches a terminal state.
// The token comes from the session cookie or a ?token= query parameter.
func (s *Server) handleJobWS(w http.ResponseWriter, r *http.Request) {
	identity := s.identify(r)
	if identity == nil {
		if tok := r.URL.Query().Get("token"); tok != "" {
			identity, _ = s.auth.ValidateSession(tok)
		}
	}
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	job := s.loadJob(w, r, identity)
	if job == nil {
		return
	}

	conn, err := jobsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("job ws: upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(wsMaxMessage)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for snap := range jobs.Watch(ctx, s.store, job.ID, s.watchInterval) {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(snap); err != nil {
			s.logger.Debug("job ws: write failed", "job_id", job.ID, "error", err)
			return
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
}
