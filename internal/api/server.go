// Package api provides the HTTP API and middleware for the meal plan service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mealplanhq/mealplan/internal/auth"
	"github.com/mealplanhq/mealplan/internal/billing"
	"github.com/mealplanhq/mealplan/internal/blob"
	"github.com/mealplanhq/mealplan/internal/config"
	"github.com/mealplanhq/mealplan/internal/jobs"
	"github.com/mealplanhq/mealplan/internal/mealplan"
	"github.com/mealplanhq/mealplan/internal/recipes"
	"github.com/mealplanhq/mealplan/internal/store"
)

// Mailer sends the account emails triggered from the API.
type Mailer interface {
	SendMagicLink(ctx context.Context, to, link, expiry string) error
	SendPasswordReset(ctx context.Context, to, link, expiry string) error
}

// BatchRunner runs one processor trigger.
type BatchRunner interface {
	ProcessBatch(ctx context.Context) jobs.BatchResult
}

// ImageBackfiller generates images for recipes that have none.
type ImageBackfiller interface {
	BackfillImages(ctx context.Context, limit int) (*recipes.ImageBackfillResult, error)
}

// Integrations reports which outbound services are configured.
type Integrations struct {
	Stripe bool   `json:"stripe"`
	AI     bool   `json:"ai"`
	Images bool   `json:"image_generation"`
	Email  bool   `json:"email"`
	Blob   string `json:"blob"`
}

// Deps are the services the API is built on. Billing is nil when Stripe is
// not configured.
type Deps struct {
	Store        store.Store
	Auth         *auth.Service
	Billing      billing.Provider
	Catalog      *billing.Catalog
	Fulfiller    *billing.Fulfiller
	Processor    BatchRunner
	Generator    jobs.Generator
	Images       ImageBackfiller
	Resolver     *mealplan.Resolver
	Blobs        blob.Store
	Mailer       Mailer
	Integrations Integrations
	Version      string
}

// Server is the HTTP API server.
type Server struct {
	store         store.Store
	auth          *auth.Service
	billing       billing.Provider
	catalog       *billing.Catalog
	fulfiller     *billing.Fulfiller
	processor     BatchRunner
	generator     jobs.Generator
	images        ImageBackfiller
	resolver      *mealplan.Resolver
	blobs         blob.Store
	mailer        Mailer
	integrations  Integrations
	version       string
	logger        *slog.Logger
	mux           *chi.Mux
	baseURL       string
	cronSecret    string
	autoApprove   bool
	secureCookies bool
	startTime     time.Time
	maxBodyBytes  int64
	watchInterval time.Duration
	now           func() time.Time
	loginRL       *rateLimiter
	rl            *rateLimiter
}

// NewServer creates a new API server.
func NewServer(deps Deps, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:         deps.Store,
		auth:          deps.Auth,
		billing:       deps.Billing,
		catalog:       deps.Catalog,
		fulfiller:     deps.Fulfiller,
		processor:     deps.Processor,
		generator:     deps.Generator,
		images:        deps.Images,
		resolver:      deps.Resolver,
		blobs:         deps.Blobs,
		mailer:        deps.Mailer,
		integrations:  deps.Integrations,
		version:       deps.Version,
		logger:        logger.With("component", "api"),
		baseURL:       strings.TrimRight(cfg.Server.BaseURL, "/"),
		cronSecret:    cfg.Jobs.CronSecret,
		autoApprove:   cfg.Auth.AutoApproveMagicLinks(),
		secureCookies: cfg.Auth.SecureCookies,
		startTime:     time.Now(),
		maxBodyBytes:  cfg.Server.MaxBodyBytes,
		watchInterval: time.Second,
		now:           time.Now,
	}
	if srv.maxBodyBytes <= 0 {
		srv.maxBodyBytes = 1024 * 1024
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	if cfg.Server.TrustProxyHeaders {
		mux.Use(chimw.RealIP)
	}
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))
	mux.Use(srv.gateMiddleware)

	// Health checks
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)
	mux.Get("/api/health", srv.handleHealth)
	mux.Get("/api/status", srv.handleStatus)

	// Catalog and checkout
	mux.Get("/api/products", srv.handleListProducts)
	mux.Get("/api/diet-plans", srv.handleListDietPlans)
	mux.Post("/api/stripe-webhook", srv.handleStripeWebhook)

	// Processor trigger for external schedulers.
	mux.Get("/api/cron/process-meal-plans", srv.handleCron)
	mux.Post("/api/cron/process-meal-plans", srv.handleCron)
	mux.Get("/api/cron/generate-images", srv.handleCronImages)
	mux.Post("/api/cron/generate-images", srv.handleCronImages)

	mux.Get("/api/download-sample-pdf", srv.handleDownloadSamplePDF)
	mux.Get("/files/*", srv.handleFile)
	mux.Get("/api/auth/magic-link", srv.handleVerifyMagicLink)
	mux.Post("/api/auth/logout", srv.handleLogout)

	// Credential endpoints, limited per client IP.
	srv.loginRL = newRateLimiter(5, 10)
	mux.Group(func(r chi.Router) {
		r.Use(loginIPRateLimitMiddleware(srv.loginRL))
		r.Post("/api/auth/signup", srv.handleSignup)
		r.Post("/api/auth/login", srv.handleLogin)
		r.Post("/api/auth/magic-link", srv.handleRequestMagicLink)
		r.Post("/api/auth/forgot-password", srv.handleForgotPassword)
		r.Post("/api/auth/reset-password", srv.handleResetPassword)
		r.Post("/api/admin/login", srv.handleAdminLogin)
		r.Post("/api/create-checkout-session", srv.handleCreateCheckout)
	})

	// WebSocket route (auth handled inside)
	mux.Get("/ws/jobs/{jobID}", srv.handleJobWS)

	// Routes below are gated by gateMiddleware, which puts the identity in
	// the request context.
	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(rateLimitMiddleware(srv.rl))

		r.Get("/api/user/profile", srv.handleProfile)
		r.Get("/api/user/preferences", srv.handleGetPreferences)
		r.Put("/api/user/preferences", srv.handlePutPreferences)
		r.Post("/api/billing/portal", srv.handlePortal)
		r.Get("/api/meal-plans", srv.handleMealPlans)
		r.Get("/api/shopping-list", srv.handleShoppingList)
		r.Get("/api/download-pdf", srv.handleDownloadPDF)
		r.Get("/api/recipes/by-name/{name}", srv.handleRecipeByName)
		r.Get("/api/recipes/{recipeID}", srv.handleGetRecipe)
		r.Get("/api/jobs", srv.handleListJobs)
		r.Get("/api/jobs/{jobID}", srv.handleGetJob)

		// Admin routes
		r.Post("/api/admin/logout", srv.handleAdminLogout)
		r.Get("/api/admin/recipes", srv.handleAdminListRecipes)
		r.Delete("/api/admin/recipes/{recipeID}", srv.handleAdminDeleteRecipe)
		r.Post("/api/admin/generate-recipes", srv.handleAdminGenerateRecipes)
		r.Post("/api/admin/generate-images", srv.handleAdminBackfillImages)
		r.Get("/api/admin/jobs", srv.handleListJobs)
		r.Post("/api/admin/jobs/{jobID}/reset", srv.handleAdminResetJob)
		r.Get("/api/admin/users", srv.handleAdminListUsers)
	})

	// Serve UI static files if configured.
	uiDir := cfg.Server.UIStaticDir
	if uiDir != "" {
		fileServer := http.FileServer(http.Dir(uiDir))
		mux.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Try serving the file, fall back to index.html for SPA routing.
			path := r.URL.Path
			if path != "/" && !strings.Contains(path, ".") {
				r.URL.Path = "/"
			}
			fileServer.ServeHTTP(w, r)
		}))
	}

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.loginRL.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, database, code := "ok", "connected", http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check: database unreachable", "error", err)
		status, database, code = "degraded", "error", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":       status,
		"database":     database,
		"integrations": s.integrations,
		"timestamp":    s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    s.version,
		"uptime":     time.Since(s.startTime).Truncate(time.Second).String(),
		"started_at": s.startTime.UTC().Format(time.RFC3339),
	})
}

// --- Helpers ---

// decodeJSON reads a bounded JSON body into dst, answering 400 on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
