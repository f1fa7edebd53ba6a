// Package app is the main orchestrator that ties all service components together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mealplanhq/mealplan/internal/api"
	"github.com/mealplanhq/mealplan/internal/config"
)

// App is the main service process.
type App struct {
	cfg      *config.Config
	services *Services
	api      *api.Server
	logger   *slog.Logger
}

// New creates a new app from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	svc, err := Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize API server.
	apiSrv := api.NewServer(api.Deps{
		Store:        svc.Store,
		Auth:         svc.Auth,
		Billing:      svc.Billing,
		Catalog:      svc.Catalog,
		Fulfiller:    svc.Fulfiller,
		Processor:    svc.Processor,
		Generator:    svc.Generator,
		Images:       svc.Generator,
		Resolver:     svc.Resolver,
		Blobs:        svc.Blobs,
		Mailer:       svc.Mail,
		Integrations: integrations(svc),
		Version:      version,
	}, cfg, logger)

	a := &App{
		cfg:      cfg,
		services: svc,
		api:      apiSrv,
		logger:   logger.With("component", "app"),
	}

	// Startup validation warnings.
	if cfg.Auth.InitialAdmin != nil && cfg.Auth.InitialAdmin.Password == "admin" {
		logger.Warn("default admin password detected, change it immediately in production")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}
	if !cfg.Auth.SecureCookies && cfg.Server.TLSCert != "" {
		logger.Warn("TLS is configured but auth.secure_cookies is off")
	}
	if cfg.Billing.Enabled() && cfg.Billing.StripeWebhookSecret == "" {
		logger.Warn("stripe webhook secret not set, webhooks will be rejected")
	}
	if cfg.Server.UIStaticDir != "" {
		if _, err := os.Stat(cfg.Server.UIStaticDir); os.IsNotExist(err) {
			logger.Warn("UI static directory does not exist", "path", cfg.Server.UIStaticDir)
		}
	}

	return a, nil
}

func integrations(svc *Services) api.Integrations {
	return api.Integrations{
		Stripe: svc.Billing != nil,
		AI:     svc.LLM.Text != nil,
		Images: svc.LLM.Image != nil,
		Email:  svc.Config.Email.ResendAPIKey != "",
		Blob:   svc.Config.Blob.Driver,
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start rate limiter cleanup tasks.
	a.api.StartBackgroundTasks(ctx)

	// Start the meal plan job ticker.
	if a.cfg.Jobs.TickerEnabled() {
		go a.runJobTicker(ctx, a.cfg.Jobs.Interval.Duration)
	} else {
		a.logger.Info("job ticker disabled, relying on the cron endpoint")
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("mealplan listening", "addr", a.cfg.Server.Addr, "base_url", a.cfg.Server.BaseURL)
		if a.cfg.Server.TLSCert != "" && a.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(a.cfg.Server.TLSCert, a.cfg.Server.TLSKey)
		} else {
			a.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			a.logger.Info("http server stopped gracefully")
		}

		a.logger.Info("closing services")
		if err := a.services.Close(); err != nil {
			a.logger.Warn("close services", "error", err)
		}
		a.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = a.services.Close()
		return fmt.Errorf("http server: %w", err)
	}
}

// runJobTicker triggers the processor every interval. Batches run serially;
// a slow batch delays the next tick rather than overlapping it.
func (a *App) runJobTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := a.services.Processor.ProcessBatch(ctx)
			if !res.Success {
				a.logger.Warn("job batch reported errors", "errors", res.Errors)
			}
		}
	}
}
