package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mealplanhq/mealplan/internal/auth"
	"github.com/mealplanhq/mealplan/internal/billing"
	"github.com/mealplanhq/mealplan/internal/blob"
	"github.com/mealplanhq/mealplan/internal/config"
	"github.com/mealplanhq/mealplan/internal/email"
	"github.com/mealplanhq/mealplan/internal/jobs"
	"github.com/mealplanhq/mealplan/internal/llm"
	"github.com/mealplanhq/mealplan/internal/mealplan"
	"github.com/mealplanhq/mealplan/internal/recipes"
	"github.com/mealplanhq/mealplan/internal/store"
)

// Services holds every client built from configuration. The server and the
// CLI commands share it.
type Services struct {
	Config    *config.Config
	Store     store.Store
	Auth      *auth.Service
	LLM       llm.Clients
	Generator *recipes.Generator
	Mail      *email.Sender
	Blobs     blob.Store
	Resolver  *mealplan.Resolver
	Catalog   *billing.Catalog
	Billing   billing.Provider // nil when Stripe is not configured
	Fulfiller *billing.Fulfiller
	Processor *jobs.Processor
}

// Build creates the services and bootstraps the initial admin.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	// Initialize storage.
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	authSvc := auth.NewService(db, cfg.Auth)
	if err := authSvc.Bootstrap(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap auth: %w", err)
	}

	mailer, err := email.NewFromConfig(cfg.Email, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init email: %w", err)
	}
	sender := email.NewSender(mailer, cfg.Server.BaseURL, logger)

	blobs, err := blob.New(ctx, cfg.Blob, cfg.Server.BaseURL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init blob storage: %w", err)
	}

	clients := llm.NewFromConfig(cfg.AI, logger)
	generator := recipes.NewGenerator(db, clients.Text, clients.Image, logger)
	resolver := mealplan.NewResolver(db, mealplan.NewLibrary(cfg.Server.StaticPlansDir), logger)
	catalog := billing.NewCatalog(billing.DefaultProducts(), cfg.Billing.PriceIDs)

	svc := &Services{
		Config:    cfg,
		Store:     db,
		Auth:      authSvc,
		LLM:       clients,
		Generator: generator,
		Mail:      sender,
		Blobs:     blobs,
		Resolver:  resolver,
		Catalog:   catalog,
		Fulfiller: billing.NewFulfiller(db, authSvc, sender, catalog, cfg.Jobs.TotalPhases, logger),
		Processor: jobs.NewProcessor(db, generator, resolver, blobs, sender, cfg.Jobs, logger),
	}

	stripe, err := billing.NewStripe(cfg.Billing.StripeSecretKey, cfg.Billing.StripeWebhookSecret, cfg.Billing.Currency)
	switch {
	case errors.Is(err, billing.ErrNotConfigured):
		logger.Warn("stripe secret key not set, checkout is disabled")
	case err != nil:
		_ = svc.Close()
		return nil, fmt.Errorf("init billing: %w", err)
	default:
		svc.Billing = stripe
	}

	if clients.Text == nil {
		logger.Warn("no AI API key configured, recipes are generated from samples")
	}
	return svc, nil
}

// Close releases the store and any blob client.
func (s *Services) Close() error {
	var errs []error
	if c, ok := s.Blobs.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, s.Store.Close())
	return errors.Join(errs...)
}
