// Package jobs runs the phased meal plan generation pipeline: it claims
// queued jobs, fills each phase's recipe slots, and on the last phase renders,
// stores and delivers the plan.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mealplanhq/mealplan/internal/blob"
	"github.com/mealplanhq/mealplan/internal/config"
	"github.com/mealplanhq/mealplan/internal/mealplan"
	"github.com/mealplanhq/mealplan/internal/recipes"
	"github.com/mealplanhq/mealplan/internal/store"
)

// ErrNoRecipes is returned when a phase ends up with no usable recipe.
var ErrNoRecipes = errors.New("no recipes matched the job")

// historyMonths is how far back a customer's received recipes are excluded
// from library top-ups.
const historyMonths = 3

// Generator produces and stores recipes.
type Generator interface {
	Generate(ctx context.Context, req recipes.Request) recipes.BatchResult
}

// Notifier delivers a finished plan to the customer.
type Notifier interface {
	SendPlanReady(ctx context.Context, to, productName, diet, link string, pdf []byte) error
}

// BatchResult summarizes one trigger of the processor.
type BatchResult struct {
	Success    bool     `json:"success"`
	Processed  int      `json:"processed"`
	Succeeded  int      `json:"succeeded"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
	DurationMS int64    `json:"duration_ms"`
}

// Processor claims and advances meal plan jobs.
type Processor struct {
	store     store.Store
	generator Generator
	resolver  *mealplan.Resolver
	blobs     blob.Store
	notifier  Notifier
	cfg       config.JobsConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewProcessor creates a processor. notifier may be nil.
func NewProcessor(s store.Store, gen Generator, resolver *mealplan.Resolver, blobs blob.Store, notifier Notifier, cfg config.JobsConfig, logger *slog.Logger) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.TotalPhases <= 0 {
		cfg.TotalPhases = 5
	}
	if cfg.SnackCount < 0 {
		cfg.SnackCount = 0
	}
	if cfg.Lease.Duration <= 0 {
		cfg.Lease.Duration = 10 * time.Minute
	}
	return &Processor{
		store:     s,
		generator: gen,
		resolver:  resolver,
		blobs:     blobs,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With("component", "jobs"),
		now:       time.Now,
	}
}

// ProcessBatch claims up to the configured batch size of jobs and runs one
// phase of each, serially.
func (p *Processor) ProcessBatch(ctx context.Context) BatchResult {
	start := time.Now()
	res := BatchResult{Success: true, Errors: []string{}}

	for range p.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		job, err := p.store.ClaimJob(ctx, p.now(), p.cfg.Lease.Duration)
		if err != nil {
			res.Success = false
			res.Errors = append(res.Errors, err.Error())
			p.logger.Error("claim job failed", "error", err)
			break
		}
		if job == nil {
			break
		}

		res.Processed++
		if err := p.RunPhase(ctx, job); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("job %s: %v", job.ID, err))
			continue
		}
		res.Succeeded++
	}

	res.DurationMS = time.Since(start).Milliseconds()
	if res.Processed > 0 {
		p.logger.Info("job batch processed",
			"processed", res.Processed,
			"succeeded", res.Succeeded,
			"failed", res.Failed,
			"duration_ms", res.DurationMS,
		)
	}
	return res
}

// RunPhase fills the current phase of a claimed job and either advances it or,
// on the last phase, completes it. Errors other than a lost phase race or a
// cancelled context mark the job failed.
func (p *Processor) RunPhase(ctx context.Context, job *store.MealPlanJob) error {
	p.normalize(job)
	phase, total := job.CurrentPhase, job.TotalPhases
	logger := p.logger.With("job_id", job.ID, "phase", phase, "total_phases", total)
	logger.Info("running job phase", "diet", job.DietType, "email", job.CustomerEmail)

	entries, progress, err := p.fillPhase(ctx, job)
	if err == nil && len(entries) == 0 {
		err = ErrNoRecipes
	}
	if err == nil {
		if phase < total {
			err = p.store.AdvanceJob(ctx, job.ID, phase, entries, progress)
		} else {
			err = p.complete(ctx, job, entries)
		}
	}

	switch {
	case err == nil:
		logger.Info("job phase done", "recipes", len(entries), "progress", progress)
		return nil
	case errors.Is(err, store.ErrConflict):
		logger.Warn("job phase superseded", "error", err)
		return err
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		// The row stays processing; it is reclaimed once the lease expires.
		logger.Warn("job phase interrupted", "error", err, "lease", p.cfg.Lease.Duration)
		return err
	}

	logger.Error("job failed", "error", err)
	if ferr := p.store.FailJob(context.WithoutCancel(ctx), job.ID, err.Error()); ferr != nil {
		logger.Error("mark job failed", "error", ferr)
	}
	return err
}

func (p *Processor) normalize(job *store.MealPlanJob) {
	if job.TotalPhases < 1 {
		job.TotalPhases = p.cfg.TotalPhases
	}
	if job.CurrentPhase < 1 {
		job.CurrentPhase = 1
	}
	if job.Month < 1 || job.Month > 12 || job.Year == 0 {
		now := p.now()
		job.Month, job.Year = int(now.Month()), now.Year()
	}
	if job.DaysInMonth <= 0 {
		job.DaysInMonth = time.Date(job.Year, time.Month(job.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	}
	if job.DietType == "" {
		job.DietType = "mediterranean"
	}
}

// maxPrepTime reads the prep time cap, in minutes, from the job's
// customizations.
func maxPrepTime(job *store.MealPlanJob) int {
	for _, key := range []string{"max_prep_time", "maxPrepTime"} {
		switch v := job.Customizations[key].(type) {
		case float64:
			return int(v)
		case int:
			return v
		}
	}
	return 0
}

// fillPhase generates, filters and tops up the recipes for the job's current
// phase and returns the accumulator entries plus a progress note.
func (p *Processor) fillPhase(ctx context.Context, job *store.MealPlanJob) ([]store.GeneratedRecipe, string, error) {
	slots := PhaseSlots(Layout(job.DaysInMonth, p.cfg.SnackCount), job.CurrentPhase, job.TotalPhases)
	filters := NewFilters(job)

	exclude := map[string]bool{}
	for _, e := range job.GeneratedRecipes {
		exclude[e.RecipeID] = true
	}
	since := time.Date(job.Year, time.Month(job.Month)-historyMonths, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
	history, err := p.store.ListCustomerRecipeIDs(ctx, job.CustomerEmail, since)
	if err != nil {
		return nil, "", fmt.Errorf("load recipe history: %w", err)
	}
	for _, id := range history {
		exclude[id] = true
	}

	servings := job.FamilySize
	if servings <= 0 {
		servings = mealplan.BaselineServings
	}

	var (
		entries   []store.GeneratedRecipe
		notes     []string
		generated int
		topped    int
	)
	order, groups := byMealType(slots)
	for _, mealType := range order {
		group := groups[mealType]
		var picked []store.Recipe

		res := p.generator.Generate(ctx, recipes.Request{
			DietType:    job.DietType,
			MealType:    mealType,
			Count:       len(group),
			Servings:    servings,
			MaxPrepTime: maxPrepTime(job),
			Season:      recipes.SeasonFor(time.Month(job.Month)),
			Avoid:       filters.Avoid(job),
		})
		notes = append(notes, res.Errors...)
		for i := range res.Recipes {
			r := &res.Recipes[i]
			if len(picked) == len(group) {
				break
			}
			if reason := filters.Reject(r); reason != "" {
				notes = append(notes, fmt.Sprintf("skipped %q: %s", r.Name, reason))
				continue
			}
			exclude[r.ID] = true
			picked = append(picked, *r)
			generated++
		}

		if short := len(group) - len(picked); short > 0 {
			extra, err := p.topUp(ctx, job.DietType, mealType, short, filters, exclude)
			if err != nil {
				return nil, "", err
			}
			picked = append(picked, extra...)
			topped += len(extra)
		}

		for i, r := range picked {
			entries = append(entries, store.GeneratedRecipe{
				RecipeID: r.ID,
				Name:     r.Name,
				MealType: mealType,
				Slot:     group[i].Index,
				Phase:    job.CurrentPhase,
			})
		}
	}

	progress := fmt.Sprintf("phase %d/%d: %d of %d recipes (%d generated, %d from library)",
		job.CurrentPhase, job.TotalPhases, len(entries), len(slots), generated, topped)
	if len(notes) > 0 {
		progress += "; " + strings.Join(notes, "; ")
	}
	return entries, progress, nil
}

// topUp picks up to n library recipes of the diet and meal type that pass the
// filters and are not excluded.
func (p *Processor) topUp(ctx context.Context, diet, mealType string, n int, filters *Filters, exclude map[string]bool) ([]store.Recipe, error) {
	ids := make([]string, 0, len(exclude))
	for id := range exclude {
		ids = append(ids, id)
	}
	candidates, _, err := p.store.ListRecipes(ctx, store.RecipeFilter{
		Diet:       diet,
		MealType:   mealType,
		ExcludeIDs: ids,
		Limit:      200,
	})
	if err != nil {
		return nil, fmt.Errorf("list library recipes: %w", err)
	}

	var out []store.Recipe
	for _, c := range candidates {
		if len(out) == n {
			break
		}
		r, err := p.store.GetRecipe(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("get recipe %s: %w", c.ID, err)
		}
		if r == nil || filters.Reject(r) != "" {
			continue
		}
		exclude[r.ID] = true
		out = append(out, *r)
	}
	return out, nil
}

// complete renders the whole plan, stores the PDF and marks the job done. The
// delivery email is best effort.
func (p *Processor) complete(ctx context.Context, job *store.MealPlanJob, entries []store.GeneratedRecipe) error {
	full := *job
	full.GeneratedRecipes = append(append([]store.GeneratedRecipe(nil), job.GeneratedRecipes...), entries...)

	plan, err := p.resolver.ForJob(ctx, &full)
	if err != nil {
		return fmt.Errorf("assemble plan: %w", err)
	}
	pdf, err := mealplan.Render(plan)
	if err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	url, err := blob.Upload(ctx, p.blobs, blob.PlanKey(job.ID, job.Year, job.Month, job.DietType), pdf, "application/pdf")
	if err != nil {
		return fmt.Errorf("store pdf: %w", err)
	}

	ids := make([]string, 0, len(plan.Recipes))
	for _, r := range plan.Recipes {
		ids = append(ids, r.ID)
	}
	month := fmt.Sprintf("%04d-%02d", job.Year, job.Month)
	if err := p.store.RecordCustomerRecipes(ctx, job.CustomerEmail, month, ids); err != nil {
		return fmt.Errorf("record recipe history: %w", err)
	}

	if err := p.store.CompleteJob(ctx, job.ID, job.CurrentPhase, entries, url); err != nil {
		return err
	}
	p.logger.Info("meal plan completed", "job_id", job.ID, "recipes", len(full.GeneratedRecipes), "pdf_url", url)

	if p.notifier != nil {
		product := "Meal Plan"
		if purchase, err := p.store.GetPurchaseBySession(ctx, job.StripeSessionID); err == nil && purchase != nil && purchase.ProductName != "" {
			product = purchase.ProductName
		}
		if err := p.notifier.SendPlanReady(ctx, job.CustomerEmail, product, job.DietType, url, pdf); err != nil {
			p.logger.Warn("plan ready email failed", "job_id", job.ID, "error", err)
		}
	}
	return nil
}
