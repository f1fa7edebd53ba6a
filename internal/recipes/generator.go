package recipes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mealplanhq/mealplan/internal/llm"
	"github.com/mealplanhq/mealplan/internal/store"
)

// Recipe sources.
const (
	SourceAI     = "ai"
	SourceSample = "sample"
	SourceAdmin  = "admin"
)

const imageConcurrency = 4

// BatchResult holds the recipes persisted by a batch and the per-item errors.
type BatchResult struct {
	Recipes []store.Recipe `json:"recipes"`
	Errors  []string       `json:"errors,omitempty"`
}

// Generator creates recipes with a language model and stores them.
type Generator struct {
	store  store.Store
	text   llm.Completer
	images llm.ImageGenerator
	logger *slog.Logger
}

// NewGenerator creates a generator. text and images may be nil; without a
// text backend sample recipes are used.
func NewGenerator(s store.Store, text llm.Completer, images llm.ImageGenerator, logger *slog.Logger) *Generator {
	return &Generator{
		store:  s,
		text:   text,
		images: images,
		logger: logger.With("component", "recipes"),
	}
}

// UsesAI reports whether a model backend is configured.
func (g *Generator) UsesAI() bool { return g.text != nil }

// Generate produces req.Count recipes. Failures are recorded per item and
// never abort the batch.
func (g *Generator) Generate(ctx context.Context, req Request) BatchResult {
	count := req.Count
	if count <= 0 {
		count = 1
	}

	var res BatchResult
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("batch cancelled: %v", err))
			break
		}

		difficulty := req.Difficulty
		if difficulty == "" {
			difficulty = difficultyCycle[i%len(difficultyCycle)]
		}

		r, err := g.generateOne(ctx, req, difficulty, i)
		if err != nil {
			g.logger.Warn("recipe generation failed", "diet", req.DietType, "meal_type", req.MealType, "item", i+1, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("recipe %d: %v", i+1, err))
			continue
		}
		res.Recipes = append(res.Recipes, *r)
	}

	if g.images != nil && len(res.Recipes) > 0 {
		g.attachImages(ctx, res.Recipes)
	}

	g.logger.Info("recipe batch generated",
		"diet", req.DietType,
		"meal_type", req.MealType,
		"requested", count,
		"created", len(res.Recipes),
		"errors", len(res.Errors),
	)
	return res
}

func (g *Generator) generateOne(ctx context.Context, req Request, difficulty string, index int) (*store.Recipe, error) {
	var (
		draft  *Draft
		source string
	)
	if g.text != nil {
		out, err := g.text.Complete(ctx, BuildPrompt(req, difficulty))
		if err != nil {
			return nil, err
		}
		draft, err = ParseDraft(out)
		if err != nil {
			return nil, err
		}
		source = SourceAI
	} else {
		samples := samplesFor(req.DietType)
		d := samples[index%len(samples)]
		draft = &d
		source = SourceSample
	}

	r := draft.Recipe(uuid.New().String(), req.DietType, req.MealType, source)
	if req.Servings > 0 && r.Servings == 0 {
		r.Servings = req.Servings
	}
	if err := g.store.CreateRecipe(ctx, r); err != nil {
		return nil, fmt.Errorf("save recipe: %w", err)
	}
	return r, nil
}

// attachImages generates one primary image per recipe with bounded
// concurrency. Image failures are logged and otherwise ignored; the number of
// recipes that received an image is returned.
func (g *Generator) attachImages(ctx context.Context, recipes []store.Recipe) int {
	var (
		eg    errgroup.Group
		added atomic.Int64
	)
	eg.SetLimit(imageConcurrency)
	for i := range recipes {
		r := &recipes[i]
		eg.Go(func() error {
			if g.attachImage(ctx, r) {
				added.Add(1)
			}
			return nil
		})
	}
	_ = eg.Wait()
	return int(added.Load())
}

func (g *Generator) attachImage(ctx context.Context, r *store.Recipe) bool {
	prompt := ImagePrompt(r.Name, r.Description)
	url, err := g.images.GenerateImage(ctx, prompt)
	if err != nil {
		g.logger.Warn("image generation failed", "recipe_id", r.ID, "error", err)
		return false
	}
	img := store.RecipeImage{URL: url, Prompt: prompt, IsPrimary: true}
	if err := g.store.AddRecipeImage(ctx, r.ID, img); err != nil {
		g.logger.Warn("save image failed", "recipe_id", r.ID, "error", err)
		return false
	}
	r.Images = append(r.Images, img)
	return true
}

// ErrNoImageBackend is returned when image generation is not configured.
var ErrNoImageBackend = errors.New("image generation is not configured")

// DefaultImageBackfill is the number of recipes one backfill run handles.
const DefaultImageBackfill = 10

// ImageBackfillResult summarizes a backfill run.
type ImageBackfillResult struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Recipes   []string `json:"recipe_ids,omitempty"`
}

// BackfillImages generates primary images for up to limit recipes that have
// none.
func (g *Generator) BackfillImages(ctx context.Context, limit int) (*ImageBackfillResult, error) {
	if g.images == nil {
		return nil, ErrNoImageBackend
	}
	if limit <= 0 {
		limit = DefaultImageBackfill
	}
	list, _, err := g.store.ListRecipes(ctx, store.RecipeFilter{MissingImage: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list recipes without images: %w", err)
	}

	succeeded := g.attachImages(ctx, list)
	res := &ImageBackfillResult{Processed: len(list), Succeeded: succeeded, Failed: len(list) - succeeded}
	for _, r := range list {
		if r.PrimaryImage() != "" {
			res.Recipes = append(res.Recipes, r.ID)
		}
	}
	if res.Processed > 0 {
		g.logger.Info("recipe images backfilled", "processed", res.Processed, "succeeded", res.Succeeded, "failed", res.Failed)
	}
	return res, nil
}
