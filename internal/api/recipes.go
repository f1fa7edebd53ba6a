package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mealplanhq/mealplan/internal/billing"
	"github.com/mealplanhq/mealplan/internal/recipes"
	"github.com/mealplanhq/mealplan/internal/store"
)

const (
	defaultRecipeLimit = 50
	maxRecipeLimit     = 200
	maxGenerateCount   = 20
	defaultBatchCount  = 5
)

func (s *Server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecipe(r.Context(), chi.URLParam(r, "recipeID"))
	if err != nil {
		s.logger.Error("get recipe failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "recipe not found")
		return
	}
	recipes.SortChildren(rec)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRecipeByName(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid recipe name")
		return
	}

	rec, err := recipes.FindByName(r.Context(), s.store, name)
	if err != nil {
		s.logger.Error("find recipe by name failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "recipe not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAdminListRecipes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := defaultRecipeLimit, 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxRecipeLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	list, total, err := s.store.ListRecipes(r.Context(), store.RecipeFilter{
		Diet:     q.Get("diet"),
		MealType: q.Get("meal"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.logger.Error("list recipes failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []store.Recipe{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recipes": list,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Server) handleAdminDeleteRecipe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "recipeID")
	if err := s.store.DeleteRecipe(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recipe not found")
			return
		}
		s.logger.Error("delete recipe failed", "recipe_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info("recipe deleted", "recipe_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleAdminGenerateRecipes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action     string `json:"action"`
		DietType   string `json:"dietType"`
		MealType   string `json:"mealType"`
		Count      int    `json:"count"`
		Servings   int    `json:"servings"`
		Difficulty string `json:"difficulty"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}

	count := 1
	switch req.Action {
	case "", "single":
	case "batch":
		count = req.Count
		if count == 0 {
			count = defaultBatchCount
		}
		if count < 1 || count > maxGenerateCount {
			writeError(w, http.StatusBadRequest, "count must be between 1 and 20")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "action must be single or batch")
		return
	}

	if req.DietType == "" {
		req.DietType = billing.DefaultDiet
	}
	plan, err := s.store.GetDietPlan(r.Context(), req.DietType)
	if err != nil {
		s.logger.Error("get diet plan failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if plan == nil {
		writeError(w, http.StatusBadRequest, "unknown diet type: "+req.DietType)
		return
	}
	if req.MealType == "" {
		req.MealType = store.MealDinner
	}
	if !store.ValidMealType(req.MealType) {
		writeError(w, http.StatusBadRequest, "unknown meal type: "+req.MealType)
		return
	}

	res := s.generator.Generate(r.Context(), recipes.Request{
		DietType:   req.DietType,
		MealType:   req.MealType,
		Count:      count,
		Servings:   req.Servings,
		Difficulty: req.Difficulty,
		Season:     recipes.SeasonFor(s.now().Month()),
	})
	if res.Recipes == nil {
		res.Recipes = []store.Recipe{}
	}

	s.logger.Info("recipes generated", "diet", req.DietType, "meal_type", req.MealType,
		"requested", count, "created", len(res.Recipes), "errors", len(res.Errors))

	status := http.StatusOK
	if len(res.Recipes) == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{
		"success": len(res.Errors) == 0,
		"recipes": res.Recipes,
		"errors":  res.Errors,
	})
}

func (s *Server) backfillImages(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		writeError(w, http.StatusServiceUnavailable, recipes.ErrNoImageBackend.Error())
		return
	}
	limit := recipes.DefaultImageBackfill
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxGenerateCount {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 20")
			return
		}
		limit = n
	}

	res, err := s.images.BackfillImages(context.WithoutCancel(r.Context()), limit)
	if errors.Is(err, recipes.ErrNoImageBackend) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("image backfill failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"processed": res.Processed,
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
		"recipes":   res.Recipes,
	})
}

func (s *Server) handleAdminBackfillImages(w http.ResponseWriter, r *http.Request) {
	s.backfillImages(w, r)
}

func (s *Server) handleCronImages(w http.ResponseWriter, r *http.Request) {
	if !s.cronAuthorized(w, r) {
		return
	}
	s.backfillImages(w, r)
}
