package recipes

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mealplanhq/mealplan/internal/store"
)

var (
	keyIngredients = []string{"avocado", "feta", "oats", "yogurt", "chicken", "salmon", "quinoa", "chickpea", "lentil", "beef", "lamb", "egg", "spinach", "toast"}
	cuisines       = []string{"mediterranean", "greek", "moroccan", "turkish", "italian", "spanish"}
	methods        = []string{"grilled", "roasted", "baked", "fried", "sauteed", "overnight", "poached"}
	categories     = map[string]int{"salad": 3, "soup": 3, "toast": 3, "bowl": 2, "platter": 2}
)

// MatchScore scores how well candidate answers a lookup for query. Ingredient
// items of the candidate are consulted for key ingredients missing from its name.
func MatchScore(query, candidate string, ingredients []store.Ingredient) int {
	q, c := strings.ToLower(query), strings.ToLower(candidate)
	candWords := strings.Fields(c)

	score := 0
	for _, w := range strings.Fields(q) {
		if len(w) <= 2 {
			continue
		}
		for _, cw := range candWords {
			if strings.Contains(cw, w) || strings.Contains(w, cw) {
				score += 3
				break
			}
		}
	}

	for _, ing := range keyIngredients {
		if !strings.Contains(q, ing) {
			continue
		}
		if strings.Contains(c, ing) {
			score += 5
			continue
		}
		for _, item := range ingredients {
			if strings.Contains(strings.ToLower(item.Item), ing) {
				score += 4
				break
			}
		}
	}

	for _, cuisine := range cuisines {
		if strings.Contains(q, cuisine) && strings.Contains(c, cuisine) {
			score += 2
		}
	}
	for _, m := range methods {
		if strings.Contains(q, m) && strings.Contains(c, m) {
			score += 2
		}
	}
	for word, bonus := range categories {
		if strings.Contains(q, word) && strings.Contains(c, word) {
			score += bonus
		}
	}
	return score
}

// FindByName returns the newest recipe whose name contains name
// (case-insensitive). When none does, every recipe is scored with MatchScore
// and the best one scoring above 1 is returned. The result is nil when nothing
// qualifies.
func FindByName(ctx context.Context, s store.Store, name string) (*store.Recipe, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	hits, err := s.SearchRecipesByName(ctx, name, 1)
	if err != nil {
		return nil, fmt.Errorf("search recipes: %w", err)
	}
	if len(hits) > 0 {
		return getSorted(ctx, s, hits[0].ID)
	}

	all, err := loadAll(ctx, s, store.RecipeFilter{})
	if err != nil {
		return nil, err
	}

	bestID, bestScore := "", 1
	for _, r := range all {
		var ingredients []store.Ingredient
		if needsIngredients(name, r.Name) {
			full, err := s.GetRecipe(ctx, r.ID)
			if err != nil {
				return nil, fmt.Errorf("get recipe: %w", err)
			}
			if full != nil {
				ingredients = full.Ingredients
			}
		}
		// Recipes arrive newest first, so ties keep the newest.
		if score := MatchScore(name, r.Name, ingredients); score > bestScore {
			bestID, bestScore = r.ID, score
		}
	}
	if bestID == "" {
		return nil, nil
	}
	return getSorted(ctx, s, bestID)
}

func getSorted(ctx context.Context, s store.Store, id string) (*store.Recipe, error) {
	r, err := s.GetRecipe(ctx, id)
	if err != nil || r == nil {
		return r, err
	}
	SortChildren(r)
	return r, nil
}

// needsIngredients reports whether a key ingredient of the query is absent
// from the candidate name, in which case its ingredient list can add points.
func needsIngredients(query, candidate string) bool {
	q, c := strings.ToLower(query), strings.ToLower(candidate)
	for _, ing := range keyIngredients {
		if strings.Contains(q, ing) && !strings.Contains(c, ing) {
			return true
		}
	}
	return false
}

// SortChildren orders ingredients by position and instructions by step.
func SortChildren(r *store.Recipe) {
	sort.SliceStable(r.Ingredients, func(i, j int) bool { return r.Ingredients[i].OrderIndex < r.Ingredients[j].OrderIndex })
	sort.SliceStable(r.Instructions, func(i, j int) bool { return r.Instructions[i].StepNumber < r.Instructions[j].StepNumber })
}
