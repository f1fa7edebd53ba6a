package recipes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mealplanhq/mealplan/internal/llm"
	"github.com/mealplanhq/mealplan/internal/store"
)

// CategorizeBatchSize is the number of recipes sent to the model per request.
const CategorizeBatchSize = 20

var categorizable = map[string]bool{
	store.MealBreakfast: true,
	store.MealLunch:     true,
	store.MealDinner:    true,
	store.MealSnack:     true,
}

// CategorizeResult counts assigned meal types.
type CategorizeResult struct {
	Total    int            `json:"total"`
	Counts   map[string]int `json:"counts"`
	Failures []string       `json:"failures,omitempty"`
}

type categorizeAnswer struct {
	ID       string `json:"id"`
	MealType string `json:"meal_type"`
}

// Categorize asks the model to assign a meal type to each recipe. Answers are
// keyed by recipe id; ids the model omits or answers with a type outside the
// allow-list are set to "any". With onlyUncategorized, recipes that already
// have a specific meal type are skipped.
func Categorize(ctx context.Context, s store.Store, text llm.Completer, onlyUncategorized bool) (*CategorizeResult, error) {
	if text == nil {
		return nil, fmt.Errorf("categorize: no AI backend configured")
	}
	filter := store.RecipeFilter{}
	if onlyUncategorized {
		filter.MealType = store.MealAny
	}
	all, err := loadAll(ctx, s, filter)
	if err != nil {
		return nil, err
	}

	res := &CategorizeResult{Counts: map[string]int{}}
	for start := 0; start < len(all); start += CategorizeBatchSize {
		end := min(start+CategorizeBatchSize, len(all))
		batch := all[start:end]

		answers, err := categorizeBatch(ctx, s, text, batch)
		if err != nil {
			res.Failures = append(res.Failures, fmt.Sprintf("batch %d: %v", start/CategorizeBatchSize+1, err))
			continue
		}
		for _, r := range batch {
			meal := answers[r.ID]
			if !categorizable[meal] {
				meal = store.MealAny
			}
			if err := s.SetRecipeMealType(ctx, r.ID, meal); err != nil {
				res.Failures = append(res.Failures, fmt.Sprintf("%s: %v", r.ID, err))
				continue
			}
			res.Counts[meal]++
			res.Total++
		}
	}
	return res, nil
}

func categorizeBatch(ctx context.Context, s store.Store, text llm.Completer, batch []store.Recipe) (map[string]string, error) {
	var b strings.Builder
	b.WriteString(`Categorize these recipes by meal type: breakfast, lunch, dinner, or snack.

Rules:
- breakfast: oatmeal, eggs, breakfast bowls, frittatas, muffins, pancakes, yogurt
- lunch: sandwiches, wraps, salads, light pasta, soups
- dinner: hearty mains, salmon, chicken bakes, substantial pasta, grain bowls
- snack: bites, dips, small portions, finger foods

Recipes:
`)
	for _, r := range batch {
		full, err := s.GetRecipe(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("get recipe: %w", err)
		}
		var names []string
		if full != nil {
			for i, ing := range full.Ingredients {
				if i == 5 {
					break
				}
				names = append(names, ing.Item)
			}
		}
		ingredients := "N/A"
		if len(names) > 0 {
			ingredients = strings.Join(names, ", ")
		}
		fmt.Fprintf(&b, "- id=%s | %s | ingredients: %s\n", r.ID, r.Name, ingredients)
	}
	b.WriteString(`
Respond with ONLY a JSON array, one object per recipe, using the ids above:
[{"id": "<recipe id>", "meal_type": "breakfast|lunch|dinner|snack"}]`)

	out, err := text.Complete(ctx, b.String())
	if err != nil {
		return nil, err
	}
	return parseCategorization(out)
}

func parseCategorization(out string) (map[string]string, error) {
	body := strings.TrimSpace(out)
	if m := fencePattern.FindStringSubmatch(body); m != nil {
		body = m[1]
	} else if start, end := strings.Index(body, "["), strings.LastIndex(body, "]"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var answers []categorizeAnswer
	if err := json.Unmarshal([]byte(body), &answers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	result := make(map[string]string, len(answers))
	for _, a := range answers {
		result[strings.TrimSpace(a.ID)] = strings.ToLower(strings.TrimSpace(a.MealType))
	}
	return result, nil
}
