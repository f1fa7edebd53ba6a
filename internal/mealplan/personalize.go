package mealplan

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mealplanhq/mealplan/internal/recipes"
	"github.com/mealplanhq/mealplan/internal/store"
)

// Personalize lays the job's recipes out over its month: one dinner per day
// rotating through the dinner recipes, plus one rotating snack when the job has
// snacks. Recipes are scaled to the family size and weekly shopping lists are
// computed from the scaled ingredients. base, when non-nil, supplies the
// description, nutrition targets and prep guide.
func Personalize(job *store.MealPlanJob, rs []store.Recipe, base *Plan) *Plan {
	servings := job.FamilySize
	if servings <= 0 {
		servings = BaselineServings
	}

	var dinners, snacks []store.Recipe
	scaled := make([]store.Recipe, 0, len(rs))
	for _, r := range rs {
		r = Scale(r, servings)
		scaled = append(scaled, r)
		if r.MealType == store.MealSnack {
			snacks = append(snacks, r)
		} else {
			dinners = append(dinners, r)
		}
	}

	days := job.DaysInMonth
	if days <= 0 {
		days = time.Date(job.Year, time.Month(job.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	}

	p := &Plan{
		MenuType:            job.DietType,
		Month:               job.Month,
		Year:                job.Year,
		Title:               fmt.Sprintf("%s - %s %d", DietTitle(job.DietType), time.Month(job.Month), job.Year),
		DailyMeals:          make(map[string]Day, days),
		WeeklyShoppingLists: map[string]ShoppingList{},
		IsPersonalized:      true,
		PreparedFor:         job.CustomerEmail,
		FamilySize:          servings,
		Recipes:             scaled,
	}
	if base != nil {
		p.Description = base.Description
		p.NutritionTargets = base.NutritionTargets
		p.MealPrepGuide = base.MealPrepGuide
	}

	byID := make(map[string]store.Recipe, len(scaled))
	for _, r := range scaled {
		byID[r.ID] = r
	}

	for n := 1; n <= days; n++ {
		d := Day{Date: time.Date(job.Year, time.Month(job.Month), n, 0, 0, 0, 0, time.UTC).Format(time.DateOnly)}
		if len(dinners) > 0 {
			m := mealFrom(dinners[(n-1)%len(dinners)])
			d.Dinner = &m
			d.TotalCalories += m.Calories
		}
		if len(snacks) > 0 {
			m := mealFrom(snacks[(n-1)%len(snacks)])
			d.Snacks = []Meal{m}
			d.TotalCalories += m.Calories
		}
		p.DailyMeals[dayKey(n)] = d
	}

	for w := 1; w <= MaxWeeks; w++ {
		first, last := WeekRange(w)
		if first > days {
			break
		}
		seen := map[string]bool{}
		var week []store.Recipe
		for n := first; n <= min(last, days); n++ {
			for _, m := range p.DailyMeals[dayKey(n)].meals() {
				if r, ok := byID[m.RecipeID]; ok && !seen[r.ID] {
					seen[r.ID] = true
					week = append(week, r)
				}
			}
		}
		p.WeeklyShoppingLists[weekKey(w)] = BuildShoppingList(week)
	}
	return p
}

func mealFrom(r store.Recipe) Meal {
	m := Meal{Name: r.Name, RecipeID: r.ID}
	if r.Nutrition != nil {
		m.Calories = int(r.Nutrition.Calories)
		if r.Nutrition.Protein > 0 {
			m.Protein = fmt.Sprintf("%.0fg", r.Nutrition.Protein)
		}
	}
	if total := r.PrepTime + r.CookTime; total > 0 {
		m.PrepTime = fmt.Sprintf("%d min", total)
	}
	return m
}

// Resolver picks the plan served for a customer: the personalized plan of a
// completed job when one exists, else the bundled static plan.
type Resolver struct {
	store   store.Store
	library *Library
	logger  *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(s store.Store, library *Library, logger *slog.Logger) *Resolver {
	return &Resolver{store: s, library: library, logger: logger.With("component", "mealplan")}
}

// Library returns the static plan library.
func (r *Resolver) Library() *Library { return r.library }

// Resolve returns the plan for email (which may be empty for anonymous
// callers), or ErrPlanNotFound. A failed personalized lookup falls back to the
// static plan.
func (r *Resolver) Resolve(ctx context.Context, email, menuType string, month, year int) (*Plan, error) {
	if email != "" {
		p, err := r.personalized(ctx, email, menuType, month, year)
		if err != nil {
			r.logger.Warn("personalized plan lookup failed, serving static plan",
				"menu_type", menuType, "month", month, "year", year, "error", err)
		} else if p != nil {
			return p, nil
		}
	}
	return r.library.Static(menuType, month, year)
}

func (r *Resolver) personalized(ctx context.Context, email, menuType string, month, year int) (*Plan, error) {
	job, err := r.store.FindCompletedJob(ctx, email, menuType, month, year)
	if err != nil {
		return nil, fmt.Errorf("find completed job: %w", err)
	}
	if job == nil {
		return nil, nil
	}
	p, err := r.ForJob(ctx, job)
	if err != nil {
		return nil, err
	}
	if len(p.Recipes) == 0 {
		return nil, nil
	}
	return p, nil
}

// ForJob assembles the personalized plan of a job from its accumulated
// recipes. Recipes deleted since the job ran are skipped.
func (r *Resolver) ForJob(ctx context.Context, job *store.MealPlanJob) (*Plan, error) {
	entries := make([]store.GeneratedRecipe, len(job.GeneratedRecipes))
	copy(entries, job.GeneratedRecipes)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Slot < entries[j].Slot })

	seen := map[string]bool{}
	var rs []store.Recipe
	for _, e := range entries {
		if seen[e.RecipeID] {
			continue
		}
		seen[e.RecipeID] = true
		rec, err := r.store.GetRecipe(ctx, e.RecipeID)
		if err != nil {
			return nil, fmt.Errorf("get recipe %s: %w", e.RecipeID, err)
		}
		if rec == nil {
			continue
		}
		recipes.SortChildren(rec)
		if e.MealType != "" {
			rec.MealType = e.MealType
		}
		rs = append(rs, *rec)
	}
	return Personalize(job, rs, r.library.Base(job.DietType)), nil
}
