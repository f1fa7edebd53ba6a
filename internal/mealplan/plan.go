// Package mealplan resolves monthly meal plans, either personalized from a
// completed job or from the bundled static plans, and renders them to PDF.
package mealplan

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mealplanhq/mealplan/internal/store"
)

//go:embed data/*.json
var bundled embed.FS

var (
	// ErrPlanNotFound is returned when neither a personalized nor a static plan exists.
	ErrPlanNotFound = errors.New("meal plan not found")
	// ErrInvalidWeek is returned for week numbers outside 1..5.
	ErrInvalidWeek = errors.New("invalid week")
)

// MenuTypes lists the diets with bundled monthly plans.
var MenuTypes = []string{
	"mediterranean",
	"intermittent-fasting",
	"family-focused",
	"paleo",
	"vegetarian",
	"vegan",
	"global-cuisine",
}

// MaxWeeks is the highest week number a plan can be filtered to.
const MaxWeeks = 5

// Plan is a month of meals with its shopping lists.
type Plan struct {
	MenuType            string                  `json:"menuType"`
	Month               int                     `json:"month"`
	Year                int                     `json:"year"`
	Title               string                  `json:"title"`
	Description         string                  `json:"description,omitempty"`
	NutritionTargets    *NutritionTargets       `json:"nutritionTargets,omitempty"`
	DailyMeals          map[string]Day          `json:"dailyMeals"`
	WeeklyShoppingLists map[string]ShoppingList `json:"weeklyShoppingLists,omitempty"`
	MealPrepGuide       *PrepGuide              `json:"mealPrepGuide,omitempty"`
	IsPersonalized      bool                    `json:"isPersonalized"`
	PreparedFor         string                  `json:"preparedFor,omitempty"`
	FamilySize          int                     `json:"familySize,omitempty"`
	Recipes             []store.Recipe          `json:"recipes,omitempty"`
}

// Day holds the meals of one calendar day.
type Day struct {
	Date          string `json:"date"`
	FastingPeriod string `json:"fastingPeriod,omitempty"`
	Breakfast     *Meal  `json:"breakfast,omitempty"`
	Lunch         *Meal  `json:"lunch,omitempty"`
	Dinner        *Meal  `json:"dinner,omitempty"`
	Snacks        []Meal `json:"snacks,omitempty"`
	TotalCalories int    `json:"totalCalories,omitempty"`
}

// Meal is one entry of a day.
type Meal struct {
	Name     string `json:"name"`
	Calories int    `json:"calories,omitempty"`
	Protein  string `json:"protein,omitempty"`
	PrepTime string `json:"prepTime,omitempty"`
	Time     string `json:"time,omitempty"`
	RecipeID string `json:"recipeId,omitempty"`
}

// NutritionTargets are the daily goals of a diet.
type NutritionTargets struct {
	DailyCalories string            `json:"dailyCalories,omitempty"`
	Macros        map[string]string `json:"macros,omitempty"`
	Notes         []string          `json:"notes,omitempty"`
}

// PrepGuide lists the batch-cooking sessions of a week.
type PrepGuide struct {
	Sunday       []string `json:"sunday,omitempty"`
	Wednesday    []string `json:"wednesday,omitempty"`
	TimeEstimate string   `json:"timeEstimate,omitempty"`
}

// NumberedDay pairs a day with its 1-based position in the month.
type NumberedDay struct {
	Number int
	Day    Day
}

// Days returns the plan's days ordered by day number. Keys that are not of
// the form day_N are skipped.
func (p *Plan) Days() []NumberedDay {
	out := make([]NumberedDay, 0, len(p.DailyMeals))
	for key, d := range p.DailyMeals {
		n, ok := dayNumber(key)
		if !ok {
			continue
		}
		out = append(out, NumberedDay{Number: n, Day: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// ShoppingList returns the list for a week. Both week_N and weekN keys are
// recognized.
func (p *Plan) ShoppingList(week int) (ShoppingList, bool) {
	if l, ok := p.WeeklyShoppingLists[weekKey(week)]; ok {
		return l, true
	}
	l, ok := p.WeeklyShoppingLists["week"+strconv.Itoa(week)]
	return l, ok
}

// Weeks returns the week numbers that have a shopping list, ascending.
func (p *Plan) Weeks() []int {
	var out []int
	for w := 1; w <= MaxWeeks; w++ {
		if _, ok := p.ShoppingList(w); ok {
			out = append(out, w)
		}
	}
	return out
}

func dayKey(n int) string  { return "day_" + strconv.Itoa(n) }
func weekKey(n int) string { return "week_" + strconv.Itoa(n) }

func dayNumber(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, "day_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	return n, err == nil && n > 0
}

// WeekRange returns the inclusive day span of a week: days (w-1)*7+1 through
// min(w*7, 30).
func WeekRange(week int) (first, last int) {
	return (week-1)*7 + 1, min(week*7, 30)
}

// FilterWeek returns a copy of p restricted to one week's days. The title gains
// a " - Week N" suffix, only that week's shopping list is kept, and personalized
// recipe cards are limited to the recipes served that week.
func FilterWeek(p *Plan, week int) (*Plan, error) {
	if week < 1 || week > MaxWeeks {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWeek, week)
	}
	first, last := WeekRange(week)

	out := *p
	out.Title = fmt.Sprintf("%s - Week %d", p.Title, week)
	out.DailyMeals = make(map[string]Day)
	served := map[string]bool{}
	for n := first; n <= last; n++ {
		d, ok := p.DailyMeals[dayKey(n)]
		if !ok {
			continue
		}
		out.DailyMeals[dayKey(n)] = d
		for _, m := range d.meals() {
			if m.RecipeID != "" {
				served[m.RecipeID] = true
			}
		}
	}

	out.WeeklyShoppingLists = nil
	if l, ok := p.ShoppingList(week); ok {
		out.WeeklyShoppingLists = map[string]ShoppingList{weekKey(week): l}
	}

	if len(p.Recipes) > 0 {
		out.Recipes = nil
		for _, r := range p.Recipes {
			if served[r.ID] {
				out.Recipes = append(out.Recipes, r)
			}
		}
	}
	return &out, nil
}

func (d Day) meals() []Meal {
	var out []Meal
	for _, m := range []*Meal{d.Breakfast, d.Lunch, d.Dinner} {
		if m != nil {
			out = append(out, *m)
		}
	}
	return append(out, d.Snacks...)
}

// DietTitle returns the display name of a diet slug, e.g. "Family Focused".
func DietTitle(slug string) string {
	for _, dp := range store.DefaultDietPlans {
		if dp.Slug == slug {
			return dp.Name
		}
	}
	words := strings.Fields(strings.ReplaceAll(slug, "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Library loads bundled monthly plans. Files in dir, when set, take
// precedence over the embedded ones.
type Library struct {
	dir string
}

// NewLibrary creates a library with an optional override directory.
func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

// StaticFileName returns the bundled file name of a plan, e.g.
// "mediterranean-2025-01.json".
func StaticFileName(menuType string, month, year int) string {
	return fmt.Sprintf("%s-%d-%02d.json", menuType, year, month)
}

// Static loads the bundled plan for a diet and month. It returns
// ErrPlanNotFound when no file exists.
func (l *Library) Static(menuType string, month, year int) (*Plan, error) {
	if !validMenuName(menuType) {
		return nil, ErrPlanNotFound
	}
	return l.load(StaticFileName(menuType, month, year))
}

// Base returns any bundled plan of the diet, used for its targets and prep
// guide when a personalized plan is assembled. It returns nil when the diet has
// no bundled plan.
func (l *Library) Base(menuType string) *Plan {
	if !validMenuName(menuType) {
		return nil
	}
	matches, _ := fs.Glob(bundled, "data/"+menuType+"-*.json")
	if l.dir != "" {
		local, _ := filepath.Glob(filepath.Join(l.dir, menuType+"-*.json"))
		for _, m := range local {
			matches = append([]string{filepath.Base(m)}, matches...)
		}
	}
	for _, m := range matches {
		if p, err := l.load(filepath.Base(m)); err == nil {
			return p
		}
	}
	return nil
}

func (l *Library) load(name string) (*Plan, error) {
	var (
		data []byte
		err  error
	)
	if l.dir != "" {
		data, err = os.ReadFile(filepath.Join(l.dir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read plan %s: %w", name, err)
		}
	}
	if data == nil {
		data, err = bundled.ReadFile("data/" + name)
		if err != nil {
			return nil, ErrPlanNotFound
		}
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", name, err)
	}
	return &p, nil
}

// validMenuName keeps menu types from escaping the plan directory.
func validMenuName(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
			return false
		}
	}
	return true
}
