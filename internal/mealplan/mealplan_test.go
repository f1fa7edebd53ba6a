package mealplan

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mealplanhq/mealplan/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// brokenJobStore fails completed-job lookups.
type brokenJobStore struct {
	store.Store
}

func (brokenJobStore) FindCompletedJob(context.Context, string, string, int, int) (*store.MealPlanJob, error) {
	return nil, errors.New("connection reset")
}

func TestResolverFallsBackOnLookupError(t *testing.T) {
	res := NewResolver(brokenJobStore{Store: newTestStore(t)}, NewLibrary(""), discardLogger())

	p, err := res.Resolve(context.Background(), "ana@example.com", "mediterranean", 1, 2025)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p == nil || p.IsPersonalized || p.MenuType != "mediterranean" {
		t.Fatalf("expected the static plan, got %+v", p)
	}

	if _, err := res.Resolve(context.Background(), "ana@example.com", "paleo", 3, 2030); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("missing static plan: err = %v, want ErrPlanNotFound", err)
	}
}

func TestStaticPlansAreBundled(t *testing.T) {
	lib := NewLibrary("")
	for _, mt := range MenuTypes {
		p, err := lib.Static(mt, 1, 2025)
		if err != nil {
			t.Fatalf("static %s: %v", mt, err)
		}
		if p.MenuType != mt {
			t.Errorf("menuType = %q, want %q", p.MenuType, mt)
		}
		if len(p.Days()) != 31 {
			t.Errorf("%s: %d days, want 31", mt, len(p.Days()))
		}
		if _, ok := p.ShoppingList(1); !ok {
			t.Errorf("%s: missing week 1 shopping list", mt)
		}
	}

	p, _ := lib.Static("mediterranean", 1, 2025)
	if p.Title != "Mediterranean - January 2025" {
		t.Errorf("title = %q", p.Title)
	}
	if p.IsPersonalized {
		t.Error("static plan marked personalized")
	}
}

func TestStaticNotFound(t *testing.T) {
	lib := NewLibrary("")
	for _, c := range []struct {
		menu        string
		month, year int
	}{
		{"mediterranean", 7, 2031},
		{"unknown", 1, 2025},
		{"../etc/passwd", 1, 2025},
		{"", 1, 2025},
	} {
		if _, err := lib.Static(c.menu, c.month, c.year); !errors.Is(err, ErrPlanNotFound) {
			t.Errorf("Static(%q, %d, %d) = %v, want ErrPlanNotFound", c.menu, c.month, c.year, err)
		}
	}
}

func TestLibraryOverrideDir(t *testing.T) {
	dir := t.TempDir()
	plan := `{"menuType":"mediterranean","month":1,"year":2025,"title":"Custom January","dailyMeals":{"day_1":{"date":"2025-01-01","dinner":{"name":"House Stew"}}}}`
	if err := os.WriteFile(filepath.Join(dir, "mediterranean-2025-01.json"), []byte(plan), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := NewLibrary(dir)
	p, err := lib.Static("mediterranean", 1, 2025)
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "Custom January" {
		t.Errorf("title = %q, want override", p.Title)
	}

	// Files missing from the override dir fall back to the bundled set.
	if _, err := lib.Static("vegan", 1, 2025); err != nil {
		t.Errorf("vegan fallback: %v", err)
	}
}

func TestFilterWeek(t *testing.T) {
	p, err := NewLibrary("").Static("mediterranean", 1, 2025)
	if err != nil {
		t.Fatal(err)
	}

	w2, err := FilterWeek(p, 2)
	if err != nil {
		t.Fatal(err)
	}
	days := w2.Days()
	if len(days) != 7 || days[0].Number != 8 || days[6].Number != 14 {
		t.Fatalf("week 2 days = %v", days)
	}
	if !strings.HasSuffix(w2.Title, " - Week 2") {
		t.Errorf("title = %q", w2.Title)
	}
	if len(p.Days()) != 31 {
		t.Error("FilterWeek modified the source plan")
	}

	w5, _ := FilterWeek(p, 5)
	if got := len(w5.Days()); got != 2 {
		t.Errorf("week 5 has %d days, want 2 (29-30)", got)
	}

	for _, bad := range []int{0, 6, -1} {
		if _, err := FilterWeek(p, bad); !errors.Is(err, ErrInvalidWeek) {
			t.Errorf("FilterWeek(%d) = %v", bad, err)
		}
	}
}

func TestShoppingListAcceptsBothWeekKeys(t *testing.T) {
	p := &Plan{WeeklyShoppingLists: map[string]ShoppingList{
		"week_1": {EstimatedCost: "$1"},
		"week2":  {EstimatedCost: "$2"},
	}}
	if l, ok := p.ShoppingList(1); !ok || l.EstimatedCost != "$1" {
		t.Errorf("week 1 = %+v, %v", l, ok)
	}
	if l, ok := p.ShoppingList(2); !ok || l.EstimatedCost != "$2" {
		t.Errorf("week 2 = %+v, %v", l, ok)
	}
	if _, ok := p.ShoppingList(3); ok {
		t.Error("week 3 should be missing")
	}
}

func TestBuildShoppingList(t *testing.T) {
	rs := []store.Recipe{
		{Ingredients: []store.Ingredient{
			{Item: "Cherry tomatoes", Amount: "1", Unit: "cup"},
			{Item: "Olive oil", Amount: "2", Unit: "tbsp"},
			{Item: "Salmon fillet", Amount: "1 1/2", Unit: "lb"},
			{Item: "Garlic powder", Amount: "1", Unit: "tsp"},
		}},
		{Ingredients: []store.Ingredient{
			{Item: "cherry tomatoes", Amount: "1/2", Unit: "cup", Notes: "halved"},
			{Item: "Olive oil", Amount: "1", Unit: "cup"},
			{Item: "Mystery spice", Amount: "a pinch"},
		}},
	}
	list := BuildShoppingList(rs)

	sections := map[string][]Item{}
	var order []string
	for _, s := range list.Sections {
		sections[s.Name] = s.Items
		order = append(order, s.Name)
	}
	if order[0] != "Produce & Fresh Vegetables" || order[len(order)-1] != "Other Items" {
		t.Errorf("section order = %v", order)
	}

	produce := sections["Produce & Fresh Vegetables"]
	if len(produce) != 1 || produce[0].Amount != 1.5 || produce[0].Notes != "halved" {
		t.Errorf("produce = %+v", produce)
	}
	if got := produce[0].String(); got != "1.5 cup Cherry tomatoes (halved)" {
		t.Errorf("String() = %q", got)
	}

	if oil := sections["Pantry Staples"]; len(oil) != 2 {
		t.Errorf("olive oil in two units should stay separate: %+v", oil)
	}
	if spices := sections["Spices & Seasonings"]; len(spices) != 1 || spices[0].Name != "Garlic powder" {
		t.Errorf("spices = %+v", spices)
	}
	if meat := sections["Meat & Seafood"]; len(meat) != 1 || meat[0].Amount != 1.5 {
		t.Errorf("meat = %+v", meat)
	}
	if other := sections["Other Items"]; len(other) != 1 || other[0].Amount != 1 {
		t.Errorf("unparsed amount should count as 1: %+v", other)
	}
}

func TestParseAndFormatAmount(t *testing.T) {
	for in, want := range map[string]float64{"2": 2, "1.5": 1.5, "1/2": 0.5, "1 1/4": 1.25} {
		got, ok := ParseAmount(in)
		if !ok || got != want {
			t.Errorf("ParseAmount(%q) = %v, %v", in, got, ok)
		}
	}
	for _, bad := range []string{"", "to taste", "1/0", "a b c"} {
		if _, ok := ParseAmount(bad); ok {
			t.Errorf("ParseAmount(%q) should fail", bad)
		}
	}
	if got := FormatAmount(3); got != "3" {
		t.Errorf("FormatAmount(3) = %q", got)
	}
	if got := FormatAmount(1.0 / 3); got != "0.33" {
		t.Errorf("FormatAmount(1/3) = %q", got)
	}
}

func TestScale(t *testing.T) {
	r := store.Recipe{Servings: 4, Ingredients: []store.Ingredient{
		{Item: "rice", Amount: "2", Unit: "cup"},
		{Item: "salt", Amount: "to taste"},
	}}
	got := Scale(r, 6)
	if got.Servings != 6 || got.Ingredients[0].Amount != "3" || got.Ingredients[1].Amount != "to taste" {
		t.Errorf("Scale = %+v", got)
	}
	if r.Ingredients[0].Amount != "2" {
		t.Error("Scale modified its input")
	}

	unknown := Scale(store.Recipe{Ingredients: []store.Ingredient{{Item: "oats", Amount: "1"}}}, 2)
	if unknown.Ingredients[0].Amount != "0.5" {
		t.Errorf("recipes without servings scale from 4: %+v", unknown.Ingredients)
	}
}

func testRecipe(id, name, meal string) store.Recipe {
	return store.Recipe{
		ID: id, Name: name, MealType: meal, Servings: 2, PrepTime: 10, CookTime: 20,
		Ingredients: []store.Ingredient{{Item: "chickpeas", Amount: "1", Unit: "can"}},
		Nutrition:   &store.Nutrition{Calories: 400, Protein: 20},
	}
}

func TestPersonalize(t *testing.T) {
	job := &store.MealPlanJob{
		CustomerEmail: "ana@example.com", DietType: "mediterranean",
		FamilySize: 4, Month: 2, Year: 2025, DaysInMonth: 28,
	}
	rs := []store.Recipe{
		testRecipe("d1", "Dinner One", store.MealDinner),
		testRecipe("d2", "Dinner Two", store.MealDinner),
		testRecipe("s1", "Snack One", store.MealSnack),
	}
	base, _ := NewLibrary("").Static("mediterranean", 1, 2025)
	p := Personalize(job, rs, base)

	if !p.IsPersonalized || p.Title != "Mediterranean - February 2025" {
		t.Errorf("plan = %q personalized=%v", p.Title, p.IsPersonalized)
	}
	if len(p.Days()) != 28 {
		t.Fatalf("days = %d", len(p.Days()))
	}
	d3 := p.DailyMeals["day_3"]
	if d3.Dinner == nil || d3.Dinner.RecipeID != "d1" || len(d3.Snacks) != 1 || d3.TotalCalories != 800 {
		t.Errorf("day 3 = %+v", d3)
	}
	if d3.Date != "2025-02-03" {
		t.Errorf("date = %q", d3.Date)
	}
	if p.Recipes[0].Ingredients[0].Amount != "2" || p.Recipes[0].Servings != 4 {
		t.Errorf("recipes not scaled: %+v", p.Recipes[0])
	}
	if len(p.WeeklyShoppingLists) != 4 {
		t.Errorf("weeks = %d, want 4", len(p.WeeklyShoppingLists))
	}
	w1, _ := p.ShoppingList(1)
	canned := w1.Sections[0]
	if canned.Name != "Canned & Jarred Goods" || canned.Items[0].Amount != 6 {
		t.Errorf("week 1 list = %+v", w1)
	}
	if p.NutritionTargets == nil || p.MealPrepGuide == nil {
		t.Error("base plan details not carried over")
	}

	week, _ := FilterWeek(p, 1)
	if len(week.Recipes) != 3 {
		t.Errorf("week recipes = %d", len(week.Recipes))
	}
}

func TestResolverPrefersCompletedJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	res := NewResolver(s, NewLibrary(""), discardLogger())

	p, err := res.Resolve(ctx, "ana@example.com", "mediterranean", 1, 2025)
	if err != nil {
		t.Fatal(err)
	}
	if p.IsPersonalized {
		t.Fatal("expected static fallback without a job")
	}

	r := testRecipe("r-1", "Lemon Chickpea Stew", store.MealDinner)
	if err := s.CreateRecipe(ctx, &r); err != nil {
		t.Fatal(err)
	}
	job := &store.MealPlanJob{
		ID: "job-1", CustomerEmail: "ana@example.com", StripeSessionID: "cs_1",
		DietType: "mediterranean", FamilySize: 2, TotalPhases: 1,
		Month: 1, Year: 2025, DaysInMonth: 31,
	}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimJob(ctx, time.Now(), time.Minute); err != nil {
		t.Fatal(err)
	}
	entries := []store.GeneratedRecipe{{RecipeID: "r-1", Name: r.Name, MealType: store.MealDinner, Slot: 0, Phase: 1}}
	if err := s.CompleteJob(ctx, "job-1", 1, entries, "/files/x.pdf"); err != nil {
		t.Fatal(err)
	}

	p, err = res.Resolve(ctx, "ana@example.com", "mediterranean", 1, 2025)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsPersonalized || p.DailyMeals["day_31"].Dinner.Name != "Lemon Chickpea Stew" {
		t.Errorf("personalized plan not used: %+v", p.Title)
	}

	// Other customers still get the static plan.
	p, _ = res.Resolve(ctx, "bo@example.com", "mediterranean", 1, 2025)
	if p.IsPersonalized {
		t.Error("another customer's job leaked")
	}
	if _, err := res.Resolve(ctx, "", "paleo", 3, 2030); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestRender(t *testing.T) {
	p, err := NewLibrary("").Static("intermittent-fasting", 1, 2025)
	if err != nil {
		t.Fatal(err)
	}
	week, _ := FilterWeek(p, 2)

	out, err := Render(week)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-")) {
		t.Fatalf("not a PDF: %q", out[:min(len(out), 16)])
	}
	if !bytes.Contains(out, []byte("/Title (Intermittent Fasting - January 2025 - Week 2)")) {
		t.Error("document title missing")
	}

	personalized := Personalize(&store.MealPlanJob{
		CustomerEmail: "ana@example.com", DietType: "keto", Month: 3, Year: 2025,
	}, []store.Recipe{testRecipe("d1", "Café Steak Bowl", store.MealDinner)}, nil)
	if _, err := Render(personalized); err != nil {
		t.Fatalf("render personalized: %v", err)
	}
}

func TestDietTitle(t *testing.T) {
	if got := DietTitle("family-focused"); got != "Family Focused" {
		t.Errorf("DietTitle = %q", got)
	}
	if got := DietTitle("low-fodmap"); got != "Low Fodmap" {
		t.Errorf("DietTitle fallback = %q", got)
	}
}
