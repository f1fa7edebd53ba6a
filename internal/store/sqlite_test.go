package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestUser is a helper that inserts a user and returns it.
func createTestUser(t *testing.T, s *SQLiteStore, email, role string) *User {
	t.Helper()
	u := &User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: "hash-" + email,
		Role:         role,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("createTestUser(%s): %v", email, err)
	}
	return u
}

// createTestJob is a helper that inserts a pending job created at the given time.
func createTestJob(t *testing.T, s *SQLiteStore, email string, createdAt time.Time) *MealPlanJob {
	t.Helper()
	j := &MealPlanJob{
		ID:              uuid.New().String(),
		CustomerEmail:   email,
		StripeSessionID: "cs_" + uuid.New().String(),
		ProductType:     "one_time",
		DietType:        "mediterranean",
		FamilySize:      4,
		TotalPhases:     3,
		Month:           1,
		Year:            2025,
		DaysInMonth:     31,
		CreatedAt:       createdAt,
	}
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("createTestJob: %v", err)
	}
	return j
}

func createTestRecipe(t *testing.T, s *SQLiteStore, name, mealType string, diets ...string) *Recipe {
	t.Helper()
	r := &Recipe{
		ID:          uuid.New().String(),
		Name:        name,
		Description: "A test recipe",
		MealType:    mealType,
		PrepTime:    10,
		CookTime:    20,
		Servings:    4,
		Difficulty:  "easy",
		Tags:        []string{"test"},
		Source:      "ai",
		DietPlans:   diets,
		Ingredients: []Ingredient{
			{Item: "olive oil", Amount: "2", Unit: "tbsp"},
			{Item: "garlic", Amount: "3", Unit: "cloves", Notes: "minced"},
		},
		Instructions: []Instruction{{Text: "Heat the oil."}, {Text: "Add the garlic."}},
		Nutrition:    &Nutrition{Calories: 320, Protein: 12, Carbs: 30, Fat: 15, Fiber: 5},
	}
	if err := s.CreateRecipe(context.Background(), r); err != nil {
		t.Fatalf("createTestRecipe(%s): %v", name, err)
	}
	return r
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, s, "Alice@Example.com", RoleCustomer)

	got, err := s.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Fatalf("GetUserByEmail: got %+v, want id %s", got, u.ID)
	}
	if got.Email != "alice@example.com" {
		t.Errorf("Email: got %q, want lower-cased", got.Email)
	}

	missing, err := s.GetUserByEmail(ctx, "nobody@example.com")
	if err != nil || missing != nil {
		t.Errorf("missing user: got %v, %v; want nil, nil", missing, err)
	}

	dup := &User{ID: uuid.New().String(), Email: "alice@example.com"}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate email: got %v, want ErrConflict", err)
	}

	if err := s.UpdateUserPassword(ctx, u.ID, "new-hash"); err != nil {
		t.Fatalf("UpdateUserPassword: %v", err)
	}
	if err := s.MarkEmailVerified(ctx, u.ID); err != nil {
		t.Fatalf("MarkEmailVerified: %v", err)
	}
	if err := s.SetStripeCustomerID(ctx, u.ID, "cus_123"); err != nil {
		t.Fatalf("SetStripeCustomerID: %v", err)
	}
	got, _ = s.GetUserByID(ctx, u.ID)
	if got.PasswordHash != "new-hash" || !got.EmailVerified || got.StripeCustomerID != "cus_123" {
		t.Errorf("updated user: got %+v", got)
	}

	if err := s.UpdateUserPassword(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing user: got %v, want ErrNotFound", err)
	}
}

func TestPurchaseUniqueSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "bob@example.com", RoleCustomer)

	p := &Purchase{ID: uuid.New().String(), UserID: u.ID, ProductID: "custom-meal-plan", StripeSessionID: "cs_1", Amount: 5900, Currency: "usd", Status: "completed", DietPlan: "keto"}
	if err := s.CreatePurchase(ctx, p); err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	again := *p
	again.ID = uuid.New().String()
	if err := s.CreatePurchase(ctx, &again); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate session: got %v, want ErrConflict", err)
	}

	list, err := s.ListPurchasesByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListPurchasesByUser: %v", err)
	}
	if len(list) != 1 || list[0].Amount != 5900 {
		t.Errorf("purchases: got %+v", list)
	}
}

func TestSubscriptionUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "sub@example.com", RoleCustomer)

	start := time.Now().UTC().Truncate(time.Second)
	sub := &Subscription{ID: uuid.New().String(), UserID: u.ID, StripeSubscriptionID: "sub_1", Status: "active", CurrentPeriodStart: start, CurrentPeriodEnd: start.AddDate(0, 1, 0)}
	if err := s.UpsertSubscription(ctx, sub); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	if err := s.UpdateSubscriptionStatus(ctx, "sub_1", "cancelled"); err != nil {
		t.Fatalf("UpdateSubscriptionStatus: %v", err)
	}
	subs, err := s.ListSubscriptionsByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListSubscriptionsByUser: %v", err)
	}
	if len(subs) != 1 || subs[0].Status != "cancelled" {
		t.Errorf("subscriptions: got %+v", subs)
	}
}

func TestClaimJobIsExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	older := createTestJob(t, s, "a@example.com", base)
	newer := createTestJob(t, s, "b@example.com", base.Add(time.Minute))

	now := time.Now()
	first, err := s.ClaimJob(ctx, now, 10*time.Minute)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if first == nil || first.ID != older.ID {
		t.Fatalf("first claim: got %+v, want oldest job %s", first, older.ID)
	}
	if first.Status != JobProcessing {
		t.Errorf("Status: got %q, want processing", first.Status)
	}
	if first.ProcessingStartedAt == nil {
		t.Error("ProcessingStartedAt should be set on claim")
	}

	second, err := s.ClaimJob(ctx, now, 10*time.Minute)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if second == nil || second.ID != newer.ID {
		t.Fatalf("second claim: got %+v, want %s", second, newer.ID)
	}

	none, err := s.ClaimJob(ctx, now, 10*time.Minute)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if none != nil {
		t.Errorf("third claim: got %s, want nil while leases are held", none.ID)
	}

	// Once the lease has expired the job can be picked up again.
	later, err := s.ClaimJob(ctx, now.Add(11*time.Minute), 10*time.Minute)
	if err != nil {
		t.Fatalf("ClaimJob after lease: %v", err)
	}
	if later == nil || later.ID != older.ID {
		t.Errorf("claim after expiry: got %+v, want %s", later, older.ID)
	}
}

func TestAdvanceAndCompleteJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "c@example.com", RoleCustomer)
	job := createTestJob(t, s, "c@example.com", time.Now().UTC())
	if err := s.CreatePurchase(ctx, &Purchase{ID: uuid.New().String(), UserID: u.ID, ProductID: "custom-meal-plan", StripeSessionID: job.StripeSessionID, Status: "pending"}); err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	if _, err := s.ClaimJob(ctx, time.Now(), time.Minute); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	phase1 := []GeneratedRecipe{{RecipeID: "r1", Name: "Soup", MealType: "dinner", Slot: 0, Phase: 1}}
	if err := s.AdvanceJob(ctx, job.ID, 1, phase1, "phase 1 of 3"); err != nil {
		t.Fatalf("AdvanceJob: %v", err)
	}

	// A stale worker still at phase 1 must not advance again.
	if err := s.AdvanceJob(ctx, job.ID, 1, phase1, "dup"); !errors.Is(err, ErrConflict) {
		t.Errorf("stale advance: got %v, want ErrConflict", err)
	}

	got, _ := s.GetJob(ctx, job.ID)
	if got.CurrentPhase != 2 {
		t.Errorf("CurrentPhase: got %d, want 2", got.CurrentPhase)
	}
	if got.LockedUntil != 0 {
		t.Errorf("LockedUntil: got %d, want lease released", got.LockedUntil)
	}

	phase2 := []GeneratedRecipe{{RecipeID: "r2", Name: "Salad", MealType: "dinner", Slot: 1, Phase: 2}}
	if err := s.AdvanceJob(ctx, job.ID, 2, phase2, "phase 2 of 3"); err != nil {
		t.Fatalf("AdvanceJob phase 2: %v", err)
	}

	phase3 := []GeneratedRecipe{{RecipeID: "r3", Name: "Nuts", MealType: "snack", Slot: 2, Phase: 3}}
	if err := s.CompleteJob(ctx, job.ID, 3, phase3, "https://files/plan.pdf"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	got, _ = s.GetJob(ctx, job.ID)
	if got.Status != JobCompleted {
		t.Errorf("Status: got %q, want completed", got.Status)
	}
	if len(got.GeneratedRecipes) != 3 {
		t.Fatalf("GeneratedRecipes: got %d entries, want 3 (appended)", len(got.GeneratedRecipes))
	}
	if got.GeneratedRecipes[0].RecipeID != "r1" || got.GeneratedRecipes[2].RecipeID != "r3" {
		t.Errorf("GeneratedRecipes order: got %+v", got.GeneratedRecipes)
	}
	if got.RecipeCount != 3 || got.PDFURL != "https://files/plan.pdf" || got.CompletedAt == nil {
		t.Errorf("completed job: got %+v", got)
	}

	p, _ := s.GetPurchaseBySession(ctx, job.StripeSessionID)
	if p.PDFURL != "https://files/plan.pdf" || p.Status != "completed" {
		t.Errorf("purchase delivery: got %+v", p)
	}

	found, err := s.FindCompletedJob(ctx, "C@example.com", "mediterranean", 1, 2025)
	if err != nil || found == nil || found.ID != job.ID {
		t.Errorf("FindCompletedJob: got %v, %v", found, err)
	}
}

func TestFailAndResetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, s, "d@example.com", time.Now().UTC())

	if _, err := s.ClaimJob(ctx, time.Now(), time.Minute); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if err := s.AdvanceJob(ctx, job.ID, 1, []GeneratedRecipe{{RecipeID: "r1"}}, "p1"); err != nil {
		t.Fatalf("AdvanceJob: %v", err)
	}
	if err := s.FailJob(ctx, job.ID, "llm unavailable"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	got, _ := s.GetJob(ctx, job.ID)
	if got.Status != JobFailed || got.ErrorMessage != "llm unavailable" {
		t.Errorf("failed job: got %+v", got)
	}

	// Failed jobs are never claimed again on their own.
	if again, _ := s.ClaimJob(ctx, time.Now().Add(time.Hour), time.Minute); again != nil {
		t.Errorf("failed job was claimed: %s", again.ID)
	}

	if err := s.ResetJob(ctx, job.ID); err != nil {
		t.Fatalf("ResetJob: %v", err)
	}
	got, _ = s.GetJob(ctx, job.ID)
	if got.Status != JobPending || got.CurrentPhase != 1 || len(got.GeneratedRecipes) != 0 || got.ErrorMessage != "" {
		t.Errorf("reset job: got %+v", got)
	}
	if got.ProcessingStartedAt != nil || got.CompletedAt != nil {
		t.Error("reset should clear timestamps")
	}

	if err := s.ResetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("reset missing: got %v, want ErrNotFound", err)
	}
}

func TestDuplicateJobSession(t *testing.T) {
	s := newTestStore(t)
	job := createTestJob(t, s, "e@example.com", time.Now().UTC())
	dup := *job
	dup.ID = uuid.New().String()
	if err := s.CreateJob(context.Background(), &dup); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate session job: got %v, want ErrConflict", err)
	}
}

func TestDietPlansSeeded(t *testing.T) {
	s := newTestStore(t)
	plans, err := s.ListDietPlans(context.Background())
	if err != nil {
		t.Fatalf("ListDietPlans: %v", err)
	}
	if len(plans) != len(DefaultDietPlans) {
		t.Errorf("diet plans: got %d, want %d", len(plans), len(DefaultDietPlans))
	}
	keto, _ := s.GetDietPlan(context.Background(), "keto")
	if keto == nil || keto.Name != "Keto" {
		t.Errorf("GetDietPlan(keto): got %+v", keto)
	}
}

func TestRecipeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := createTestRecipe(t, s, "Garlic Chicken", MealDinner, "mediterranean", "paleo")

	got, err := s.GetRecipe(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRecipe: %v", err)
	}
	if got == nil {
		t.Fatal("GetRecipe returned nil")
	}
	if len(got.Ingredients) != 2 || got.Ingredients[0].OrderIndex != 0 || got.Ingredients[1].Item != "garlic" {
		t.Errorf("Ingredients: got %+v", got.Ingredients)
	}
	if len(got.Instructions) != 2 || got.Instructions[0].StepNumber != 1 || got.Instructions[1].StepNumber != 2 {
		t.Errorf("Instructions: got %+v", got.Instructions)
	}
	if got.Nutrition == nil || got.Nutrition.Calories != 320 {
		t.Errorf("Nutrition: got %+v", got.Nutrition)
	}
	if len(got.DietPlans) != 2 || got.DietPlans[0] != "mediterranean" {
		t.Errorf("DietPlans: got %v", got.DietPlans)
	}

	if err := s.AddRecipeImage(ctx, r.ID, RecipeImage{URL: "https://img/1.png", IsPrimary: true}); err != nil {
		t.Fatalf("AddRecipeImage: %v", err)
	}
	got, _ = s.GetRecipe(ctx, r.ID)
	if got.PrimaryImage() != "https://img/1.png" {
		t.Errorf("PrimaryImage: got %q", got.PrimaryImage())
	}

	if err := s.DeleteRecipe(ctx, r.ID); err != nil {
		t.Fatalf("DeleteRecipe: %v", err)
	}
	if gone, _ := s.GetRecipe(ctx, r.ID); gone != nil {
		t.Error("recipe still present after delete")
	}
	if err := s.DeleteRecipe(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestListRecipesFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createTestRecipe(t, s, "Keto Eggs", MealBreakfast, "keto")
	createTestRecipe(t, s, "Keto Steak", MealDinner, "keto")
	createTestRecipe(t, s, "Vegan Bowl", MealDinner, "vegan")

	list, total, err := s.ListRecipes(ctx, RecipeFilter{Diet: "keto"})
	if err != nil {
		t.Fatalf("ListRecipes: %v", err)
	}
	if total != 2 || len(list) != 2 {
		t.Errorf("keto recipes: got %d (total %d), want 2", len(list), total)
	}

	list, total, _ = s.ListRecipes(ctx, RecipeFilter{Diet: "keto", MealType: MealDinner})
	if total != 1 || list[0].Name != "Keto Steak" {
		t.Errorf("keto dinners: got %+v", list)
	}

	list, _, _ = s.ListRecipes(ctx, RecipeFilter{Diet: "keto", ExcludeIDs: []string{a.ID}})
	if len(list) != 1 || list[0].ID == a.ID {
		t.Errorf("exclude: got %+v", list)
	}

	list, total, _ = s.ListRecipes(ctx, RecipeFilter{Limit: 1, Offset: 1})
	if total != 3 || len(list) != 1 {
		t.Errorf("paging: got %d rows, total %d", len(list), total)
	}

	found, err := s.SearchRecipesByName(ctx, "KETO", 10)
	if err != nil {
		t.Fatalf("SearchRecipesByName: %v", err)
	}
	if len(found) != 2 {
		t.Errorf("search: got %d, want 2", len(found))
	}

	if err := s.SetRecipeMealType(ctx, a.ID, MealSnack); err != nil {
		t.Fatalf("SetRecipeMealType: %v", err)
	}
	got, _ := s.GetRecipe(ctx, a.ID)
	if got.MealType != MealSnack {
		t.Errorf("MealType: got %q, want snack", got.MealType)
	}
}

func TestListRecipesMissingImage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	withImage := createTestRecipe(t, s, "Pictured Salad", MealLunch, "vegan")
	secondary := createTestRecipe(t, s, "Side Shot Soup", MealLunch, "vegan")
	createTestRecipe(t, s, "Plain Rice", MealLunch, "vegan")

	if err := s.AddRecipeImage(ctx, withImage.ID, RecipeImage{URL: "https://img.test/a.png", IsPrimary: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddRecipeImage(ctx, secondary.ID, RecipeImage{URL: "https://img.test/b.png"}); err != nil {
		t.Fatal(err)
	}

	list, total, err := s.ListRecipes(ctx, RecipeFilter{MissingImage: true})
	if err != nil {
		t.Fatalf("ListRecipes: %v", err)
	}
	if total != 2 || len(list) != 2 {
		t.Fatalf("missing image: got %d (total %d), want 2", len(list), total)
	}
	for _, r := range list {
		if r.ID == withImage.ID {
			t.Errorf("recipe with a primary image listed")
		}
	}
}

func TestUserPreferencesUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "prefs@example.com", RoleCustomer)

	got, err := s.GetUserPreferences(ctx, u.ID)
	if err != nil || got != nil {
		t.Fatalf("before save: got %+v, err %v", got, err)
	}

	created, err := s.UpsertUserPreferences(ctx, &UserPreferences{
		UserID:         u.ID,
		FamilySize:     3,
		Allergies:      []string{"peanuts"},
		Dislikes:       []string{"olives", "anchovies"},
		MaxPrepTime:    30,
		SnacksIncluded: true,
	})
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}

	got, err = s.GetUserPreferences(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FamilySize != 3 || got.MaxPrepTime != 30 || !got.SnacksIncluded || len(got.Dislikes) != 2 || got.DietaryRestrictions == nil {
		t.Errorf("stored preferences: %+v", got)
	}

	created, err = s.UpsertUserPreferences(ctx, &UserPreferences{UserID: u.ID, FamilySize: 6})
	if err != nil || created {
		t.Fatalf("second upsert: created=%v err=%v", created, err)
	}
	got, _ = s.GetUserPreferences(ctx, u.ID)
	if got.FamilySize != 6 || len(got.Allergies) != 0 || got.SnacksIncluded {
		t.Errorf("replaced preferences: %+v", got)
	}
}

func TestCustomerRecipeHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createTestRecipe(t, s, "One", MealDinner)
	b := createTestRecipe(t, s, "Two", MealDinner)

	if err := s.RecordCustomerRecipes(ctx, "f@example.com", "2024-11", []string{a.ID}); err != nil {
		t.Fatalf("RecordCustomerRecipes: %v", err)
	}
	if err := s.RecordCustomerRecipes(ctx, "f@example.com", "2025-01", []string{b.ID, b.ID}); err != nil {
		t.Fatalf("RecordCustomerRecipes (dup): %v", err)
	}

	ids, err := s.ListCustomerRecipeIDs(ctx, "f@example.com", "2024-12")
	if err != nil {
		t.Fatalf("ListCustomerRecipeIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != b.ID {
		t.Errorf("recent history: got %v, want [%s]", ids, b.ID)
	}
}

func TestRebind(t *testing.T) {
	s := &sqlStore{postgres: true}
	got := s.q("SELECT a FROM t WHERE x = ? AND y IN (?, ?)")
	want := "SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)"
	if got != want {
		t.Errorf("rebind: got %q, want %q", got, want)
	}
	lite := &sqlStore{}
	if lite.q("x = ?") != "x = ?" {
		t.Error("sqlite queries must not be rebound")
	}
}
