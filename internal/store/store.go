// Package store defines the persistence interface for the meal plan service and
// provides SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrConflict is returned when a write violates a uniqueness constraint or an
// optimistic phase guard.
var ErrConflict = errors.New("conflict")

// Store is the persistence interface for the service.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByStripeCustomer(ctx context.Context, customerID string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id string) error
	SetStripeCustomerID(ctx context.Context, id, customerID string) error
	GetUserPreferences(ctx context.Context, userID string) (*UserPreferences, error)
	UpsertUserPreferences(ctx context.Context, prefs *UserPreferences) (created bool, err error)

	// Purchases
	CreatePurchase(ctx context.Context, p *Purchase) error
	GetPurchaseBySession(ctx context.Context, sessionID string) (*Purchase, error)
	ListPurchasesByUser(ctx context.Context, userID string) ([]Purchase, error)
	UpdatePurchaseDelivery(ctx context.Context, sessionID, status, pdfURL string) error

	// Subscriptions
	UpsertSubscription(ctx context.Context, sub *Subscription) error
	UpdateSubscriptionStatus(ctx context.Context, stripeSubscriptionID, status string) error
	ListSubscriptionsByUser(ctx context.Context, userID string) ([]Subscription, error)

	// Meal plan jobs
	CreateJob(ctx context.Context, job *MealPlanJob) error
	GetJob(ctx context.Context, id string) (*MealPlanJob, error)
	GetJobBySession(ctx context.Context, sessionID string) (*MealPlanJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]MealPlanJob, error)
	FindCompletedJob(ctx context.Context, email, dietType string, month, year int) (*MealPlanJob, error)
	ClaimJob(ctx context.Context, now time.Time, lease time.Duration) (*MealPlanJob, error)
	AdvanceJob(ctx context.Context, id string, phase int, recipes []GeneratedRecipe, progress string) error
	CompleteJob(ctx context.Context, id string, phase int, recipes []GeneratedRecipe, pdfURL string) error
	FailJob(ctx context.Context, id, message string) error
	ResetJob(ctx context.Context, id string) error

	// Diet plans
	ListDietPlans(ctx context.Context) ([]DietPlan, error)
	GetDietPlan(ctx context.Context, slug string) (*DietPlan, error)

	// Recipes
	CreateRecipe(ctx context.Context, r *Recipe) error
	GetRecipe(ctx context.Context, id string) (*Recipe, error)
	ListRecipes(ctx context.Context, filter RecipeFilter) ([]Recipe, int, error)
	SearchRecipesByName(ctx context.Context, fragment string, limit int) ([]Recipe, error)
	DeleteRecipe(ctx context.Context, id string) error
	SetRecipeMealType(ctx context.Context, id, mealType string) error
	AddRecipeImage(ctx context.Context, recipeID string, img RecipeImage) error

	// Customer recipe history
	RecordCustomerRecipes(ctx context.Context, email, month string, recipeIDs []string) error
	ListCustomerRecipeIDs(ctx context.Context, email, sinceMonth string) ([]string, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// User roles.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// User is a customer or administrator account.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	PasswordHash     string    `json:"-"`
	StripeCustomerID string    `json:"stripe_customer_id,omitempty"`
	EmailVerified    bool      `json:"email_verified"`
	Role             string    `json:"role"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// UserPreferences is a customer's saved planning profile. It seeds the jobs
// created for the customer's later purchases.
type UserPreferences struct {
	UserID              string    `json:"user_id"`
	FamilySize          int       `json:"family_size"`
	ServingsPreference  int       `json:"servings_preference"`
	DietaryRestrictions []string  `json:"dietary_restrictions"`
	Allergies           []string  `json:"allergies"`
	Dislikes            []string  `json:"dislikes"`
	PreferredCuisines   []string  `json:"preferred_cuisines"`
	CookingSkillLevel   string    `json:"cooking_skill_level"`
	MaxPrepTime         int       `json:"max_prep_time"`
	SnacksIncluded      bool      `json:"snacks_included"`
	NutritionGoals      []string  `json:"nutrition_goals"`
	CalorieTarget       int       `json:"calorie_target,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Purchase records a completed checkout.
type Purchase struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ProductID       string    `json:"product_id"`
	ProductName     string    `json:"product_name"`
	StripeSessionID string    `json:"stripe_session_id"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"` // "pending", "completed", "failed"
	DietPlan        string    `json:"diet_plan"`
	PDFURL          string    `json:"pdf_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Subscription mirrors a Stripe subscription.
type Subscription struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id"`
	Status               string    `json:"status"` // "active", "cancelled", "past_due"
	CurrentPeriodStart   time.Time `json:"current_period_start"`
	CurrentPeriodEnd     time.Time `json:"current_period_end"`
	CreatedAt            time.Time `json:"created_at"`
}

// Job statuses.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// MealPlanJob is the unit of asynchronous plan generation.
type MealPlanJob struct {
	ID                  string            `json:"id"`
	UserID              string            `json:"user_id,omitempty"`
	CustomerEmail       string            `json:"customer_email"`
	StripeSessionID     string            `json:"stripe_session_id"`
	ProductType         string            `json:"product_type"` // "one_time" or "subscription"
	DietType            string            `json:"diet_type"`
	FamilySize          int               `json:"family_size"`
	DietaryNeeds        []string          `json:"dietary_needs"`
	Allergies           string            `json:"allergies,omitempty"`
	Preferences         string            `json:"preferences,omitempty"`
	Customizations      map[string]any    `json:"customizations,omitempty"`
	Status              string            `json:"status"`
	CurrentPhase        int               `json:"current_phase"`
	TotalPhases         int               `json:"total_phases"`
	GeneratedRecipes    []GeneratedRecipe `json:"generated_recipes"`
	PhaseProgress       string            `json:"phase_progress,omitempty"`
	RecipeCount         int               `json:"recipe_count"`
	PDFURL              string            `json:"pdf_url,omitempty"`
	ErrorMessage        string            `json:"error_message,omitempty"`
	Month               int               `json:"month"`
	Year                int               `json:"year"`
	DaysInMonth         int               `json:"days_in_month"`
	LockedUntil         int64             `json:"-"`
	CreatedAt           time.Time         `json:"created_at"`
	ProcessingStartedAt *time.Time        `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
}

// Terminal reports whether the job will not change without an admin reset.
func (j *MealPlanJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// GeneratedRecipe is one entry of a job's recipe accumulator.
type GeneratedRecipe struct {
	RecipeID string `json:"id"`
	Name     string `json:"name"`
	MealType string `json:"meal_type"`
	Slot     int    `json:"slot"`
	Phase    int    `json:"phase"`
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status string
	UserID string
	Email  string
	Limit  int
}

// DietPlan is a catalog diet such as "mediterranean".
type DietPlan struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Meal types.
const (
	MealBreakfast = "breakfast"
	MealLunch     = "lunch"
	MealDinner    = "dinner"
	MealSnack     = "snack"
	MealAny       = "any"
)

// ValidMealType reports whether t is one of the stored meal types.
func ValidMealType(t string) bool {
	switch t {
	case MealBreakfast, MealLunch, MealDinner, MealSnack, MealAny:
		return true
	}
	return false
}

// Recipe is a catalog recipe with its child rows.
type Recipe struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	MealType     string        `json:"meal_type"`
	PrepTime     int           `json:"prep_time"`
	CookTime     int           `json:"cook_time"`
	Servings     int           `json:"servings"`
	Difficulty   string        `json:"difficulty"`
	Tags         []string      `json:"tags"`
	Source       string        `json:"source"` // "ai", "sample", "admin"
	CreatedAt    time.Time     `json:"created_at"`
	DietPlans    []string      `json:"diet_plans,omitempty"`
	Ingredients  []Ingredient  `json:"ingredients,omitempty"`
	Instructions []Instruction `json:"instructions,omitempty"`
	Nutrition    *Nutrition    `json:"nutrition,omitempty"`
	Images       []RecipeImage `json:"images,omitempty"`
}

// PrimaryImage returns the URL of the primary image, or "".
func (r *Recipe) PrimaryImage() string {
	for _, img := range r.Images {
		if img.IsPrimary {
			return img.URL
		}
	}
	return ""
}

// Ingredient is one ordered ingredient line.
type Ingredient struct {
	Item       string `json:"item"`
	Amount     string `json:"amount"`
	Unit       string `json:"unit"`
	Notes      string `json:"notes,omitempty"`
	OrderIndex int    `json:"order_index"`
}

// Instruction is one numbered step.
type Instruction struct {
	StepNumber int    `json:"step_number"`
	Text       string `json:"instruction"`
}

// Nutrition holds per-serving macros.
type Nutrition struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
	Fiber    float64 `json:"fiber"`
}

// RecipeImage is a generated or uploaded image.
type RecipeImage struct {
	URL       string `json:"url"`
	Prompt    string `json:"prompt,omitempty"`
	IsPrimary bool   `json:"is_primary"`
}

// RecipeFilter narrows ListRecipes.
type RecipeFilter struct {
	Diet       string
	MealType   string
	ExcludeIDs []string
	// MissingImage keeps only recipes without a primary image.
	MissingImage bool
	Limit        int
	Offset     int
}

// DefaultDietPlans seeds the diet_plans table.
var DefaultDietPlans = []DietPlan{
	{Slug: "mediterranean", Name: "Mediterranean", Description: "Olive oil, fish, legumes and fresh vegetables."},
	{Slug: "intermittent-fasting", Name: "Intermittent Fasting", Description: "Two nutrient-dense meals inside an eating window."},
	{Slug: "family-focused", Name: "Family Focused", Description: "Kid-friendly dinners scaled for the whole table."},
	{Slug: "paleo", Name: "Paleo", Description: "Meat, fish, vegetables and fruit without grains or dairy."},
	{Slug: "vegetarian", Name: "Vegetarian", Description: "Plant-forward meals with eggs and dairy."},
	{Slug: "vegan", Name: "Vegan", Description: "Fully plant-based meals."},
	{Slug: "global-cuisine", Name: "Global Cuisine", Description: "A tour of world kitchens."},
	{Slug: "keto", Name: "Keto", Description: "High fat, very low carbohydrate."},
}
