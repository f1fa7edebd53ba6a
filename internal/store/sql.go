package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by mutations that target a missing row.
// Single-row reads return (nil, nil) instead.
var ErrNotFound = errors.New("not found")

// sqlStore holds the queries shared by the SQLite and PostgreSQL stores.
// Queries are written with "?" placeholders and rebound for PostgreSQL.
type sqlStore struct {
	db        *sql.DB
	postgres  bool
	isUnique  func(error) bool
	claimLock string // suffix for the claim subquery, e.g. "FOR UPDATE SKIP LOCKED"
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *sqlStore) q(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) conflict(err error) error {
	if err != nil && s.isUnique != nil && s.isUnique(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func now() time.Time {
	return time.Now().UTC()
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func requireAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Users ---

const userColumns = "id, email, name, password_hash, stripe_customer_id, email_verified, role, created_at, updated_at"

func scanUser(row scanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.StripeCustomerID, &u.EmailVerified, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *sqlStore) CreateUser(ctx context.Context, user *User) error {
	user.Email = normalizeEmail(user.Email)
	if user.Role == "" {
		user.Role = RoleCustomer
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}
	user.UpdatedAt = user.CreatedAt
	_, err := s.db.ExecContext(ctx, s.q(
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		user.ID, user.Email, user.Name, user.PasswordHash, user.StripeCustomerID, user.EmailVerified, user.Role, user.CreatedAt, user.UpdatedAt,
	)
	return s.conflict(err)
}

func (s *sqlStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.q("SELECT "+userColumns+" FROM users WHERE id = ?"), id))
}

func (s *sqlStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.q("SELECT "+userColumns+" FROM users WHERE email = ?"), normalizeEmail(email)))
}

func (s *sqlStore) GetUserByStripeCustomer(ctx context.Context, customerID string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.q("SELECT "+userColumns+" FROM users WHERE stripe_customer_id = ?"), customerID))
}

func (s *sqlStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *sqlStore) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	return requireAffected(s.db.ExecContext(ctx, s.q(
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?"), passwordHash, now(), id))
}

func (s *sqlStore) MarkEmailVerified(ctx context.Context, id string) error {
	return requireAffected(s.db.ExecContext(ctx, s.q(
		"UPDATE users SET email_verified = ?, updated_at = ? WHERE id = ?"), true, now(), id))
}

func (s *sqlStore) SetStripeCustomerID(ctx context.Context, id, customerID string) error {
	return requireAffected(s.db.ExecContext(ctx, s.q(
		"UPDATE users SET stripe_customer_id = ?, updated_at = ? WHERE id = ?"), customerID, now(), id))
}

// --- User preferences ---

const preferenceColumns = `user_id, family_size, servings_preference, dietary_restrictions, allergies, dislikes,
	preferred_cuisines, cooking_skill_level, max_prep_time, snacks_included, nutrition_goals, calorie_target,
	created_at, updated_at`

func (s *sqlStore) GetUserPreferences(ctx context.Context, userID string) (*UserPreferences, error) {
	var (
		p                                                  UserPreferences
		restrictions, allergies, dislikes, cuisines, goals string
	)
	err := s.db.QueryRowContext(ctx, s.q("SELECT "+preferenceColumns+" FROM user_preferences WHERE user_id = ?"), userID).Scan(
		&p.UserID, &p.FamilySize, &p.ServingsPreference, &restrictions, &allergies, &dislikes,
		&cuisines, &p.CookingSkillLevel, &p.MaxPrepTime, &p.SnacksIncluded, &goals, &p.CalorieTarget,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{restrictions, &p.DietaryRestrictions},
		{allergies, &p.Allergies},
		{dislikes, &p.Dislikes},
		{cuisines, &p.PreferredCuisines},
		{goals, &p.NutritionGoals},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decode preferences: %w", err)
		}
	}
	return &p, nil
}

func (s *sqlStore) UpsertUserPreferences(ctx context.Context, p *UserPreferences) (bool, error) {
	var existing int
	err := s.db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM user_preferences WHERE user_id = ?"), p.UserID).Scan(&existing)
	if err != nil {
		return false, err
	}

	ts := now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = ts
	}
	p.UpdatedAt = ts
	lists := []*[]string{&p.DietaryRestrictions, &p.Allergies, &p.Dislikes, &p.PreferredCuisines, &p.NutritionGoals}
	for _, l := range lists {
		if *l == nil {
			*l = []string{}
		}
	}
	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO user_preferences (`+preferenceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET family_size = excluded.family_size,
			servings_preference = excluded.servings_preference, dietary_restrictions = excluded.dietary_restrictions,
			allergies = excluded.allergies, dislikes = excluded.dislikes, preferred_cuisines = excluded.preferred_cuisines,
			cooking_skill_level = excluded.cooking_skill_level, max_prep_time = excluded.max_prep_time,
			snacks_included = excluded.snacks_included, nutrition_goals = excluded.nutrition_goals,
			calorie_target = excluded.calorie_target, updated_at = excluded.updated_at`),
		p.UserID, p.FamilySize, p.ServingsPreference, mustJSON(p.DietaryRestrictions), mustJSON(p.Allergies), mustJSON(p.Dislikes),
		mustJSON(p.PreferredCuisines), p.CookingSkillLevel, p.MaxPrepTime, p.SnacksIncluded, mustJSON(p.NutritionGoals), p.CalorieTarget,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	return existing == 0, nil
}

// --- Purchases ---

const purchaseColumns = "id, user_id, product_id, product_name, stripe_session_id, amount, currency, status, diet_plan, pdf_url, created_at"

func scanPurchase(row scanner) (*Purchase, error) {
	var p Purchase
	err := row.Scan(&p.ID, &p.UserID, &p.ProductID, &p.ProductName, &p.StripeSessionID, &p.Amount, &p.Currency, &p.Status, &p.DietPlan, &p.PDFURL, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *sqlStore) CreatePurchase(ctx context.Context, p *Purchase) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		"INSERT INTO purchases ("+purchaseColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		p.ID, p.UserID, p.ProductID, p.ProductName, p.StripeSessionID, p.Amount, p.Currency, p.Status, p.DietPlan, p.PDFURL, p.CreatedAt,
	)
	return s.conflict(err)
}

func (s *sqlStore) GetPurchaseBySession(ctx context.Context, sessionID string) (*Purchase, error) {
	return scanPurchase(s.db.QueryRowContext(ctx, s.q("SELECT "+purchaseColumns+" FROM purchases WHERE stripe_session_id = ?"), sessionID))
}

func (s *sqlStore) ListPurchasesByUser(ctx context.Context, userID string) ([]Purchase, error) {
	rows, err := s.db.QueryContext(ctx, s.q("SELECT "+purchaseColumns+" FROM purchases WHERE user_id = ? ORDER BY created_at DESC"), userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdatePurchaseDelivery(ctx context.Context, sessionID, status, pdfURL string) error {
	return requireAffected(s.db.ExecContext(ctx, s.q(
		"UPDATE purchases SET status = ?, pdf_url = ? WHERE stripe_session_id = ?"), status, pdfURL, sessionID))
}

// --- Subscriptions ---

const subscriptionColumns = "id, user_id, stripe_subscription_id, status, current_period_start, current_period_end, created_at"

func (s *sqlStore) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(stripe_subscription_id) DO UPDATE SET status = excluded.status,
		 current_period_start = excluded.current_period_start, current_period_end = excluded.current_period_end`),
		sub.ID, sub.UserID, sub.StripeSubscriptionID, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CreatedAt,
	)
	return err
}

func (s *sqlStore) UpdateSubscriptionStatus(ctx context.Context, stripeSubscriptionID, status string) error {
	return requireAffected(s.db.ExecContext(ctx, s.q(
		"UPDATE subscriptions SET status = ? WHERE stripe_subscription_id = ?"), status, stripeSubscriptionID))
}

func (s *sqlStore) ListSubscriptionsByUser(ctx context.Context, userID string) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, s.q("SELECT "+subscriptionColumns+" FROM subscriptions WHERE user_id = ? ORDER BY created_at DESC"), userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.StripeSubscriptionID, &sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// --- Meal plan jobs ---

const jobColumns = `id, user_id, customer_email, stripe_session_id, product_type, diet_type, family_size,
	dietary_needs, allergies, preferences, customizations, status, current_phase, total_phases,
	generated_recipes, phase_progress, recipe_count, pdf_url, error_message, month, year, days_in_month,
	locked_until, created_at, processing_started_at, completed_at`

func scanJob(row scanner) (*MealPlanJob, error) {
	var (
		j                      MealPlanJob
		needs, custom, recipes string
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(&j.ID, &j.UserID, &j.CustomerEmail, &j.StripeSessionID, &j.ProductType, &j.DietType, &j.FamilySize,
		&needs, &j.Allergies, &j.Preferences, &custom, &j.Status, &j.CurrentPhase, &j.TotalPhases,
		&recipes, &j.PhaseProgress, &j.RecipeCount, &j.PDFURL, &j.ErrorMessage, &j.Month, &j.Year, &j.DaysInMonth,
		&j.LockedUntil, &j.CreatedAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(needs), &j.DietaryNeeds); err != nil {
		return nil, fmt.Errorf("decode dietary_needs: %w", err)
	}
	if err := json.Unmarshal([]byte(custom), &j.Customizations); err != nil {
		return nil, fmt.Errorf("decode customizations: %w", err)
	}
	if err := json.Unmarshal([]byte(recipes), &j.GeneratedRecipes); err != nil {
		return nil, fmt.Errorf("decode generated_recipes: %w", err)
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.ProcessingStartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func (s *sqlStore) CreateJob(ctx context.Context, job *MealPlanJob) error {
	if job.Status == "" {
		job.Status = JobPending
	}
	if job.CurrentPhase == 0 {
		job.CurrentPhase = 1
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now()
	}
	if job.DietaryNeeds == nil {
		job.DietaryNeeds = []string{}
	}
	if job.Customizations == nil {
		job.Customizations = map[string]any{}
	}
	if job.GeneratedRecipes == nil {
		job.GeneratedRecipes = []GeneratedRecipe{}
	}
	job.CustomerEmail = normalizeEmail(job.CustomerEmail)
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO meal_plan_jobs (id, user_id, customer_email, stripe_session_id, product_type, diet_type, family_size,
			dietary_needs, allergies, preferences, customizations, status, current_phase, total_phases,
			generated_recipes, phase_progress, month, year, days_in_month, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID, job.UserID, job.CustomerEmail, job.StripeSessionID, job.ProductType, job.DietType, job.FamilySize,
		mustJSON(job.DietaryNeeds), job.Allergies, job.Preferences, mustJSON(job.Customizations), job.Status, job.CurrentPhase, job.TotalPhases,
		mustJSON(job.GeneratedRecipes), job.PhaseProgress, job.Month, job.Year, job.DaysInMonth, job.CreatedAt, job.CreatedAt,
	)
	return s.conflict(err)
}

func (s *sqlStore) GetJob(ctx context.Context, id string) (*MealPlanJob, error) {
	return scanJob(s.db.QueryRowContext(ctx, s.q("SELECT "+jobColumns+" FROM meal_plan_jobs WHERE id = ?"), id))
}

func (s *sqlStore) GetJobBySession(ctx context.Context, sessionID string) (*MealPlanJob, error) {
	return scanJob(s.db.QueryRowContext(ctx, s.q("SELECT "+jobColumns+" FROM meal_plan_jobs WHERE stripe_session_id = ?"), sessionID))
}

func (s *sqlStore) ListJobs(ctx context.Context, filter JobFilter) ([]MealPlanJob, error) {
	query := "SELECT " + jobColumns + " FROM meal_plan_jobs WHERE 1=1"
	var args []any
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Email != "" {
		query += " AND customer_email = ?"
		args = append(args, normalizeEmail(filter.Email))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []MealPlanJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *sqlStore) FindCompletedJob(ctx context.Context, email, dietType string, month, year int) (*MealPlanJob, error) {
	return scanJob(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+jobColumns+` FROM meal_plan_jobs
		 WHERE customer_email = ? AND diet_type = ? AND month = ? AND year = ? AND status = ?
		 ORDER BY completed_at DESC LIMIT 1`),
		normalizeEmail(email), dietType, month, year, JobCompleted))
}

// ClaimJob atomically moves the oldest claimable job to processing and leases
// it until now+lease. A job is claimable when it is pending, or processing
// with an expired lease. It returns (nil, nil) when nothing is claimable.
func (s *sqlStore) ClaimJob(ctx context.Context, at time.Time, lease time.Duration) (*MealPlanJob, error) {
	nowUnix := at.Unix()
	until := at.Add(lease).Unix()
	const claimable = "(status = 'pending' OR (status = 'processing' AND locked_until < ?))"
	query := `UPDATE meal_plan_jobs
		SET status = 'processing', locked_until = ?, updated_at = ?,
		    processing_started_at = COALESCE(processing_started_at, ?)
		WHERE id = (SELECT id FROM meal_plan_jobs WHERE ` + claimable + ` ORDER BY created_at LIMIT 1 ` + s.claimLock + `)
		  AND ` + claimable + `
		RETURNING id`
	ts := at.UTC()
	var id string
	err := s.db.QueryRowContext(ctx, s.q(query), until, ts, ts, nowUnix, nowUnix).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// mergeJobRecipes appends recipes to the job's accumulator inside tx, after
// checking the job is processing at the expected phase.
func (s *sqlStore) mergeJobRecipes(ctx context.Context, tx *sql.Tx, id string, phase int, recipes []GeneratedRecipe) ([]GeneratedRecipe, *MealPlanJob, error) {
	job, err := scanJob(tx.QueryRowContext(ctx, s.q("SELECT "+jobColumns+" FROM meal_plan_jobs WHERE id = ?"), id))
	if err != nil {
		return nil, nil, err
	}
	if job == nil {
		return nil, nil, ErrNotFound
	}
	if job.Status != JobProcessing || job.CurrentPhase != phase {
		return nil, nil, fmt.Errorf("%w: job %s is %s at phase %d, expected processing at phase %d",
			ErrConflict, id, job.Status, job.CurrentPhase, phase)
	}
	merged := append(job.GeneratedRecipes, recipes...)
	return merged, job, nil
}

func (s *sqlStore) AdvanceJob(ctx context.Context, id string, phase int, recipes []GeneratedRecipe, progress string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	merged, _, err := s.mergeJobRecipes(ctx, tx, id, phase, recipes)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.q(
		`UPDATE meal_plan_jobs SET generated_recipes = ?, current_phase = ?, phase_progress = ?,
			recipe_count = ?, locked_until = 0, updated_at = ?
		 WHERE id = ? AND current_phase = ?`),
		mustJSON(merged), phase+1, progress, len(merged), now(), id, phase)
	if err := requireAffected(res, err); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrConflict
		}
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) CompleteJob(ctx context.Context, id string, phase int, recipes []GeneratedRecipe, pdfURL string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	merged, job, err := s.mergeJobRecipes(ctx, tx, id, phase, recipes)
	if err != nil {
		return err
	}
	ts := now()
	res, err := tx.ExecContext(ctx, s.q(
		`UPDATE meal_plan_jobs SET status = ?, generated_recipes = ?, recipe_count = ?, pdf_url = ?,
			phase_progress = ?, error_message = '', locked_until = 0, completed_at = ?, updated_at = ?
		 WHERE id = ? AND current_phase = ?`),
		JobCompleted, mustJSON(merged), len(merged), pdfURL, "completed", ts, ts, id, phase)
	if err := requireAffected(res, err); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrConflict
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(
		"UPDATE purchases SET status = ?, pdf_url = ? WHERE stripe_session_id = ?"),
		"completed", pdfURL, job.StripeSessionID); err != nil {
		return fmt.Errorf("update purchase: %w", err)
	}
	return tx.Commit()
}

func (s *sqlStore) FailJob(ctx context.Context, id, message string) error {
	ts := now()
	return requireAffected(s.db.ExecContext(ctx, s.q(
		`UPDATE meal_plan_jobs SET status = ?, error_message = ?, locked_until = 0, completed_at = ?, updated_at = ?
		 WHERE id = ?`), JobFailed, message, ts, ts, id))
}

func (s *sqlStore) ResetJob(ctx context.Context, id string) error {
	return requireAffected(s.db.ExecContext(ctx, s.q(
		`UPDATE meal_plan_jobs SET status = ?, current_phase = 1, generated_recipes = '[]', phase_progress = '',
			recipe_count = 0, pdf_url = '', error_message = '', locked_until = 0,
			processing_started_at = NULL, completed_at = NULL, updated_at = ?
		 WHERE id = ?`), JobPending, now(), id))
}

// --- Diet plans ---

func (s *sqlStore) seedDietPlans() error {
	for _, d := range DefaultDietPlans {
		if _, err := s.db.Exec(s.q(
			"INSERT INTO diet_plans (id, slug, name, description) VALUES (?, ?, ?, ?) ON CONFLICT(slug) DO NOTHING"),
			"diet-"+d.Slug, d.Slug, d.Name, d.Description); err != nil {
			return fmt.Errorf("seed diet plan %s: %w", d.Slug, err)
		}
	}
	return nil
}

func (s *sqlStore) ListDietPlans(ctx context.Context) ([]DietPlan, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, slug, name, description FROM diet_plans ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var plans []DietPlan
	for rows.Next() {
		var d DietPlan
		if err := rows.Scan(&d.ID, &d.Slug, &d.Name, &d.Description); err != nil {
			return nil, err
		}
		plans = append(plans, d)
	}
	return plans, rows.Err()
}

func (s *sqlStore) GetDietPlan(ctx context.Context, slug string) (*DietPlan, error) {
	var d DietPlan
	err := s.db.QueryRowContext(ctx, s.q("SELECT id, slug, name, description FROM diet_plans WHERE slug = ?"), slug).
		Scan(&d.ID, &d.Slug, &d.Name, &d.Description)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &d, err
}

// --- Recipes ---

const recipeColumns = "id, name, description, meal_type, prep_time, cook_time, servings, difficulty, tags, source, created_at"

func scanRecipe(row scanner) (*Recipe, error) {
	var (
		r    Recipe
		tags string
	)
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.MealType, &r.PrepTime, &r.CookTime, &r.Servings, &r.Difficulty, &tags, &r.Source, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return &r, nil
}

func (s *sqlStore) CreateRecipe(ctx context.Context, r *Recipe) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	if r.MealType == "" {
		r.MealType = MealAny
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.q(
		"INSERT INTO recipes ("+recipeColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		r.ID, r.Name, r.Description, r.MealType, r.PrepTime, r.CookTime, r.Servings, r.Difficulty, mustJSON(r.Tags), r.Source, r.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert recipe: %w", s.conflict(err))
	}

	for _, slug := range r.DietPlans {
		if _, err := tx.ExecContext(ctx, s.q(
			"INSERT INTO recipe_diet_plans (recipe_id, diet_plan_id) SELECT ?, id FROM diet_plans WHERE slug = ?"),
			r.ID, slug); err != nil {
			return fmt.Errorf("link diet plan %s: %w", slug, err)
		}
	}

	for i := range r.Ingredients {
		ing := &r.Ingredients[i]
		ing.OrderIndex = i
		if _, err := tx.ExecContext(ctx, s.q(
			"INSERT INTO recipe_ingredients (recipe_id, order_index, ingredient, amount, unit, notes) VALUES (?, ?, ?, ?, ?, ?)"),
			r.ID, ing.OrderIndex, ing.Item, ing.Amount, ing.Unit, ing.Notes); err != nil {
			return fmt.Errorf("insert ingredient: %w", err)
		}
	}

	for i := range r.Instructions {
		step := &r.Instructions[i]
		step.StepNumber = i + 1
		if _, err := tx.ExecContext(ctx, s.q(
			"INSERT INTO recipe_instructions (recipe_id, step_number, instruction) VALUES (?, ?, ?)"),
			r.ID, step.StepNumber, step.Text); err != nil {
			return fmt.Errorf("insert instruction: %w", err)
		}
	}

	if n := r.Nutrition; n != nil {
		if _, err := tx.ExecContext(ctx, s.q(
			"INSERT INTO recipe_nutrition (recipe_id, calories, protein, carbs, fat, fiber) VALUES (?, ?, ?, ?, ?, ?)"),
			r.ID, n.Calories, n.Protein, n.Carbs, n.Fat, n.Fiber); err != nil {
			return fmt.Errorf("insert nutrition: %w", err)
		}
	}

	for _, img := range r.Images {
		if err := s.insertImage(ctx, tx, r.ID, img); err != nil {
			return err
		}
	}

	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqlStore) insertImage(ctx context.Context, ex execer, recipeID string, img RecipeImage) error {
	_, err := ex.ExecContext(ctx, s.q(
		"INSERT INTO recipe_images (recipe_id, url, prompt, is_primary, created_at) VALUES (?, ?, ?, ?, ?)"),
		recipeID, img.URL, img.Prompt, img.IsPrimary, now())
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

func (s *sqlStore) AddRecipeImage(ctx context.Context, recipeID string, img RecipeImage) error {
	return s.insertImage(ctx, s.db, recipeID, img)
}

func (s *sqlStore) GetRecipe(ctx context.Context, id string) (*Recipe, error) {
	r, err := scanRecipe(s.db.QueryRowContext(ctx, s.q("SELECT "+recipeColumns+" FROM recipes WHERE id = ?"), id))
	if err != nil || r == nil {
		return r, err
	}
	if err := s.loadSummary(ctx, r); err != nil {
		return nil, err
	}
	if r.Ingredients, err = s.loadIngredients(ctx, id); err != nil {
		return nil, err
	}
	if r.Instructions, err = s.loadInstructions(ctx, id); err != nil {
		return nil, err
	}
	if r.Nutrition, err = s.loadNutrition(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

// loadSummary attaches diet plan slugs and images, which list views also show.
func (s *sqlStore) loadSummary(ctx context.Context, r *Recipe) error {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT d.slug FROM recipe_diet_plans rdp JOIN diet_plans d ON d.id = rdp.diet_plan_id
		 WHERE rdp.recipe_id = ? ORDER BY d.slug`), r.ID)
	if err != nil {
		return err
	}
	r.DietPlans = nil
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			_ = rows.Close()
			return err
		}
		r.DietPlans = append(r.DietPlans, slug)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, s.q(
		"SELECT url, prompt, is_primary FROM recipe_images WHERE recipe_id = ? ORDER BY is_primary DESC, created_at"), r.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	r.Images = nil
	for rows.Next() {
		var img RecipeImage
		if err := rows.Scan(&img.URL, &img.Prompt, &img.IsPrimary); err != nil {
			return err
		}
		r.Images = append(r.Images, img)
	}
	return rows.Err()
}

func (s *sqlStore) loadIngredients(ctx context.Context, recipeID string) ([]Ingredient, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		"SELECT ingredient, amount, unit, notes, order_index FROM recipe_ingredients WHERE recipe_id = ? ORDER BY order_index"), recipeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Ingredient
	for rows.Next() {
		var ing Ingredient
		if err := rows.Scan(&ing.Item, &ing.Amount, &ing.Unit, &ing.Notes, &ing.OrderIndex); err != nil {
			return nil, err
		}
		out = append(out, ing)
	}
	return out, rows.Err()
}

func (s *sqlStore) loadInstructions(ctx context.Context, recipeID string) ([]Instruction, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		"SELECT step_number, instruction FROM recipe_instructions WHERE recipe_id = ? ORDER BY step_number"), recipeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Instruction
	for rows.Next() {
		var step Instruction
		if err := rows.Scan(&step.StepNumber, &step.Text); err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

func (s *sqlStore) loadNutrition(ctx context.Context, recipeID string) (*Nutrition, error) {
	var n Nutrition
	err := s.db.QueryRowContext(ctx, s.q(
		"SELECT calories, protein, carbs, fat, fiber FROM recipe_nutrition WHERE recipe_id = ?"), recipeID).
		Scan(&n.Calories, &n.Protein, &n.Carbs, &n.Fat, &n.Fiber)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *sqlStore) ListRecipes(ctx context.Context, filter RecipeFilter) ([]Recipe, int, error) {
	where := " WHERE 1=1"
	var args []any
	if filter.Diet != "" {
		where += ` AND EXISTS (SELECT 1 FROM recipe_diet_plans rdp JOIN diet_plans d ON d.id = rdp.diet_plan_id
			WHERE rdp.recipe_id = r.id AND d.slug = ?)`
		args = append(args, filter.Diet)
	}
	if filter.MealType != "" {
		where += " AND r.meal_type = ?"
		args = append(args, filter.MealType)
	}
	if filter.MissingImage {
		where += " AND NOT EXISTS (SELECT 1 FROM recipe_images ri WHERE ri.recipe_id = r.id AND ri.is_primary = ?)"
		args = append(args, true)
	}
	if len(filter.ExcludeIDs) > 0 {
		where += " AND r.id NOT IN (" + placeholders(len(filter.ExcludeIDs)) + ")"
		for _, id := range filter.ExcludeIDs {
			args = append(args, id)
		}
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM recipes r"+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count recipes: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT r." + strings.ReplaceAll(recipeColumns, ", ", ", r.") + " FROM recipes r" + where +
		" ORDER BY r.created_at DESC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, s.q(query), append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	var out []Recipe
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			_ = rows.Close()
			return nil, 0, err
		}
		out = append(out, *r)
	}
	if err := rows.Close(); err != nil {
		return nil, 0, err
	}

	for i := range out {
		if err := s.loadSummary(ctx, &out[i]); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

func (s *sqlStore) SearchRecipesByName(ctx context.Context, fragment string, limit int) ([]Recipe, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		"SELECT "+recipeColumns+" FROM recipes WHERE LOWER(name) LIKE ? ORDER BY created_at DESC LIMIT ?"),
		"%"+strings.ToLower(fragment)+"%", limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Recipe
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteRecipe(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"recipe_ingredients", "recipe_instructions", "recipe_nutrition", "recipe_images", "recipe_diet_plans", "customer_recipes"} {
		if _, err := tx.ExecContext(ctx, s.q("DELETE FROM "+table+" WHERE recipe_id = ?"), id); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	if err := requireAffected(tx.ExecContext(ctx, s.q("DELETE FROM recipes WHERE id = ?"), id)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) SetRecipeMealType(ctx context.Context, id, mealType string) error {
	return requireAffected(s.db.ExecContext(ctx, s.q("UPDATE recipes SET meal_type = ? WHERE id = ?"), mealType, id))
}

// --- Customer recipe history ---

func (s *sqlStore) RecordCustomerRecipes(ctx context.Context, email, month string, recipeIDs []string) error {
	email = normalizeEmail(email)
	for _, id := range recipeIDs {
		if _, err := s.db.ExecContext(ctx, s.q(
			"INSERT INTO customer_recipes (customer_email, recipe_id, month, created_at) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING"),
			email, id, month, now()); err != nil {
			return fmt.Errorf("record customer recipe: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) ListCustomerRecipeIDs(ctx context.Context, email, sinceMonth string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		"SELECT DISTINCT recipe_id FROM customer_recipes WHERE customer_email = ? AND month >= ?"),
		normalizeEmail(email), sinceMonth)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
