package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	sqlStore
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{sqlStore{
		db:        db,
		postgres:  true,
		isUnique:  isPgUniqueViolation,
		claimLock: "FOR UPDATE SKIP LOCKED",
	}}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			stripe_customer_id TEXT NOT NULL DEFAULT '',
			email_verified BOOLEAN NOT NULL DEFAULT FALSE,
			role TEXT NOT NULL DEFAULT 'customer',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
			user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			family_size INTEGER NOT NULL DEFAULT 2,
			servings_preference INTEGER NOT NULL DEFAULT 4,
			dietary_restrictions TEXT NOT NULL DEFAULT '[]',
			allergies TEXT NOT NULL DEFAULT '[]',
			dislikes TEXT NOT NULL DEFAULT '[]',
			preferred_cuisines TEXT NOT NULL DEFAULT '[]',
			cooking_skill_level TEXT NOT NULL DEFAULT 'intermediate',
			max_prep_time INTEGER NOT NULL DEFAULT 45,
			snacks_included BOOLEAN NOT NULL DEFAULT TRUE,
			nutrition_goals TEXT NOT NULL DEFAULT '[]',
			calorie_target INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS purchases (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			product_id TEXT NOT NULL,
			product_name TEXT NOT NULL DEFAULT '',
			stripe_session_id TEXT UNIQUE NOT NULL,
			amount BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'usd',
			status TEXT NOT NULL DEFAULT 'pending',
			diet_plan TEXT NOT NULL DEFAULT '',
			pdf_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_user_id ON purchases(user_id)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			stripe_subscription_id TEXT UNIQUE NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			current_period_start TIMESTAMPTZ NOT NULL,
			current_period_end TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS meal_plan_jobs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			customer_email TEXT NOT NULL,
			stripe_session_id TEXT UNIQUE NOT NULL,
			product_type TEXT NOT NULL DEFAULT 'one_time',
			diet_type TEXT NOT NULL,
			family_size INTEGER NOT NULL DEFAULT 4,
			dietary_needs TEXT NOT NULL DEFAULT '[]',
			allergies TEXT NOT NULL DEFAULT '',
			preferences TEXT NOT NULL DEFAULT '',
			customizations TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'pending',
			current_phase INTEGER NOT NULL DEFAULT 1,
			total_phases INTEGER NOT NULL DEFAULT 5,
			generated_recipes TEXT NOT NULL DEFAULT '[]',
			phase_progress TEXT NOT NULL DEFAULT '',
			recipe_count INTEGER NOT NULL DEFAULT 0,
			pdf_url TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			month INTEGER NOT NULL,
			year INTEGER NOT NULL,
			days_in_month INTEGER NOT NULL,
			locked_until BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processing_started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON meal_plan_jobs(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_customer_email ON meal_plan_jobs(customer_email)`,
		`CREATE TABLE IF NOT EXISTS diet_plans (
			id TEXT PRIMARY KEY,
			slug TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS recipes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			meal_type TEXT NOT NULL DEFAULT 'any',
			prep_time INTEGER NOT NULL DEFAULT 0,
			cook_time INTEGER NOT NULL DEFAULT 0,
			servings INTEGER NOT NULL DEFAULT 4,
			difficulty TEXT NOT NULL DEFAULT 'medium',
			tags TEXT NOT NULL DEFAULT '[]',
			source TEXT NOT NULL DEFAULT 'ai',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recipes_meal_type ON recipes(meal_type)`,
		`CREATE TABLE IF NOT EXISTS recipe_diet_plans (
			recipe_id TEXT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
			diet_plan_id TEXT NOT NULL REFERENCES diet_plans(id),
			PRIMARY KEY (recipe_id, diet_plan_id)
		)`,
		`CREATE TABLE IF NOT EXISTS recipe_ingredients (
			recipe_id TEXT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
			order_index INTEGER NOT NULL,
			ingredient TEXT NOT NULL,
			amount TEXT NOT NULL DEFAULT '',
			unit TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (recipe_id, order_index)
		)`,
		`CREATE TABLE IF NOT EXISTS recipe_instructions (
			recipe_id TEXT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
			step_number INTEGER NOT NULL,
			instruction TEXT NOT NULL,
			PRIMARY KEY (recipe_id, step_number)
		)`,
		`CREATE TABLE IF NOT EXISTS recipe_nutrition (
			recipe_id TEXT PRIMARY KEY REFERENCES recipes(id) ON DELETE CASCADE,
			calories DOUBLE PRECISION NOT NULL DEFAULT 0,
			protein DOUBLE PRECISION NOT NULL DEFAULT 0,
			carbs DOUBLE PRECISION NOT NULL DEFAULT 0,
			fat DOUBLE PRECISION NOT NULL DEFAULT 0,
			fiber DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS recipe_images (
			id BIGSERIAL PRIMARY KEY,
			recipe_id TEXT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			is_primary BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS customer_recipes (
			customer_email TEXT NOT NULL,
			recipe_id TEXT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
			month TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (customer_email, recipe_id, month)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}

	return s.seedDietPlans()
}
