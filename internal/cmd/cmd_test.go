package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/mealplanhq/mealplan/internal/config"
	"github.com/mealplanhq/mealplan/internal/store"
)

const testSecret = "cmd-test-secret-that-is-long-enough-0123456789"

// writeTestConfig writes a sqlite-backed config into a temp dir and returns its path.
func writeTestConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	for _, key := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "STRIPE_SECRET_KEY", "DATABASE_URL", "GCS_BUCKET", "RESEND_API_KEY"} {
		t.Setenv(key, "")
	}

	dir := t.TempDir()
	cfg := config.Default(":0", testSecret)
	cfg.Storage.DSN = filepath.Join(dir, "mealplan.db")
	cfg.Blob.LocalDir = filepath.Join(dir, "files")
	cfg.Logging.Level = "error"

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "mealplan.json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path, cfg
}

func execute(t *testing.T, configPath, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--config", configPath))
	err := root.Execute()
	return out.String(), err
}

func openStore(t *testing.T, cfg *config.Config) store.Store {
	t.Helper()
	s, err := store.New(cfg.Storage)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestVersion(t *testing.T) {
	root := NewRootCmd("1.2.3")
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "mealplan 1.2.3" {
		t.Errorf("version output = %q", got)
	}
}

func TestResolveConfigPath(t *testing.T) {
	root := NewRootCmd("test")
	if got := resolveConfigPath(root, []string{"pos.json"}, "default.json"); got != "pos.json" {
		t.Errorf("positional: got %q", got)
	}
	if got := resolveConfigPath(root, nil, "default.json"); got != "default.json" {
		t.Errorf("default: got %q", got)
	}
	if err := root.PersistentFlags().Set("config", "flag.json"); err != nil {
		t.Fatal(err)
	}
	if got := resolveConfigPath(root, nil, "default.json"); got != "flag.json" {
		t.Errorf("flag: got %q", got)
	}
}

func TestUsersCreateAdminAndList(t *testing.T) {
	path, _ := writeTestConfig(t)

	out, err := execute(t, path, "", "users", "create-admin", "Ops@Example.com", "--password", "adminpassword1")
	if err != nil {
		t.Fatalf("create-admin: %v", err)
	}
	if !strings.Contains(out, "ops@example.com") {
		t.Errorf("create-admin output = %q", out)
	}

	if _, err := execute(t, path, "", "users", "create-admin", "ops@example.com", "--password", "adminpassword1"); err == nil {
		t.Error("second create-admin should fail")
	}

	out, err = execute(t, path, "", "users", "list", "--json")
	if err != nil {
		t.Fatalf("users list: %v", err)
	}
	var users []store.User
	if err := json.Unmarshal([]byte(out), &users); err != nil {
		t.Fatalf("decode users: %v\n%s", err, out)
	}
	if len(users) != 1 || users[0].Role != store.RoleAdmin || users[0].Email != "ops@example.com" {
		t.Errorf("users = %+v", users)
	}
}

func TestUsersSetPassword(t *testing.T) {
	path, _ := writeTestConfig(t)

	if _, err := execute(t, path, "", "users", "set-password", "nobody@example.com", "--password", "longpassword"); err == nil {
		t.Error("set-password for unknown user should fail")
	}
	if _, err := execute(t, path, "", "users", "create-admin", "ops@example.com", "--password", "adminpassword1"); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, path, "short\n", "users", "set-password", "ops@example.com"); err == nil {
		t.Error("weak prompted password should be rejected")
	}
	out, err := execute(t, path, "newpassword99\n", "users", "set-password", "ops@example.com")
	if err != nil {
		t.Fatalf("set-password: %v", err)
	}
	if !strings.Contains(out, "Password updated") {
		t.Errorf("set-password output = %q", out)
	}
}

func TestRecipesGenerateAndList(t *testing.T) {
	path, _ := writeTestConfig(t)

	out, err := execute(t, path, "", "recipes", "generate", "--diet", "keto", "--meal", "lunch", "-n", "2", "--json")
	if err != nil {
		t.Fatalf("generate: %v\n%s", err, out)
	}
	var gen struct {
		Recipes []store.Recipe `json:"recipes"`
	}
	if err := json.Unmarshal([]byte(out), &gen); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(gen.Recipes) != 2 {
		t.Fatalf("generated %d recipes, want 2", len(gen.Recipes))
	}

	out, err = execute(t, path, "", "recipes", "list", "--meal", "lunch")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, gen.Recipes[0].Name) {
		t.Errorf("list output missing %q:\n%s", gen.Recipes[0].Name, out)
	}

	if _, err := execute(t, path, "", "recipes", "generate", "--diet", "carnivore"); err == nil {
		t.Error("unknown diet should fail")
	}
	if _, err := execute(t, path, "", "recipes", "generate", "--meal", "brunch"); err == nil {
		t.Error("unknown meal type should fail")
	}
}

func TestRecipesDedupeDryRun(t *testing.T) {
	path, cfg := writeTestConfig(t)
	s := openStore(t, cfg)
	for _, name := range []string{"Lemon Herb Chicken", "Lemon Herb Chicken", "Beef Stew"} {
		if err := s.CreateRecipe(context.Background(), &store.Recipe{
			ID:        uuid.New().String(),
			Name:      name,
			MealType:  store.MealDinner,
			Servings:  4,
			Source:    "admin",
			DietPlans: []string{"mediterranean"},
		}); err != nil {
			t.Fatal(err)
		}
	}

	out, err := execute(t, path, "", "recipes", "dedupe", "--dry-run")
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if !strings.Contains(out, "Would delete 1") {
		t.Errorf("dedupe output = %q", out)
	}

	if _, err := execute(t, path, "", "recipes", "dedupe", "--threshold", "2"); err == nil {
		t.Error("threshold above 1 should fail")
	}
}

func TestRecipesCategorizeNeedsModel(t *testing.T) {
	path, _ := writeTestConfig(t)
	if _, err := execute(t, path, "", "recipes", "categorize"); err == nil {
		t.Error("categorize without an AI key should fail")
	}
}

func TestRecipesImagesNeedsBackend(t *testing.T) {
	path, _ := writeTestConfig(t)
	if _, err := execute(t, path, "", "recipes", "images"); err == nil {
		t.Error("images without an OpenAI key should fail")
	}
	if _, err := execute(t, path, "", "recipes", "images", "--limit", "0"); err == nil {
		t.Error("zero limit should fail")
	}
}

func TestJobsCommands(t *testing.T) {
	path, cfg := writeTestConfig(t)
	s := openStore(t, cfg)

	job := &store.MealPlanJob{
		ID:              uuid.New().String(),
		CustomerEmail:   "cook@example.com",
		StripeSessionID: "cs_test_cmd",
		ProductType:     "one_time",
		DietType:        "mediterranean",
		FamilySize:      2,
		TotalPhases:     5,
		Month:           1,
		Year:            2025,
		DaysInMonth:     31,
	}
	if err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if err := s.FailJob(context.Background(), job.ID, "boom"); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, path, "", "jobs", "list", "--status", "failed", "--json")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	var jobs []store.MealPlanJob
	if err := json.Unmarshal([]byte(out), &jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ErrorMessage != "boom" {
		t.Errorf("failed jobs = %+v", jobs)
	}

	if _, err := execute(t, path, "", "jobs", "list", "--status", "stuck"); err == nil {
		t.Error("unknown status should fail")
	}

	out, err = execute(t, path, "", "jobs", "show", job.ID)
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	if !strings.Contains(out, "cook@example.com") || !strings.Contains(out, "boom") {
		t.Errorf("jobs show output = %q", out)
	}

	if _, err := execute(t, path, "", "jobs", "reset", job.ID); err != nil {
		t.Fatalf("jobs reset: %v", err)
	}
	got, err := s.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.JobPending || got.ErrorMessage != "" || got.CurrentPhase != 1 {
		t.Errorf("after reset: status=%s phase=%d error=%q", got.Status, got.CurrentPhase, got.ErrorMessage)
	}

	if _, err := execute(t, path, "", "jobs", "reset", "missing-job"); err == nil {
		t.Error("reset of a missing job should fail")
	}
	if _, err := execute(t, path, "", "jobs", "show", "missing-job"); err == nil {
		t.Error("show of a missing job should fail")
	}
}

func TestJobsProcessIdle(t *testing.T) {
	path, _ := writeTestConfig(t)
	out, err := execute(t, path, "", "jobs", "process")
	if err != nil {
		t.Fatalf("jobs process: %v", err)
	}
	if !strings.Contains(out, "processed 0") {
		t.Errorf("process output = %q", out)
	}
}
