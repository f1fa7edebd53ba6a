package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mealplanhq/mealplan/internal/config"
	"github.com/mealplanhq/mealplan/internal/store"
)

func newTestAuthService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := config.AuthConfig{
		JWTSecret:       "test-secret-at-least-32-chars-long",
		SessionExpiry:   config.Duration{Duration: time.Hour},
		AdminExpiry:     config.Duration{Duration: time.Hour},
		MagicLinkExpiry: config.Duration{Duration: 15 * time.Minute},
		ResetExpiry:     config.Duration{Duration: time.Hour},
	}

	return NewService(s, cfg), s
}

func TestBootstrap(t *testing.T) {
	svc, s := newTestAuthService(t)
	ctx := context.Background()

	admin := &config.InitialAdmin{Email: "admin@example.com", Password: "admin-password"}

	if err := svc.BootstrapAdmin(ctx, admin); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	user, err := s.GetUserByEmail(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if user == nil {
		t.Fatal("admin user not created")
	}
	if user.Role != store.RoleAdmin {
		t.Errorf("Role: got %q, want %q", user.Role, store.RoleAdmin)
	}

	// Second bootstrap should be idempotent (no error, no duplicate)
	if err := svc.BootstrapAdmin(ctx, admin); err != nil {
		t.Fatalf("Bootstrap (idempotent): %v", err)
	}
	users, _ := s.ListUsers(ctx)
	if len(users) != 1 {
		t.Errorf("expected 1 user after double bootstrap, got %d", len(users))
	}

	if err := svc.BootstrapAdmin(ctx, nil); err != nil {
		t.Fatalf("BootstrapAdmin(nil): %v", err)
	}
}

func TestSignupValidation(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, _, err := svc.Signup(ctx, "not-an-email", "password123", ""); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("bad email: got %v, want ErrInvalidEmail", err)
	}
	if _, _, err := svc.Signup(ctx, "a@example.com", "short", ""); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("short password: got %v, want ErrWeakPassword", err)
	}

	user, token, err := svc.Signup(ctx, "A@Example.com", "password123", "Alice")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if user.Email != "a@example.com" || user.Role != store.RoleCustomer {
		t.Errorf("user: got %+v", user)
	}
	if len(strings.Split(token, ".")) != 3 {
		t.Errorf("expected JWT with 3 parts, got %q", token)
	}

	if _, _, err := svc.Signup(ctx, "a@example.com", "password456", ""); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate signup: got %v, want ErrUserExists", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, _, err := svc.Signup(ctx, "alice@example.com", "secret123", "Alice"); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	user, token, err := svc.Login(ctx, "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" || user.Email != "alice@example.com" {
		t.Fatalf("Login: got user %+v token %q", user, token)
	}

	if _, _, err := svc.Login(ctx, "alice@example.com", "wrong-password"); err != ErrInvalidCredentials {
		t.Errorf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "secret123"); err != ErrInvalidCredentials {
		t.Errorf("unknown user: got %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginPasswordlessAccount(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, created, err := svc.EnsureUser(ctx, "buyer@example.com", "Buyer"); err != nil || !created {
		t.Fatalf("EnsureUser: created=%v err=%v", created, err)
	}
	if _, _, err := svc.Login(ctx, "buyer@example.com", ""); err != ErrInvalidCredentials {
		t.Errorf("passwordless login: got %v, want ErrInvalidCredentials", err)
	}

	again, created, err := svc.EnsureUser(ctx, "BUYER@example.com", "")
	if err != nil || created {
		t.Fatalf("EnsureUser second call: created=%v err=%v", created, err)
	}
	if again.Name != "Buyer" {
		t.Errorf("EnsureUser should return the existing row, got %+v", again)
	}
}

func TestValidateSession(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	user, token, err := svc.Signup(ctx, "bob@example.com", "password123", "")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	id, err := svc.ValidateSession(token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if id.UserID != user.ID || id.Email != "bob@example.com" || id.IsAdmin() {
		t.Errorf("identity: got %+v", id)
	}

	if _, err := svc.ValidateAdmin(token); err == nil {
		t.Error("customer session accepted as admin token")
	}
	if _, err := svc.ValidateSession("garbage.token.here"); err != ErrUnauthorized {
		t.Errorf("garbage: got %v, want ErrUnauthorized", err)
	}

	tampered := token[:len(token)-2] + "xx"
	if _, err := svc.ValidateSession(tampered); err == nil {
		t.Error("tampered token accepted")
	}
}

func TestValidateSessionExpired(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	_, token, err := svc.Signup(ctx, "carol@example.com", "password123", "")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.ValidateSession(token); err != ErrUnauthorized {
		t.Errorf("expired: got %v, want ErrUnauthorized", err)
	}
}

func TestValidateWrongSecret(t *testing.T) {
	svc, s := newTestAuthService(t)
	_, token, err := svc.Signup(context.Background(), "dave@example.com", "password123", "")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	other := NewService(s, config.AuthConfig{JWTSecret: "a-completely-different-secret-value!!", SessionExpiry: config.Duration{Duration: time.Hour}})
	if _, err := other.ValidateSession(token); err == nil {
		t.Error("token signed with another secret was accepted")
	}
}

func TestAdminLogin(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if err := svc.BootstrapAdmin(ctx, &config.InitialAdmin{Email: "root@example.com", Password: "admin-password"}); err != nil {
		t.Fatalf("BootstrapAdmin: %v", err)
	}
	if _, _, err := svc.Signup(ctx, "cust@example.com", "password123", ""); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	_, token, err := svc.AdminLogin(ctx, "root@example.com", "admin-password")
	if err != nil {
		t.Fatalf("AdminLogin: %v", err)
	}
	id, err := svc.ValidateAdmin(token)
	if err != nil || !id.IsAdmin() {
		t.Fatalf("ValidateAdmin: %+v, %v", id, err)
	}

	if _, _, err := svc.AdminLogin(ctx, "cust@example.com", "password123"); err != ErrInvalidCredentials {
		t.Errorf("customer admin login: got %v, want ErrInvalidCredentials", err)
	}
}

func TestMagicLink(t *testing.T) {
	svc, s := newTestAuthService(t)
	ctx := context.Background()

	token, err := svc.MagicLinkToken("New@Example.com")
	if err != nil {
		t.Fatalf("MagicLinkToken: %v", err)
	}

	if _, _, err := svc.VerifyMagicLink(ctx, token, "someone-else@example.com"); err != ErrInvalidToken {
		t.Errorf("wrong email: got %v, want ErrInvalidToken", err)
	}

	user, session, err := svc.VerifyMagicLink(ctx, token, "new@example.com")
	if err != nil {
		t.Fatalf("VerifyMagicLink: %v", err)
	}
	if !user.EmailVerified || session == "" {
		t.Errorf("verified user: got %+v session %q", user, session)
	}
	stored, _ := s.GetUserByEmail(ctx, "new@example.com")
	if stored == nil || !stored.EmailVerified {
		t.Errorf("stored user: got %+v", stored)
	}

	// A magic token is not a session token.
	if _, err := svc.ValidateSession(token); err == nil {
		t.Error("magic-link token accepted as session")
	}

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, _, err := svc.VerifyMagicLink(ctx, token, "new@example.com"); err != ErrInvalidToken {
		t.Errorf("expired magic link: got %v, want ErrInvalidToken", err)
	}
}

func TestApproveMagicLink(t *testing.T) {
	svc, _ := newTestAuthService(t)
	user, token, err := svc.ApproveMagicLink(context.Background(), "quick@example.com")
	if err != nil {
		t.Fatalf("ApproveMagicLink: %v", err)
	}
	if user.Email != "quick@example.com" || token == "" {
		t.Errorf("got %+v %q", user, token)
	}
	if _, _, err := svc.ApproveMagicLink(context.Background(), "bad"); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("bad email: got %v", err)
	}
}

func TestPasswordReset(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, _, err := svc.Signup(ctx, "erin@example.com", "original-pass", ""); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	token, user, err := svc.ResetToken(ctx, "erin@example.com")
	if err != nil || token == "" || user == nil {
		t.Fatalf("ResetToken: %q %v %v", token, user, err)
	}

	unknown, _, err := svc.ResetToken(ctx, "ghost@example.com")
	if err != nil || unknown != "" {
		t.Errorf("unknown email: got %q, %v; want empty, nil", unknown, err)
	}

	if err := svc.ResetPassword(ctx, token, "brand-new-pass"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, _, err := svc.Login(ctx, "erin@example.com", "brand-new-pass"); err != nil {
		t.Errorf("login with new password: %v", err)
	}

	// The token is bound to the old hash, so it cannot be replayed.
	if err := svc.ResetPassword(ctx, token, "another-pass-1"); err != ErrInvalidToken {
		t.Errorf("replayed reset: got %v, want ErrInvalidToken", err)
	}
}

func TestSetPassword(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, _, err := svc.EnsureUser(ctx, "frank@example.com", ""); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if err := svc.SetPassword(ctx, "frank@example.com", "now-has-a-pass"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if _, _, err := svc.Login(ctx, "frank@example.com", "now-has-a-pass"); err != nil {
		t.Errorf("Login after SetPassword: %v", err)
	}
	if err := svc.SetPassword(ctx, "missing@example.com", "whatever-pass"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing user: got %v, want ErrNotFound", err)
	}
}
