// Package auth provides password and magic-link authentication and signed
// session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mealplanhq/mealplan/internal/config"
	"github.com/mealplanhq/mealplan/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// MinPasswordLength is the shortest password accepted at signup or reset.
const MinPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Token kinds carried in the "knd" claim.
const (
	KindSession = "session"
	KindAdmin   = "admin"
	KindMagic   = "magic"
	KindReset   = "reset"
)

// Claims represents the JWT token claims.
type Claims struct {
	UserID string `json:"uid,omitempty"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
	Kind   string `json:"knd"`
	// PasswordTag binds reset tokens to the password hash they were issued for.
	PasswordTag string `json:"ptag,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller derived from a session or admin token.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool { return i != nil && i.Role == store.RoleAdmin }

// Service handles authentication operations.
type Service struct {
	store           store.Store
	jwtSecret       []byte
	sessionExpiry   time.Duration
	adminExpiry     time.Duration
	magicLinkExpiry time.Duration
	resetExpiry     time.Duration
	initialAdmin    *config.InitialAdmin
	now             func() time.Time
}

// NewService creates a new auth service.
func NewService(s store.Store, cfg config.AuthConfig) *Service {
	return &Service{
		store:           s,
		jwtSecret:       []byte(cfg.JWTSecret),
		sessionExpiry:   cfg.SessionExpiry.Duration,
		adminExpiry:     cfg.AdminExpiry.Duration,
		magicLinkExpiry: cfg.MagicLinkExpiry.Duration,
		resetExpiry:     cfg.ResetExpiry.Duration,
		initialAdmin:    cfg.InitialAdmin,
		now:             time.Now,
	}
}

// SessionExpiry is the lifetime of customer session tokens.
func (s *Service) SessionExpiry() time.Duration { return s.sessionExpiry }

// AdminExpiry is the lifetime of admin tokens.
func (s *Service) AdminExpiry() time.Duration { return s.adminExpiry }

// MagicLinkExpiry is the lifetime of emailed sign-in links.
func (s *Service) MagicLinkExpiry() time.Duration { return s.magicLinkExpiry }

// ResetExpiry is the lifetime of password reset links.
func (s *Service) ResetExpiry() time.Duration { return s.resetExpiry }

// ValidateEmail checks the address shape.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// Bootstrap creates the configured initial admin if it does not exist yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	return s.BootstrapAdmin(ctx, s.initialAdmin)
}

// BootstrapAdmin creates the initial admin user from the given config.
func (s *Service) BootstrapAdmin(ctx context.Context, admin *config.InitialAdmin) error {
	if admin == nil {
		return nil
	}

	existing, err := s.store.GetUserByEmail(ctx, admin.Email)
	if err != nil {
		return fmt.Errorf("check existing user: %w", err)
	}
	if existing != nil {
		return nil // already bootstrapped
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	name := admin.Name
	if name == "" {
		name = "Administrator"
	}
	return s.store.CreateUser(ctx, &store.User{
		ID:            uuid.New().String(),
		Email:         admin.Email,
		Name:          name,
		PasswordHash:  string(hash),
		EmailVerified: true,
		Role:          store.RoleAdmin,
	})
}

// Signup creates a customer account with a password and returns a session token.
func (s *Service) Signup(ctx context.Context, email, password, name string) (*store.User, string, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, "", err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, "", err
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("check existing: %w", err)
	}
	if existing != nil {
		return nil, "", ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		Role:         store.RoleCustomer,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, "", ErrUserExists
		}
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	token, err := s.issue(user, KindSession, s.sessionExpiry)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login authenticates with email and password and returns a session token.
// Accounts without a password (created by checkout or magic link) cannot log
// in this way.
func (s *Service) Login(ctx context.Context, email, password string) (*store.User, string, error) {
	user, err := s.checkPassword(ctx, email, password)
	if err != nil {
		return nil, "", err
	}
	token, err := s.issue(user, KindSession, s.sessionExpiry)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// AdminLogin authenticates an admin user and returns an admin token.
func (s *Service) AdminLogin(ctx context.Context, email, password string) (*store.User, string, error) {
	user, err := s.checkPassword(ctx, email, password)
	if err != nil {
		return nil, "", err
	}
	if user.Role != store.RoleAdmin {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.issue(user, KindAdmin, s.adminExpiry)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *Service) checkPassword(ctx context.Context, email, password string) (*store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// EnsureUser returns the account for email, creating a password-less customer
// account if none exists. created reports whether a new row was written.
func (s *Service) EnsureUser(ctx context.Context, email, name string) (user *store.User, created bool, err error) {
	user, err = s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, false, fmt.Errorf("get user: %w", err)
	}
	if user != nil {
		return user, false, nil
	}

	user = &store.User{
		ID:    uuid.New().String(),
		Email: email,
		Name:  name,
		Role:  store.RoleCustomer,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost a race with a concurrent insert; use the winner.
			existing, getErr := s.store.GetUserByEmail(ctx, email)
			if getErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	return user, true, nil
}

// SessionFor issues a session token for an existing user.
func (s *Service) SessionFor(user *store.User) (string, error) {
	return s.issue(user, KindSession, s.sessionExpiry)
}

// SetPassword replaces a user's password.
func (s *Service) SetPassword(ctx context.Context, email, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return store.ErrNotFound
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.UpdateUserPassword(ctx, user.ID, string(hash))
}

// ValidateSession validates a session or admin token and returns the identity.
func (s *Service) ValidateSession(tokenStr string) (*Identity, error) {
	claims, err := s.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Kind != KindSession && claims.Kind != KindAdmin {
		return nil, ErrUnauthorized
	}
	return &Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

// ValidateAdmin validates an admin token.
func (s *Service) ValidateAdmin(tokenStr string) (*Identity, error) {
	claims, err := s.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Kind != KindAdmin || claims.Role != store.RoleAdmin {
		return nil, ErrUnauthorized
	}
	return &Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

// parse validates a JWT token and returns the claims.
func (s *Service) parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	return claims, nil
}

func (s *Service) issue(user *store.User, kind string, ttl time.Duration) (string, error) {
	return s.sign(&Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		Kind:   kind,
	}, ttl)
}

func (s *Service) sign(claims *Claims, ttl time.Duration) (string, error) {
	issued := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.Email,
		ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(issued),
		ID:        uuid.New().String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
