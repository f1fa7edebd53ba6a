package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mealplanhq/mealplan/internal/store"
)

// MagicLinkToken issues a short-lived signed token for email. The account is
// created on verification, not here.
func (s *Service) MagicLinkToken(email string) (string, error) {
	if err := ValidateEmail(email); err != nil {
		return "", err
	}
	return s.sign(&Claims{Email: normalize(email), Kind: KindMagic}, s.magicLinkExpiry)
}

// VerifyMagicLink checks a magic-link token against the email it was issued
// for, marks the address verified and returns a session token.
func (s *Service) VerifyMagicLink(ctx context.Context, tokenStr, email string) (*store.User, string, error) {
	claims, err := s.parse(tokenStr)
	if err != nil || claims.Kind != KindMagic {
		return nil, "", ErrInvalidToken
	}
	if claims.Email != normalize(email) {
		return nil, "", ErrInvalidToken
	}

	user, _, err := s.EnsureUser(ctx, claims.Email, "")
	if err != nil {
		return nil, "", err
	}
	if !user.EmailVerified {
		if err := s.store.MarkEmailVerified(ctx, user.ID); err != nil {
			return nil, "", fmt.Errorf("mark verified: %w", err)
		}
		user.EmailVerified = true
	}

	token, err := s.SessionFor(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// ApproveMagicLink logs the user in immediately, creating the account if
// needed. It is used when magic links are configured to skip email delivery.
func (s *Service) ApproveMagicLink(ctx context.Context, email string) (*store.User, string, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, "", err
	}
	user, _, err := s.EnsureUser(ctx, email, "")
	if err != nil {
		return nil, "", err
	}
	token, err := s.SessionFor(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// ResetToken issues a password reset token. It returns an empty token and no
// error when the email is unknown so callers cannot enumerate accounts.
func (s *Service) ResetToken(ctx context.Context, email string) (string, *store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return "", nil, nil
	}
	token, err := s.sign(&Claims{
		UserID:      user.ID,
		Email:       user.Email,
		Kind:        KindReset,
		PasswordTag: passwordTag(user.PasswordHash),
	}, s.resetExpiry)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// ResetPassword sets a new password if the token is valid and the password has
// not changed since it was issued.
func (s *Service) ResetPassword(ctx context.Context, tokenStr, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	claims, err := s.parse(tokenStr)
	if err != nil || claims.Kind != KindReset {
		return ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user == nil || passwordTag(user.PasswordHash) != claims.PasswordTag {
		return ErrInvalidToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.UpdateUserPassword(ctx, user.ID, string(hash))
}

func passwordTag(hash string) string {
	sum := sha256.Sum256([]byte(hash))
	return hex.EncodeToString(sum[:8])
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
