// Package authpw provides email/password authentication with verification.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kanban/api/internal/auth"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
)

const (
	minPasswordLen  = 8
	verificationTTL = 24 * time.Hour
	resetTTL        = time.Hour
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Service provides email/password authentication
type Service struct {
	store UserStore
	cost  int
	now   func() time.Time
}

// UserStore defines the storage interface for auth. Reset tokens reach the
// store hashed.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, tokenHash string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, tokenHash string) error
}

// NewService creates a new auth service. cost 0 means bcrypt.DefaultCost.
func NewService(store UserStore, cost int) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{store: store, cost: cost, now: time.Now}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUpResponse contains sign-up result
type SignUpResponse struct {
	User              store.User
	VerificationToken string
}

// SignUp creates an unverified account and returns the token to mail out.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.DisplayName)
	if email == "" || req.Password == "" || name == "" {
		return nil, fmt.Errorf("%w: email, password, and display name are required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if len(req.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !store.IsNotFound(err) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:                util.NewID("usr"),
		DisplayName:       name,
		Email:             email,
		PasswordHash:      string(hash),
		VerificationToken: util.NewToken(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	expiresAt := s.now().Add(verificationTTL)
	if err := s.store.UpdateUserVerificationToken(ctx, user.ID, user.VerificationToken, expiresAt); err != nil {
		return nil, fmt.Errorf("set verification expiry: %w", err)
	}
	user.VerificationExpiresAt = &expiresAt

	return &SignUpResponse{User: user, VerificationToken: user.VerificationToken}, nil
}

// SignIn checks the password first so an unverified account is only reported
// to someone who knows it.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return store.User{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if store.IsNotFound(err) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if !user.IsEmailVerified {
		return user, ErrEmailNotVerified
	}
	return user, nil
}

// VerifyEmail verifies an email address using a token
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: verification token required", ErrInvalidInput)
	}
	if err := s.store.VerifyUserEmail(ctx, token); err != nil {
		if store.IsNotFound(err) {
			return ErrInvalidToken
		}
		return fmt.Errorf("verify email: %w", err)
	}
	return nil
}

// ResendVerification issues a fresh verification token. It returns "" with no
// error for unknown or already verified addresses.
func (s *Service) ResendVerification(ctx context.Context, email string) (store.User, string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil || user.IsEmailVerified {
		return store.User{}, "", nil
	}
	token := util.NewToken()
	if err := s.store.UpdateUserVerificationToken(ctx, user.ID, token, s.now().Add(verificationTTL)); err != nil {
		return store.User{}, "", fmt.Errorf("reset verification token: %w", err)
	}
	return user, token, nil
}

// RequestPasswordReset returns a reset token for a known address. Unknown
// addresses yield "" and no error.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (store.User, string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, "", nil
	}

	token := util.NewToken()
	if err := s.store.CreatePasswordReset(ctx, user.ID, auth.HashToken(token), s.now().Add(resetTTL)); err != nil {
		return store.User{}, "", fmt.Errorf("create password reset: %w", err)
	}
	return user, token, nil
}

// ResetPassword sets a new password and returns the user id so callers can
// revoke that user's sessions.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	if token == "" || newPassword == "" {
		return "", fmt.Errorf("%w: token and new password are required", ErrInvalidInput)
	}
	if len(newPassword) < minPasswordLen {
		return "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}

	tokenHash := auth.HashToken(token)
	userID, err := s.store.GetPasswordReset(ctx, tokenHash)
	if err != nil {
		return "", ErrInvalidToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}
	if err := s.store.MarkPasswordResetUsed(ctx, tokenHash); err != nil {
		return "", fmt.Errorf("mark reset used: %w", err)
	}
	return userID, nil
}
