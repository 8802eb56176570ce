package authpw

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"kanban/api/internal/store"
)

type resetRecord struct {
	userID    string
	expiresAt time.Time
	used      bool
}

// memUserStore mimics the Postgres store, including sql.ErrNoRows wrapping.
type memUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string
	resets     map[string]resetRecord
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		users:      map[string]store.User{},
		emailIndex: map[string]string{},
		resets:     map[string]resetRecord{},
	}
}

func notFound(op string) error { return fmt.Errorf("%s: %w", op, sql.ErrNoRows) }

func (m *memUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if id, ok := m.emailIndex[strings.ToLower(strings.TrimSpace(email))]; ok {
		return m.users[id], nil
	}
	return store.User{}, notFound("get user by email")
}

func (m *memUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, notFound("get user")
}

func (m *memUserStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *memUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	user := m.users[userID]
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	m.users[userID] = user
	return nil
}

func (m *memUserStore) VerifyUserEmail(_ context.Context, token string) error {
	for id, user := range m.users {
		if user.VerificationToken == token && user.VerificationExpiresAt != nil && time.Now().Before(*user.VerificationExpiresAt) {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			m.users[id] = user
			return nil
		}
	}
	return notFound("verify email")
}

func (m *memUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	user := m.users[userID]
	user.PasswordHash = passwordHash
	m.users[userID] = user
	return nil
}

func (m *memUserStore) CreatePasswordReset(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	m.resets[tokenHash] = resetRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memUserStore) GetPasswordReset(_ context.Context, tokenHash string) (string, error) {
	if r, ok := m.resets[tokenHash]; ok && !r.used && time.Now().Before(r.expiresAt) {
		return r.userID, nil
	}
	return "", notFound("get password reset")
}

func (m *memUserStore) MarkPasswordResetUsed(_ context.Context, tokenHash string) error {
	r := m.resets[tokenHash]
	r.used = true
	m.resets[tokenHash] = r
	return nil
}

func newTestService() (*Service, *memUserStore) {
	mem := newMemUserStore()
	return NewService(mem, bcrypt.MinCost), mem
}

func signUpVerified(t *testing.T, svc *Service, email, password string) store.User {
	t.Helper()
	ctx := context.Background()
	resp, err := svc.SignUp(ctx, SignUpRequest{Email: email, Password: password, DisplayName: "Test User"})
	require.NoError(t, err)
	require.NoError(t, svc.VerifyEmail(ctx, resp.VerificationToken))
	return resp.User
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService()

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: " Test@Example.com ", Password: "password123", DisplayName: "Test"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.User.ID, "usr_"))
	assert.NotEmpty(t, resp.VerificationToken)
	assert.Equal(t, "test@example.com", resp.User.Email)
	assert.False(t, mem.users[resp.User.ID].IsEmailVerified)
	assert.NotEqual(t, "password123", mem.users[resp.User.ID].PasswordHash)

	cases := []struct {
		name string
		req  SignUpRequest
		want error
	}{
		{"duplicate email", SignUpRequest{Email: "test@example.com", Password: "password123", DisplayName: "Two"}, ErrEmailTaken},
		{"short password", SignUpRequest{Email: "x@example.com", Password: "short", DisplayName: "X"}, ErrInvalidInput},
		{"malformed email", SignUpRequest{Email: "nope", Password: "password123", DisplayName: "X"}, ErrInvalidInput},
		{"missing fields", SignUpRequest{}, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SignUp(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	signUpVerified(t, svc, "test@example.com", "password123")

	user, err := svc.SignIn(ctx, "test@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "test@example.com", user.Email)

	_, err = svc.SignIn(ctx, "test@example.com", "wrongpassword")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.SignIn(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.SignIn(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSignInUnverified(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	_, err := svc.SignUp(ctx, SignUpRequest{Email: "new@example.com", Password: "password123", DisplayName: "New"})
	require.NoError(t, err)

	_, err = svc.SignIn(ctx, "new@example.com", "password123")
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	// Wrong password never reveals the verification state.
	_, err = svc.SignIn(ctx, "new@example.com", "password999")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService()
	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "test@example.com", Password: "password123", DisplayName: "Test"})
	require.NoError(t, err)

	require.NoError(t, svc.VerifyEmail(ctx, resp.VerificationToken))
	assert.True(t, mem.users[resp.User.ID].IsEmailVerified)

	assert.ErrorIs(t, svc.VerifyEmail(ctx, resp.VerificationToken), ErrInvalidToken)
	assert.ErrorIs(t, svc.VerifyEmail(ctx, "invalid-token"), ErrInvalidToken)
	assert.ErrorIs(t, svc.VerifyEmail(ctx, ""), ErrInvalidInput)
}

func TestResendVerification(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "test@example.com", Password: "password123", DisplayName: "Test"})
	require.NoError(t, err)

	_, token, err := svc.ResendVerification(ctx, "test@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.NotEqual(t, resp.VerificationToken, token)
	assert.ErrorIs(t, svc.VerifyEmail(ctx, resp.VerificationToken), ErrInvalidToken)
	require.NoError(t, svc.VerifyEmail(ctx, token))

	_, token, err = svc.ResendVerification(ctx, "test@example.com")
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService()
	user := signUpVerified(t, svc, "test@example.com", "password123")

	_, token, err := svc.RequestPasswordReset(ctx, "test@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	_, stored := mem.resets[token]
	assert.False(t, stored, "reset token must be stored hashed")

	_, none, err := svc.RequestPasswordReset(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, none)

	userID, err := svc.ResetPassword(ctx, token, "newpassword123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	_, err = svc.SignIn(ctx, "test@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.SignIn(ctx, "test@example.com", "newpassword123")
	require.NoError(t, err)

	_, err = svc.ResetPassword(ctx, token, "anotherpassword")
	assert.ErrorIs(t, err, ErrInvalidToken, "tokens are single use")
	_, err = svc.ResetPassword(ctx, "invalid-token", "newpassword123")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.ResetPassword(ctx, "some-token", "short")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
