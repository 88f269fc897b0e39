package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"shop-service/database/memstore"
	"shop-service/models"
	"shop-service/utils"
)

func newUserService(store *memstore.Store) (*UserService, *utils.TokenManager) {
	tokens := utils.NewTokenManager("test-secret", time.Hour)
	s := NewUserService(UserServiceDeps{Users: store, Tokens: tokens})
	s.cost = bcrypt.MinCost
	return s, tokens
}

type verifyFixture struct {
	svc      *UserService
	store    *memstore.Store
	notifier *recordingNotifier
	now      time.Time
	seq      int
}

func newVerifyFixture() *verifyFixture {
	f := &verifyFixture{store: memstore.New(), notifier: &recordingNotifier{}, now: testNow}
	f.svc = NewUserService(UserServiceDeps{
		Users:     f.store,
		Tokens:    utils.NewTokenManager("test-secret", time.Hour),
		Notifier:  f.notifier,
		VerifyURL: "https://shop.example/api/auth/verify",
		VerifyTTL: time.Hour,
		Clock:     func() time.Time { return f.now },
		NewToken: func() string {
			f.seq++
			return fmt.Sprintf("tok-%d", f.seq)
		},
	})
	f.svc.cost = bcrypt.MinCost
	return f
}

func (f *verifyFixture) register(t *testing.T) *models.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), models.RegisterRequest{Email: "ada@example.com", Password: "correct-horse", FullName: "Ada"})
	require.NoError(t, err)
	return u
}

func TestRegisterAndLogin(t *testing.T) {
	store := memstore.New()
	s, tokens := newUserService(store)

	u, err := s.Register(context.Background(), models.RegisterRequest{Email: " Ada@Example.com ", Password: "correct-horse", FullName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, models.RoleCustomer, u.Role)
	assert.NotEqual(t, "correct-horse", u.PasswordHash)

	resp, err := s.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	id, err := tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id.UserID)

	_, err = s.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "wrong-horse"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = s.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "x"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	s, _ := newUserService(memstore.New())
	req := models.RegisterRequest{Email: "dup@example.com", Password: "password1", FullName: "D"}

	_, err := s.Register(context.Background(), req)
	require.NoError(t, err)
	_, err = s.Register(context.Background(), req)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetUserNotFound(t *testing.T) {
	s, _ := newUserService(memstore.New())
	_, err := s.GetUser(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterQueuesVerificationEmail(t *testing.T) {
	f := newVerifyFixture()
	u := f.register(t)
	assert.False(t, u.EmailVerified)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.NotificationEmailVerification, events[0].Type)
	assert.Equal(t, u.ID, events[0].UserID)
	assert.Equal(t, "https://shop.example/api/auth/verify?token=tok-1", events[0].VerifyURL)

	verified, err := f.svc.VerifyEmail(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.True(t, verified.EmailVerified)

	_, err = f.svc.VerifyEmail(context.Background(), "tok-1")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestVerifyEmailRejectsBadTokens(t *testing.T) {
	f := newVerifyFixture()
	f.register(t)

	_, err := f.svc.VerifyEmail(context.Background(), "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.VerifyEmail(context.Background(), "tok-unknown")
	assert.ErrorIs(t, err, ErrValidation)

	f.now = testNow.Add(time.Hour)
	_, err = f.svc.VerifyEmail(context.Background(), "tok-1")
	assert.ErrorIs(t, err, ErrValidation)

	u, err := f.store.GetUserByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.False(t, u.EmailVerified)
}

func TestResendVerificationReplacesToken(t *testing.T) {
	f := newVerifyFixture()
	u := f.register(t)

	require.NoError(t, f.svc.ResendVerification(context.Background(), u.ID))
	require.Len(t, f.notifier.Events(), 2)

	_, err := f.svc.VerifyEmail(context.Background(), "tok-1")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.VerifyEmail(context.Background(), "tok-2")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.ResendVerification(context.Background(), u.ID), ErrConflict)
	assert.ErrorIs(t, f.svc.ResendVerification(context.Background(), 404), ErrNotFound)
}

func TestRegisterSucceedsWhenVerificationNotQueued(t *testing.T) {
	f := newVerifyFixture()
	f.notifier.err = errors.New("buffer full")

	u := f.register(t)
	assert.NotZero(t, u.ID)
}
