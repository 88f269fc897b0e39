package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"shop-service/database"
	"shop-service/logging"
	"shop-service/models"
)

const DefaultVerifyTTL = 24 * time.Hour

// TokenIssuer signs bearer tokens for authenticated users.
type TokenIssuer interface {
	Generate(userID int64, role string) (string, time.Time, error)
}

type UserServiceDeps struct {
	Users    database.UserStore
	Tokens   TokenIssuer
	Notifier Notifier
	// VerifyURL is the absolute address of the verification endpoint; the
	// token is appended as the "token" query parameter.
	VerifyURL string
	VerifyTTL time.Duration
	Logger    *zap.Logger
	Clock     func() time.Time
	NewToken  func() string
}

type UserService struct {
	users     database.UserStore
	tokens    TokenIssuer
	notifier  Notifier
	verifyURL string
	verifyTTL time.Duration
	cost      int
	logger    *zap.Logger
	clock     func() time.Time
	newToken  func() string
}

func NewUserService(deps UserServiceDeps) *UserService {
	s := &UserService{
		users:     deps.Users,
		tokens:    deps.Tokens,
		notifier:  deps.Notifier,
		verifyURL: deps.VerifyURL,
		verifyTTL: deps.VerifyTTL,
		cost:      bcrypt.DefaultCost,
		logger:    logging.OrNop(deps.Logger),
		clock:     deps.Clock,
		newToken:  deps.NewToken,
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.verifyTTL <= 0 {
		s.verifyTTL = DefaultVerifyTTL
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newToken == nil {
		s.newToken = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	}
	return s
}

func (s *UserService) now() time.Time { return s.clock().UTC() }

// Register creates a customer account and emails a verification link. A
// failure to issue the link does not undo the registration; the user can
// ask for a new one.
func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || len(req.Password) < 8 {
		return nil, fmt.Errorf("%w: email and a password of at least 8 characters are required", ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(req.FullName),
		Role:         models.RoleCustomer,
		CreatedAt:    s.now(),
	}
	id, err := s.users.CreateUser(ctx, u)
	if errors.Is(err, database.ErrDuplicate) {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	u.ID = id
	s.logger.Info("user registered", zap.Int64("user_id", id))

	if err := s.issueVerification(ctx, u); err != nil {
		s.logger.Warn("email verification not issued", zap.Int64("user_id", id), zap.Error(err))
	}
	return u, nil
}

// ResendVerification replaces the user's outstanding verification link.
func (s *UserService) ResendVerification(ctx context.Context, userID int64) error {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return mapStoreError(err, "user", userID)
	}
	if u.EmailVerified {
		return fmt.Errorf("%w: email already verified", ErrConflict)
	}
	return s.issueVerification(ctx, u)
}

// VerifyEmail consumes a verification token and marks its user verified.
func (s *UserService) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrValidation)
	}
	v, err := s.users.GetEmailVerification(ctx, hashToken(token))
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: invalid verification token", ErrValidation)
	}
	if err != nil {
		return nil, err
	}
	if v.Expired(s.now()) {
		return nil, fmt.Errorf("%w: verification token expired", ErrValidation)
	}
	if err := s.users.MarkEmailVerified(ctx, v.UserID); err != nil {
		return nil, mapStoreError(err, "user", v.UserID)
	}
	s.logger.Info("email verified", zap.Int64("user_id", v.UserID))
	return s.GetUser(ctx, v.UserID)
}

func (s *UserService) issueVerification(ctx context.Context, u *models.User) error {
	token := s.newToken()
	now := s.now()
	if err := s.users.SaveEmailVerification(ctx, &models.EmailVerification{
		UserID:    u.ID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(s.verifyTTL),
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("save verification: %w", err)
	}

	link, err := s.verifyLink(token)
	if err != nil {
		return err
	}
	if err := s.notifier.Dispatch(models.NotificationEvent{
		Type:      models.NotificationEmailVerification,
		UserID:    u.ID,
		VerifyURL: link,
		Occurred:  now,
	}); err != nil {
		s.logger.Warn("verification email not queued", zap.Int64("user_id", u.ID), zap.Error(err))
	}
	return nil
}

func (s *UserService) verifyLink(token string) (string, error) {
	u, err := url.Parse(s.verifyURL)
	if err != nil {
		return "", fmt.Errorf("verify url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	u, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	token, expires, err := s.tokens.Generate(u.ID, u.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &models.LoginResponse{Token: token, ExpiresAt: expires, User: *u}, nil
}

func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "user", id)
	}
	return u, nil
}
