package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentx/chatbot-backend/internal/apperr"
	"github.com/agentx/chatbot-backend/internal/audit"
	"github.com/agentx/chatbot-backend/internal/models"
	"github.com/agentx/chatbot-backend/internal/repository"
)

var (
	// ErrInvalidCredentials is returned when login credentials are invalid
	ErrInvalidCredentials = errors.New("Incorrect email or password")
	// ErrEmailAlreadyExists is returned when email is already registered
	ErrEmailAlreadyExists = errors.New("Email already registered")
	// ErrInvalidEmail is returned for a malformed email address
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrUsernameRequired is returned for an empty username
	ErrUsernameRequired = errors.New("username is required")
	// ErrUserNotFound is returned when a token names a user that no longer exists
	ErrUserNotFound = errors.New("user not found")
)

// TokenPair is returned by login and refresh
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Service handles authentication operations
type Service struct {
	users repository.UserRepository
	jwt   *JWTService
	audit *audit.Logger
}

// NewService creates a new auth service
func NewService(users repository.UserRepository, jwt *JWTService, auditLogger *audit.Logger) *Service {
	return &Service{
		users: users,
		jwt:   jwt,
		audit: auditLogger,
	}
}

// Register creates a new user
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	const op = "auth.register"

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperr.E(apperr.ErrInvalid, op, ErrUsernameRequired)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return nil, apperr.E(apperr.ErrInvalid, op, ErrInvalidEmail)
	}
	if err := ValidatePassword(password); err != nil {
		return nil, apperr.E(apperr.ErrInvalid, op, err)
	}

	// Check if email exists
	if _, err := s.users.GetByEmail(ctx, addr.Address); err == nil {
		return nil, apperr.E(apperr.ErrInvalid, op, ErrEmailAlreadyExists)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        addr.Address,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.E(apperr.ErrInvalid, op, ErrEmailAlreadyExists)
		}
		return nil, err
	}

	s.audit.Success(ctx, audit.EventSignup, user.ID, "")
	return user, nil
}

// Login authenticates a user by email and password and issues a token pair
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	const op = "auth.login"

	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.audit.Failure(ctx, audit.EventLoginFailed, "unknown email", nil)
			return nil, apperr.E(apperr.ErrAuthentication, op, ErrInvalidCredentials)
		}
		return nil, err
	}

	if !CheckPassword(password, user.PasswordHash) {
		s.audit.Failure(ctx, audit.EventLoginFailed, "wrong password", map[string]interface{}{"user_id": user.ID.String()})
		return nil, apperr.E(apperr.ErrAuthentication, op, ErrInvalidCredentials)
	}

	pair, err := s.issue(user.ID)
	if err != nil {
		return nil, err
	}

	s.audit.Success(ctx, audit.EventLogin, user.ID, "")
	return pair, nil
}

// Refresh exchanges a refresh token for a new token pair
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	const op = "auth.refresh"

	claims, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, apperr.E(apperr.ErrAuthentication, op, err)
	}
	user, err := s.userFromClaims(ctx, op, claims)
	if err != nil {
		return nil, err
	}

	pair, err := s.issue(user.ID)
	if err != nil {
		return nil, err
	}

	s.audit.Success(ctx, audit.EventTokenRefresh, user.ID, "")
	return pair, nil
}

// ValidateAccessToken resolves a bearer token to its user. Missing, malformed,
// expired or orphaned tokens are authentication failures.
func (s *Service) ValidateAccessToken(ctx context.Context, token string) (*models.User, error) {
	const op = "auth.validate"

	if token == "" {
		return nil, apperr.E(apperr.ErrAuthentication, op, ErrInvalidToken)
	}
	claims, err := s.jwt.ValidateAccessToken(token)
	if err != nil {
		return nil, apperr.E(apperr.ErrAuthentication, op, err)
	}
	return s.userFromClaims(ctx, op, claims)
}

func (s *Service) userFromClaims(ctx context.Context, op string, claims *JWTClaims) (*models.User, error) {
	userID, err := claims.UserID()
	if err != nil {
		return nil, apperr.E(apperr.ErrAuthentication, op, err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.E(apperr.ErrAuthentication, op, ErrUserNotFound)
		}
		return nil, err
	}
	return user, nil
}

func (s *Service) issue(userID uuid.UUID) (*TokenPair, error) {
	access, refresh, err := s.jwt.GenerateTokenPair(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign tokens: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}
