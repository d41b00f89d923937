package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/auth"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// IdentityService is the local identity provider: it owns user credentials
// and issues the bearer tokens that carry authorization claims.
type IdentityService struct {
	users  domain.UserRepository
	claims domain.ClaimsStore
	tokens *auth.TokenManager
	logger *slog.Logger
}

// NewIdentityService creates a new identity service. claims must read the
// authoritative store, since ForceRefresh relies on it bypassing caches.
func NewIdentityService(
	users domain.UserRepository,
	claims domain.ClaimsStore,
	tokens *auth.TokenManager,
	logger *slog.Logger,
) *IdentityService {
	if logger == nil {
		logger = slog.Default()
	}

	return &IdentityService{
		users:  users,
		claims: claims,
		tokens: tokens,
		logger: logger,
	}
}

// TokenResult is returned by every call that issues a token.
type TokenResult struct {
	IdentityID string         `json:"identityId"`
	Email      string         `json:"email"`
	Token      string         `json:"token"`
	TokenType  string         `json:"tokenType"`
	ExpiresAt  time.Time      `json:"expiresAt"`
	Claims     *domain.Claims `json:"claims,omitempty"`
}

// Register creates a new identity. Its first token carries no claims;
// the caller provisions before touching tenant data.
func (s *IdentityService) Register(ctx context.Context, email, displayName, password string) (*TokenResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", domain.ErrInvalidClaims)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidClaims, minPasswordLength)
	}

	if existing, err := s.users.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: email already registered", domain.ErrConflict)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("failed to hash password", slog.String("error", err.Error()))
		return nil, errors.New("failed to register user")
	}

	user := &domain.User{
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		s.logger.Error("failed to create user", slog.String("error", err.Error()))
		return nil, errors.New("failed to register user")
	}

	s.logger.Info("identity registered", slog.String("identity_id", user.ID))
	return s.issue(user, nil)
}

// Login checks the password and issues a token with the identity's current claims.
func (s *IdentityService) Login(ctx context.Context, email, password string) (*TokenResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", domain.ErrUnauthorized)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		s.logger.Info("login attempt with unknown email")
		return nil, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: identity disabled", domain.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("login failed with wrong password", slog.String("identity_id", user.ID))
		return nil, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}

	claims, err := s.lookupClaims(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("identity logged in",
		slog.String("identity_id", user.ID),
		slog.Bool("provisioned", claims != nil),
	)
	return s.issue(user, claims)
}

// Verify validates a presented token.
func (s *IdentityService) Verify(raw string) (*domain.VerifiedToken, error) {
	return s.tokens.Verify(raw)
}

// ForceRefresh re-issues a token for the holder of raw. Claims come from the
// claims store, never from the presented token, so a refresh after
// provisioning picks up the new tenant and role.
func (s *IdentityService) ForceRefresh(ctx context.Context, raw string) (*TokenResult, error) {
	vt, err := s.tokens.Verify(raw)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, vt.IdentityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: identity no longer exists", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: identity disabled", domain.ErrUnauthorized)
	}

	claims, err := s.lookupClaims(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return s.issue(user, claims)
}

// ChangePassword changes an identity's password
func (s *IdentityService) ChangePassword(ctx context.Context, identityID, oldPassword, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: new password must be at least %d characters", domain.ErrInvalidClaims, minPasswordLength)
	}

	user, err := s.users.GetByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("%w: user not found", domain.ErrNotFound)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return fmt.Errorf("%w: current password is incorrect", domain.ErrUnauthorized)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("failed to hash new password", slog.String("error", err.Error()))
		return errors.New("failed to change password")
	}

	user.PasswordHash = string(hash)
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Error("failed to update user password", slog.String("error", err.Error()))
		return errors.New("failed to change password")
	}

	s.logger.Info("identity changed password", slog.String("identity_id", identityID))
	return nil
}

// lookupClaims returns nil claims for an unprovisioned identity.
func (s *IdentityService) lookupClaims(ctx context.Context, identityID string) (*domain.Claims, error) {
	c, err := s.claims.Get(ctx, identityID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("failed to read claims",
			slog.String("identity_id", identityID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("read claims: %w", err)
	}
	return &c, nil
}

func (s *IdentityService) issue(user *domain.User, claims *domain.Claims) (*TokenResult, error) {
	token, exp, err := s.tokens.Issue(user.ID, user.Email, claims)
	if err != nil {
		s.logger.Error("failed to sign token", slog.String("error", err.Error()))
		return nil, errors.New("failed to generate token")
	}
	return &TokenResult{
		IdentityID: user.ID,
		Email:      user.Email,
		Token:      token,
		TokenType:  "Bearer",
		ExpiresAt:  exp,
		Claims:     claims,
	}, nil
}
