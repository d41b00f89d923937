package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

const clockSkew = 30 * time.Second

// tokenClaims is the wire form. tenantId and role are either both present or both absent.
type tokenClaims struct {
	Email    string `json:"email,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	if secret == "" {
		secret = "change-me-in-production"
	}
	if issuer == "" {
		issuer = "fleetdesk"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for identityID. A nil claims value issues an
// unprovisioned token.
func (tm *TokenManager) Issue(identityID, email string, claims *domain.Claims) (string, time.Time, error) {
	if identityID == "" {
		return "", time.Time{}, fmt.Errorf("identity id required")
	}
	now := tm.now()
	exp := now.Add(tm.ttl)
	tc := tokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identityID,
			Issuer:    tm.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if claims != nil {
		if err := claims.Validate(); err != nil {
			return "", time.Time{}, err
		}
		tc.TenantID = claims.TenantID
		tc.Role = string(claims.Role)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify validates signature, issuer and expiry and returns the identity with
// its typed claims. Partial or unknown claims make the whole token invalid.
func (tm *TokenManager) Verify(raw string) (*domain.VerifiedToken, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", domain.ErrInvalidToken)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	tc := &tokenClaims{}
	_, err := parser.ParseWithClaims(raw, tc, func(*jwt.Token) (interface{}, error) {
		return tm.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", domain.ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if tc.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}

	vt := &domain.VerifiedToken{IdentityID: tc.Subject, Email: tc.Email}
	if tc.IssuedAt != nil {
		vt.IssuedAt = tc.IssuedAt.Time
	}
	if tc.ExpiresAt != nil {
		vt.ExpiresAt = tc.ExpiresAt.Time
	}

	switch {
	case tc.TenantID == "" && tc.Role == "":
		// valid but not provisioned yet
	case tc.TenantID == "" || tc.Role == "":
		return nil, fmt.Errorf("%w: partial claims", domain.ErrInvalidToken)
	default:
		c := domain.Claims{TenantID: tc.TenantID, Role: domain.Role(tc.Role)}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
		}
		vt.Claims = &c
	}
	return vt, nil
}

// ExtractToken returns the credential of a "Bearer <token>" header.
func ExtractToken(authHeader string) (string, error) {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: invalid authorization header", domain.ErrUnauthorized)
	}
	return parts[1], nil
}
