package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

func TestIssueAndVerifyWithClaims(t *testing.T) {
	tm := NewTokenManager("secret", "fleetdesk", time.Minute)
	raw, exp, err := tm.Issue("u1", "ana@example.com", &domain.Claims{TenantID: "t1", Role: domain.RoleOwner})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry")
	}
	vt, err := tm.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if vt.IdentityID != "u1" || vt.Email != "ana@example.com" {
		t.Fatalf("unexpected identity: %+v", vt)
	}
	if !vt.Provisioned() || vt.Claims.TenantID != "t1" || vt.Claims.Role != domain.RoleOwner {
		t.Fatalf("unexpected claims: %+v", vt.Claims)
	}
}

func TestVerifyWithoutClaims(t *testing.T) {
	tm := NewTokenManager("secret", "fleetdesk", time.Minute)
	raw, _, err := tm.Issue("u1", "", nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	vt, err := tm.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if vt.Claims != nil {
		t.Fatalf("expected absent claims, got %+v", vt.Claims)
	}
}

func TestVerifyRejects(t *testing.T) {
	tm := NewTokenManager("secret", "fleetdesk", time.Minute)
	sign := func(c tokenClaims, key string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(key))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	valid := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "fleetdesk",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}
	}
	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"
	noSubject := valid()
	noSubject.Subject = ""

	cases := map[string]string{
		"garbage":      "not-a-token",
		"wrong key":    sign(tokenClaims{RegisteredClaims: valid()}, "other"),
		"expired":      sign(tokenClaims{RegisteredClaims: expired}, "secret"),
		"wrong issuer": sign(tokenClaims{RegisteredClaims: wrongIssuer}, "secret"),
		"no subject":   sign(tokenClaims{RegisteredClaims: noSubject}, "secret"),
		"tenant only":  sign(tokenClaims{TenantID: "t1", RegisteredClaims: valid()}, "secret"),
		"role only":    sign(tokenClaims{Role: "owner", RegisteredClaims: valid()}, "secret"),
		"unknown role": sign(tokenClaims{TenantID: "t1", Role: "god", RegisteredClaims: valid()}, "secret"),
		"empty":        "",
	}
	for name, raw := range cases {
		if _, err := tm.Verify(raw); !errors.Is(err, domain.ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	tm := NewTokenManager("secret", "fleetdesk", time.Minute)
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, tokenClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "u1", Issuer: "fleetdesk", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	raw, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := tm.Verify(raw); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected none alg to be rejected, got %v", err)
	}
}

func TestIssueRejectsInvalidClaims(t *testing.T) {
	tm := NewTokenManager("secret", "fleetdesk", time.Minute)
	if _, _, err := tm.Issue("u1", "", &domain.Claims{TenantID: "t1"}); err == nil {
		t.Fatalf("expected partial claims to be refused at issuance")
	}
	if _, _, err := tm.Issue("", "", nil); err == nil {
		t.Fatalf("expected missing identity to be refused")
	}
}

func TestExtractToken(t *testing.T) {
	tok, err := ExtractToken("Bearer abc.def")
	if err != nil || tok != "abc.def" {
		t.Fatalf("got %q, %v", tok, err)
	}
	for _, h := range []string{"", "Bearer", "Basic abc", "Bearer a b"} {
		if _, err := ExtractToken(h); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("%q: expected ErrUnauthorized, got %v", h, err)
		}
	}
}
