package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	issuer, err := NewIssuer("test-secret", time.Hour, time.Minute)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	return issuer
}

func TestIssueAndVerify(t *testing.T) {
	issuer := newTestIssuer(t)

	token, expiresAt, err := issuer.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expiresAt = %v, want future", expiresAt)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("UserID = %q, want %q", claims.UserID, "user-1")
	}

	userID, err := issuer.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("ValidateToken() = %q, want %q", userID, "user-1")
	}
}

func TestVerify_MissingAndInvalid(t *testing.T) {
	issuer := newTestIssuer(t)

	if _, err := issuer.Verify("  "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("Verify(empty) error = %v, want %v", err, ErrMissingToken)
	}
	if _, err := issuer.Verify("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify(garbage) error = %v, want %v", err, ErrInvalidToken)
	}

	other, err := NewIssuer("other-secret", time.Hour, time.Minute)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	foreign, _, err := other.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := issuer.Verify(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify(foreign) error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestVerify_Expired(t *testing.T) {
	issuer := newTestIssuer(t)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return start }

	token, _, err := issuer.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	issuer.now = func() time.Time { return start.Add(2 * time.Hour) }
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify(expired) error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	issuer := newTestIssuer(t)

	claims := Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{audienceAccess},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := issuer.Verify(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify(alg none) error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestAutoLoginTokensAreNotAccessTokens(t *testing.T) {
	issuer := newTestIssuer(t)

	autoLogin, err := issuer.IssueAutoLogin("user-1")
	if err != nil {
		t.Fatalf("IssueAutoLogin() error = %v", err)
	}

	claims, err := issuer.VerifyAutoLogin(autoLogin)
	if err != nil {
		t.Fatalf("VerifyAutoLogin() error = %v", err)
	}
	if claims.UserID != "user-1" || claims.JTI == "" {
		t.Fatalf("claims = %+v, want user-1 with a jti", claims)
	}

	if _, err := issuer.Verify(autoLogin); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify(auto-login token) error = %v, want %v", err, ErrInvalidToken)
	}

	access, _, err := issuer.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := issuer.VerifyAutoLogin(access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("VerifyAutoLogin(access token) error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestNewIssuer_Validation(t *testing.T) {
	if _, err := NewIssuer("", time.Hour, time.Minute); err == nil {
		t.Fatalf("NewIssuer(empty secret) error = nil, want error")
	}
	if _, err := NewIssuer("s", 0, time.Minute); err == nil {
		t.Fatalf("NewIssuer(zero ttl) error = nil, want error")
	}
}
