// Package auth signs and verifies the bearer tokens that gate every protected
// route, plus the short-lived one-time tokens used to log in right after sign-up.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	audienceAccess    = "access"
	audienceAutoLogin = "auto-login"
	issuerName        = "messaging-app-backend"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carries only the caller identity and validity window. Current user
// state is always re-read from storage.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

type AutoLoginClaims struct {
	UserID string
	JTI    string
}

type Issuer struct {
	secret       []byte
	ttl          time.Duration
	autoLoginTTL time.Duration
	now          func() time.Time
}

func NewIssuer(secret string, ttl, autoLoginTTL time.Duration) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if ttl <= 0 || autoLoginTTL <= 0 {
		return nil, fmt.Errorf("token lifetimes must be positive")
	}
	return &Issuer{
		secret:       []byte(secret),
		ttl:          ttl,
		autoLoginTTL: autoLoginTTL,
		now:          time.Now,
	}, nil
}

func (i *Issuer) Issue(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("missing userID")
	}
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{audienceAccess},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (i *Issuer) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrMissingToken
	}

	var claims Claims
	if err := i.parse(token, audienceAccess, &claims); err != nil {
		return Claims{}, err
	}
	if claims.UserID == "" || claims.UserID != claims.Subject {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// ValidateToken adapts Verify to the websocket manager's validator.
func (i *Issuer) ValidateToken(_ context.Context, token string) (string, error) {
	claims, err := i.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func (i *Issuer) IssueAutoLogin(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("missing userID")
	}
	now := i.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuerName,
		Subject:   userID,
		Audience:  jwt.ClaimStrings{audienceAutoLogin},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.autoLoginTTL)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// VerifyAutoLogin checks signature, audience and expiry. Single use is
// enforced by the caller recording the returned JTI.
func (i *Issuer) VerifyAutoLogin(token string) (AutoLoginClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return AutoLoginClaims{}, ErrMissingToken
	}

	var claims jwt.RegisteredClaims
	if err := i.parse(token, audienceAutoLogin, &claims); err != nil {
		return AutoLoginClaims{}, err
	}
	if claims.Subject == "" || claims.ID == "" {
		return AutoLoginClaims{}, ErrInvalidToken
	}
	return AutoLoginClaims{UserID: claims.Subject, JTI: claims.ID}, nil
}

func (i *Issuer) parse(token, audience string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
