// Package auth issues and verifies the bearer tokens accepted by the status API.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrMissingClaims = errors.New("missing required claims")
	ErrNoSecret      = errors.New("no signing secret configured")
)

// Issuer is the iss claim of every operator token.
const Issuer = "refyne-harvest"

// Scopes granted to operator tokens.
const (
	ScopeRead   = "run:read"
	ScopeCancel = "run:cancel"
)

// Claims are the claims of an operator token.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"` // space separated
}

// Scopes returns the granted scopes.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// Verifier signs and verifies HS256 operator tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a verifier for the shared secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Verifier{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for subject with the given scopes, valid for ttl.
func (v *Verifier) Issue(subject string, scopes []string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", ErrMissingClaims
	}
	now := v.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: strings.Join(scopes, " "),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// VerifyToken verifies a token and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithTimeFunc(v.now), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingClaims
	}
	return claims, nil
}
