package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RolePatient is the only role allowed on patient endpoints.
const RolePatient = "patient"

var (
	// ErrInvalidToken is returned when a bearer token fails verification.
	ErrInvalidToken = errors.New("identity: invalid token")

	// ErrNotPatient is returned when the token belongs to a non-patient user.
	ErrNotPatient = errors.New("identity: user is not a patient")
)

// Identity is the authenticated user a booking page acts for.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Valid reports whether the identity can scope an appointment list.
func (i Identity) Valid() bool {
	return strings.TrimSpace(i.ID) != ""
}

// Claims is the JWT payload issued by the user service. Older tokens carry
// the user id in "id" rather than "sub".
type Claims struct {
	UserID string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ParseToken verifies an HS256 token and returns the patient identity it carries.
func ParseToken(tokenString, secret string) (Identity, error) {
	if secret == "" {
		return Identity{}, fmt.Errorf("%w: verification secret not configured", ErrInvalidToken)
	}
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id := Identity{
		ID:    claims.UserID,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  strings.ToLower(strings.TrimSpace(claims.Role)),
	}
	if id.ID == "" {
		id.ID = claims.Subject
	}
	if !id.Valid() {
		return Identity{}, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	if id.Role != "" && id.Role != RolePatient {
		return Identity{}, ErrNotPatient
	}
	return id, nil
}

// IssueToken signs an HS256 token for id. Used by tests and local tooling.
func IssueToken(id Identity, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: id.ID,
		Name:   id.Name,
		Email:  id.Email,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type ctxKey string

const (
	identityKey ctxKey = "portal.identity"
	tokenKey    ctxKey = "portal.bearer_token"
)

// WithIdentity stores the identity in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity if present.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.Valid()
}

// WithToken stores the raw bearer token so outbound calls can forward it.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the forwarded bearer token, if any.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey).(string)
	return token, ok && token != ""
}
