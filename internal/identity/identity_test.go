package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestParseTokenRoundTrip(t *testing.T) {
	token, err := IssueToken(Identity{ID: "p-1", Name: "Jane Roe", Role: RolePatient}, testSecret, time.Hour)
	require.NoError(t, err)

	id, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "p-1", id.ID)
	assert.Equal(t, "Jane Roe", id.Name)
	assert.Equal(t, RolePatient, id.Role)
}

func TestParseTokenFallsBackToSubject(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "p-2",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	id, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "p-2", id.ID)
}

func TestParseTokenRejects(t *testing.T) {
	good, err := IssueToken(Identity{ID: "p-1"}, testSecret, time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(Identity{ID: "p-1"}, testSecret, -time.Minute)
	require.NoError(t, err)
	doctor, err := IssueToken(Identity{ID: "d-1", Role: "doctor"}, testSecret, time.Hour)
	require.NoError(t, err)
	noID, err := IssueToken(Identity{}, testSecret, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
		want   error
	}{
		{"wrong secret", good, "other", ErrInvalidToken},
		{"no secret configured", good, "", ErrInvalidToken},
		{"expired", expired, testSecret, ErrInvalidToken},
		{"garbage", "not-a-jwt", testSecret, ErrInvalidToken},
		{"doctor role", doctor, testSecret, ErrNotPatient},
		{"missing id", noID, testSecret, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := FromContext(ctx); ok {
		t.Fatal("expected no identity in empty context")
	}
	if _, ok := FromContext(WithIdentity(ctx, Identity{})); ok {
		t.Fatal("expected empty identity to be rejected")
	}

	ctx = WithIdentity(ctx, Identity{ID: "p-1"})
	ctx = WithToken(ctx, "abc")
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "p-1", id.ID)

	token, ok := TokenFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "abc", token)
}
