package devapi

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenIssuerValidation(t *testing.T) {
	if _, err := NewTokenIssuer("", time.Minute); err == nil {
		t.Error("NewTokenIssuer with empty secret should fail")
	}
	if _, err := NewTokenIssuer("secret", 0); err == nil {
		t.Error("NewTokenIssuer with zero ttl should fail")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Minute)
	require.NoError(t, err)

	token, err := issuer.Issue(User{ID: 42, Username: "ada", Role: "admin"})
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "ada", claims.Subject)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}

func TestTokenExpiry(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Minute)
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return start }

	token, err := issuer.Issue(User{ID: 1, Username: "ada", Role: "user"})
	require.NoError(t, err)

	issuer.now = func() time.Time { return start.Add(2 * time.Minute) }
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseRejectsOtherAlgorithms(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Minute)
	require.NoError(t, err)

	claims := Claims{UserID: "1", Role: "admin", RegisteredClaims: jwt.RegisteredClaims{Subject: "ada"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = issuer.Parse(token)
	assert.Error(t, err)
}
