package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/freshmart/pkg/apperrors"
	"github.com/example/freshmart/pkg/config"
	"github.com/example/freshmart/pkg/models"
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(config.AuthConfig{
		JWTSecret:   "test-secret",
		Issuer:      "freshmart-auth",
		AdminEmails: []string{"Boss@FreshMart.test"},
	})
	require.NoError(t, err)
	return v
}

func TestVerifyRoundTrip(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Issue(models.Identity{ID: "user-1", Email: "jane@example.com"}, time.Hour)
	require.NoError(t, err)

	id, err := v.VerifyHeader("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.ID)
	assert.Equal(t, "jane@example.com", id.Email)
	assert.False(t, id.IsAdmin())
}

func TestVerifyAdminSources(t *testing.T) {
	v := newTestVerifier(t)

	byEmail, err := v.Issue(models.Identity{ID: "u-boss", Email: "boss@freshmart.test"}, time.Hour)
	require.NoError(t, err)
	id, err := v.Verify(byEmail)
	require.NoError(t, err)
	assert.True(t, id.IsAdmin())

	byRole, err := v.Issue(models.Identity{ID: "u-ops", Email: "ops@example.com", Role: models.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	id, err = v.Verify(byRole)
	require.NoError(t, err)
	assert.True(t, id.IsAdmin())
}

func TestVerifyRejects(t *testing.T) {
	v := newTestVerifier(t)

	expired, err := v.Issue(models.Identity{ID: "user-1"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	var ae *apperrors.AuthenticationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "token expired", ae.Reason)

	other, err := NewVerifier(config.AuthConfig{JWTSecret: "other", Issuer: "freshmart-auth"})
	require.NoError(t, err)
	forged, err := other.Issue(models.Identity{ID: "user-1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(forged)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = v.Verify(wrongIssuer)
	assert.Error(t, err)

	noSubject, err := v.Issue(models.Identity{Email: "x@example.com"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(noSubject)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "token has no subject", ae.Reason)

	_, err = v.VerifyHeader("Basic dXNlcjpwYXNz")
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))

	_, err = NewVerifier(config.AuthConfig{})
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", token)

	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
	_, ok = BearerToken("")
	assert.False(t, ok)
}

func TestIdentityContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	id := &models.Identity{ID: "user-1"}
	ctx := WithIdentity(context.Background(), id)
	assert.Same(t, id, FromContext(ctx))
}
