package auth

import (
	"context"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef-test"

func TestVerifier_RoundTrip(t *testing.T) {
	v, err := NewVerifier(testSecret, "superlink-portal", time.Hour)
	require.NoError(t, err)

	token, err := v.Issue("user-1", RoleOperator, "tenant-9")
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, "tenant-9", claims.TenantID)
}

func TestVerifier_Rejects(t *testing.T) {
	v, err := NewVerifier(testSecret, "superlink-portal", time.Hour)
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewVerifier("another-secret-value", "superlink-portal", time.Hour)
		require.NoError(t, err)
		token, err := other.Issue("user-1", RoleAdmin, "")
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := NewVerifier(testSecret, "someone-else", time.Hour)
		require.NoError(t, err)
		token, err := other.Issue("user-1", RoleAdmin, "")
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("expired", func(t *testing.T) {
		claims := Claims{
			UserID: "user-1",
			Role:   RoleViewer,
			RegisteredClaims: jwtv5.RegisteredClaims{
				Issuer:    "superlink-portal",
				ExpiresAt: jwtv5.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		}
		token, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Verify("not-a-token")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}

func TestNewVerifier_ShortSecret(t *testing.T) {
	_, err := NewVerifier("short", "", time.Hour)
	assert.Error(t, err)
}

func TestAuthorizer_RoleHierarchy(t *testing.T) {
	a, err := NewAuthorizer()
	require.NoError(t, err)

	tests := []struct {
		role   string
		action string
		want   bool
	}{
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionWrite, false},
		{RoleOperator, ActionRead, true},
		{RoleOperator, ActionWrite, true},
		{RoleOperator, ActionDelete, false},
		{RoleAdmin, ActionWrite, true},
		{RoleAdmin, ActionDelete, true},
		{RoleAdmin, ActionManage, true},
		{"guest", ActionRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.action, func(t *testing.T) {
			ok, err := a.Allowed(tt.role, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestAuthorize_Forbidden(t *testing.T) {
	a, err := NewAuthorizer()
	require.NoError(t, err)

	err = a.Authorize(Principal{UserID: "u", Role: RoleViewer}, ActionDelete)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NoError(t, a.Authorize(Principal{UserID: "u", Role: RoleAdmin}, ActionDelete))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{UserID: "u", Role: RoleViewer})
	p, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "u", p.UserID)
}
