package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "examtrack/pkg/domain"
	dErrors "examtrack/pkg/domain-errors"
)

func newTestService(ttl time.Duration) *Service {
	return &Service{
		signingKey: []byte("test-signing-key-32-bytes-long!!"),
		issuer:     "examtrack",
		audience:   "examtrack-onboarding",
		ttl:        ttl,
	}
}

func TestOnboardingTokenRoundTrip(t *testing.T) {
	svc := newTestService(time.Hour)
	tenantID := id.NewTenantID()
	sessionID := id.NewSessionID()

	token, err := svc.GenerateOnboardingToken(tenantID, sessionID, "director@school.edu", time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, tenantID.String(), claims.TenantID)
	assert.Equal(t, sessionID.String(), claims.SessionID)
	assert.Equal(t, "director@school.edu", claims.Email)
	assert.Equal(t, "examtrack", claims.Issuer)

	extracted, err := svc.ExtractTenantID(token)
	require.NoError(t, err)
	assert.Equal(t, tenantID, extracted)
}

func TestValidateTokenRejections(t *testing.T) {
	svc := newTestService(time.Hour)

	t.Run("expired token", func(t *testing.T) {
		token, err := svc.GenerateOnboardingToken(id.NewTenantID(), id.NewSessionID(), "x@y.z",
			time.Now().Add(-2*time.Hour))
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("wrong signing key", func(t *testing.T) {
		token, err := svc.GenerateOnboardingToken(id.NewTenantID(), id.NewSessionID(), "x@y.z", time.Now())
		require.NoError(t, err)

		other := newTestService(time.Hour)
		other.signingKey = []byte("a-different-signing-key-entirely")
		_, err = other.ValidateToken(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := svc.ValidateToken("not.a.token")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
