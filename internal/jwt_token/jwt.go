// Package jwttoken issues and validates the signed onboarding token handed
// to a promoter when their registration completes. The activation flow on
// the tenant side exchanges it for the first admin login.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "examtrack/pkg/domain"
	dErrors "examtrack/pkg/domain-errors"
)

// OnboardingClaims bind the token to the provisioned tenant and the
// registration session that produced it.
type OnboardingClaims struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// Service handles onboarding token creation and validation.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
}

func NewService(signingKey, issuer, audience string, ttl time.Duration) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
	}
}

// GenerateOnboardingToken mints an HS256 token for the tenant's first admin
// sign-in. The caller supplies now so issuance follows request time.
func (s *Service) GenerateOnboardingToken(tenantID id.TenantID, sessionID id.SessionID, email string, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, OnboardingClaims{
		TenantID:  tenantID.String(),
		SessionID: sessionID.String(),
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign onboarding token")
	}
	return signed, nil
}

// ValidateToken parses and verifies an onboarding token.
func (s *Service) ValidateToken(tokenString string) (*OnboardingClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &OnboardingClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "onboarding token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid onboarding token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid onboarding token")
	}

	claims, ok := parsed.Claims.(*OnboardingClaims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid onboarding token claims")
	}
	return claims, nil
}

// ExtractTenantID validates the token and returns the tenant it names.
func (s *Service) ExtractTenantID(tokenString string) (id.TenantID, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return id.TenantID{}, err
	}
	tenantID, err := id.ParseTenantID(claims.TenantID)
	if err != nil {
		return id.TenantID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid onboarding token claims")
	}
	return tenantID, nil
}
