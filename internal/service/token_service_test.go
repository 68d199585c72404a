package service

import (
	"testing"
	"time"

	"crypto-escrow-gateway/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-shared-with-auth-provider"

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func baseClaims(subject uuid.UUID, role string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":  subject.String(),
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
		"iss":  "storefront-auth",
	}
}

func TestTokenService_Validate_Success(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, "storefront-auth")
	subject := uuid.New()

	for _, role := range []string{"buyer", "seller", "admin"} {
		tokenStr := mintToken(t, testJWTSecret, baseClaims(subject, role))

		claims, err := svc.Validate(tokenStr)
		require.NoError(t, err, "role %s", role)
		assert.Equal(t, subject, claims.Subject)
		assert.Equal(t, domain.Role(role), claims.Role)
	}
}

func TestTokenService_Validate_WrongSecret(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, "storefront-auth")
	tokenStr := mintToken(t, "some-other-secret", baseClaims(uuid.New(), "buyer"))

	_, err := svc.Validate(tokenStr)
	assert.Error(t, err)
}

func TestTokenService_Validate_Expired(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, "storefront-auth")
	claims := baseClaims(uuid.New(), "buyer")
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	tokenStr := mintToken(t, testJWTSecret, claims)

	_, err := svc.Validate(tokenStr)
	assert.Error(t, err)
}

func TestTokenService_Validate_WrongIssuer(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, "storefront-auth")
	claims := baseClaims(uuid.New(), "buyer")
	claims["iss"] = "someone-else"
	tokenStr := mintToken(t, testJWTSecret, claims)

	_, err := svc.Validate(tokenStr)
	assert.Error(t, err)
}

func TestTokenService_Validate_UnknownRole(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, "storefront-auth")
	tokenStr := mintToken(t, testJWTSecret, baseClaims(uuid.New(), "superuser"))

	_, err := svc.Validate(tokenStr)
	assert.Error(t, err)
}

func TestTokenService_Validate_MissingSubject(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, "storefront-auth")
	claims := baseClaims(uuid.New(), "buyer")
	delete(claims, "sub")
	tokenStr := mintToken(t, testJWTSecret, claims)

	_, err := svc.Validate(tokenStr)
	assert.Error(t, err)
}

func TestTokenService_Validate_Garbage(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, "storefront-auth")

	_, err := svc.Validate("not.a.jwt")
	assert.Error(t, err)
}
