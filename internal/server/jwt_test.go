package server

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/mp-harvester/internal/config"
)

const testSecret = "test-secret-key-for-jwt-signing-minimum-32-bytes"

func setupTestJWTService(_ *testing.T, expirationHours int) *JWTService {
	return NewJWTService(&config.JWTConfig{
		Secret:          testSecret,
		ExpirationHours: expirationHours,
	})
}

func TestJWTService_RoundTrip(t *testing.T) {
	service := setupTestJWTService(t, 24)

	token, err := service.GenerateToken("gui-worker")
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	subject, err := claims.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, "gui-worker", subject)
	assert.NotEmpty(t, claims.ID)
}

func TestJWTService_GenerateToken_EmptySubject(t *testing.T) {
	_, err := setupTestJWTService(t, 24).GenerateToken("")
	assert.Error(t, err)
}

func TestJWTService_ValidateToken_Errors(t *testing.T) {
	service := setupTestJWTService(t, 1)
	valid, err := service.GenerateToken("gui-worker")
	require.NoError(t, err)

	other := NewJWTService(&config.JWTConfig{Secret: "another-secret-of-sufficient-length!!", ExpirationHours: 1})
	forged, err := other.GenerateToken("gui-worker")
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantMsg string
	}{
		{"empty", "", "empty"},
		{"malformed", "not.a.jwt", "malformed"},
		{"wrong secret", forged, "signature"},
		{"alg none", unsigned, "failed to parse"},
		{"tampered", valid[:len(valid)-2] + "xx", "signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.ValidateToken(tt.token)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestJWTService_Expired(t *testing.T) {
	service := setupTestJWTService(t, 1)
	issued := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return issued }

	token, err := service.GenerateToken("gui-worker")
	require.NoError(t, err)

	service.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = service.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestJWTService_AsTokenValidator(t *testing.T) {
	service := setupTestJWTService(t, 24)
	token, err := service.GenerateToken("gui-worker")
	require.NoError(t, err)

	claims, err := service.AsTokenValidator().ValidateToken(token)
	require.NoError(t, err)
	subject, _ := claims.GetSubject()
	assert.Equal(t, "gui-worker", subject)
}

func TestJWTService_ValidateToken_Issuer(t *testing.T) {
	lab := NewJWTService(&config.JWTConfig{Secret: testSecret, ExpirationHours: 1, Issuer: "lab-box"})
	token, err := lab.GenerateToken("gui-worker")
	require.NoError(t, err)

	claims, err := lab.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "lab-box", claims.Issuer)

	prod := NewJWTService(&config.JWTConfig{Secret: testSecret, ExpirationHours: 1, Issuer: config.DefaultJWTIssuer})
	_, err = prod.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another issuer")
}
