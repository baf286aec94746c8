package server

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/courseware-agent/internal/config"
)

func newTestJWTService(secret, issuer string) *JWTService {
	return NewJWTService(&config.JWTConfig{Secret: secret, ExpirationHours: 1, Issuer: issuer})
}

func TestJWTService_RoundTrip(t *testing.T) {
	svc := newTestJWTService(testSecret, config.DefaultJWTIssuer)

	token, expiresAt, err := svc.GenerateToken("admin")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, config.DefaultJWTIssuer, claims.Issuer)

	subject, err := svc.AsTokenValidator().ValidateToken(token)
	require.NoError(t, err)
	got, err := subject.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, "admin", got)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := newTestJWTService(testSecret, config.DefaultJWTIssuer)

	signed := func(claims jwt.Claims, method jwt.SigningMethod, key any) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	registered := func(issuer string) jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   "admin",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
	}

	expired := newTestJWTService(testSecret, config.DefaultJWTIssuer)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, _, err := expired.GenerateToken("admin")
	require.NoError(t, err)

	otherSecret, _, err := newTestJWTService("a-completely-different-secret", config.DefaultJWTIssuer).GenerateToken("admin")
	require.NoError(t, err)
	otherIssuer, _, err := newTestJWTService(testSecret, "someone-else").GenerateToken("admin")
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr string
	}{
		{"empty", "", "empty"},
		{"malformed", "not-a-jwt", "malformed"},
		{"expired", expiredToken, "expired"},
		{"wrong secret", otherSecret, "signature"},
		{"wrong issuer", otherIssuer, "issuer"},
		{"missing role", signed(&Claims{RegisteredClaims: registered(config.DefaultJWTIssuer)}, jwt.SigningMethodHS256, []byte(testSecret)), "role"},
		{"wrong algorithm", signed(&Claims{Role: RoleOperator, RegisteredClaims: registered(config.DefaultJWTIssuer)}, jwt.SigningMethodHS384, []byte(testSecret)), "signing method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
