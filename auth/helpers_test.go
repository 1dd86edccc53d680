package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	testKey = []byte("test-signing-key")
	testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func signToken(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    "user-42",
		"tenant": "acme",
		"roles":  []any{"admin", "billing"},
		"iss":    "https://issuer.test",
		"aud":    "orders",
		"iat":    testNow.Add(-time.Minute).Unix(),
		"exp":    testNow.Add(time.Hour).Unix(),
	}
}

func newTestAuthenticator() *JWTAuthenticator {
	return NewJWTAuthenticator(JWTConfig{
		Issuer:      "https://issuer.test",
		Audience:    "orders",
		TenantClaim: "tenant",
		RolesClaim:  "roles",
		Now:         func() time.Time { return testNow },
	}, NewStaticKeyProvider(testKey))
}
