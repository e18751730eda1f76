package mw

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"tlcharts/internal/security"
	"tlcharts/internal/stores/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	testAud = "tlcharts-test"
	testIss = "tlcharts-issuer"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := &redis.Client{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

func generateTestKeys(t *testing.T) (*rsa.PrivateKey, *security.RS256Verifier) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return priv, &security.RS256Verifier{PubKey: &priv.PublicKey, Aud: testAud, Iss: testIss}
}

func createTestToken(t *testing.T, priv *rsa.PrivateKey, sub string, scopes ...string) string {
	t.Helper()

	now := time.Now()
	claims := security.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Audience:  jwt.ClaimStrings{testAud},
			Issuer:    testIss,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Scope: scopes,
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
	require.NoError(t, err)
	return s
}
