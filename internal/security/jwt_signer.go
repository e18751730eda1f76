package security

// Dev only: mints tokens for the `token` command

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"tlcharts/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type RS256Signer struct {
	Priv *rsa.PrivateKey
	Iss  string
	Aud  string
	now  func() time.Time
}

// Load a PEM-encoded RSA private key PKCS1 or PKCS8
func NewRS256Signer(cfg *config.JWTConfig) (*RS256Signer, error) {
	if cfg == nil || cfg.PrivateKeyPath == "" {
		return nil, errors.New("private key path is empty")
	}

	b, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	priv, err := parseRSAPrivateKeyFromPem(b)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &RS256Signer{
		Priv: priv,
		Iss:  cfg.Issuer,
		Aud:  cfg.Audience,
		now:  time.Now,
	}, nil
}

// Mint a signed token for sub valid for ttl, with a random jti
func (s *RS256Signer) Mint(sub string, ttl time.Duration, scopes ...string) (string, error) {
	if sub == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Iss,
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Scope: scopes,
	}
	if s.Aud != "" {
		claims.Audience = jwt.ClaimStrings{s.Aud}
	}

	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.Priv)
}
