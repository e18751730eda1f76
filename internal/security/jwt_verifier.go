package security

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"tlcharts/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes understood by the API
const (
	ScopeCharts = "charts"
	ScopeData   = "data"
)

// Claims are the registered claims plus the scopes a caller was granted
type Claims struct {
	jwt.RegisteredClaims
	Scope []string `json:"scope,omitempty"`
}

// HasScope is true when the token grants s. A token without scopes grants everything.
func (c *Claims) HasScope(s string) bool {
	return len(c.Scope) == 0 || slices.Contains(c.Scope, s)
}

// Check JWT RS256 with audience/issuer and allow for clock skew - Leeway
type RS256Verifier struct {
	PubKey *rsa.PublicKey
	Aud    string
	Iss    string
	Leeway time.Duration
}

// Load pub_key and parsing, audience/issuer can leave empty - not check
func NewRS256Verifier(cfg *config.JWTConfig) (*RS256Verifier, error) {
	if cfg == nil {
		return nil, errors.New("jwt config is required")
	}

	b, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}

	pub, err := parseRSAPublicKeyFromPem(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	return &RS256Verifier{
		PubKey: pub,
		Aud:    cfg.Audience,
		Iss:    cfg.Issuer,
		Leeway: cfg.Leeway,
	}, nil
}

// Apply header Authorization and validate the token
func (v *RS256Verifier) VerifyBearer(authHeader string) (*Claims, error) {
	tokenStr, err := extractBearer(authHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to extract bearer token: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), // only RS256
		jwt.WithLeeway(v.Leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if v.Aud != "" {
		opts = append(opts, jwt.WithAudience(v.Aud))
	}
	if v.Iss != "" {
		opts = append(opts, jwt.WithIssuer(v.Iss))
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return v.PubKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	return claims, nil
}
