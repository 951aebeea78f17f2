package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 5 * time.Minute
	refreshMargin   = 30 * time.Second
)

// ErrNoSigningKey is returned when a token source has no key to sign with.
var ErrNoSigningKey = errors.New("no signing key configured")

// ServiceTokenSource mints short-lived HS256 tokens identifying the console
// to the backend. A token is reused until it is close to expiry.
type ServiceTokenSource struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewServiceTokenSource creates a token source. ttl <= 0 selects the default.
func NewServiceTokenSource(signingKey, issuer, audience string, ttl time.Duration) (*ServiceTokenSource, error) {
	if signingKey == "" {
		return nil, ErrNoSigningKey
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &ServiceTokenSource{
		key:      []byte(signingKey),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Token returns a valid signed token.
func (s *ServiceTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(refreshMargin).Before(s.expires) {
		return s.token, nil
	}

	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   "autonom-console",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}
	s.token = signed
	s.expires = expires
	return signed, nil
}
