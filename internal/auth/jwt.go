package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents JWT claims used by the gateway.
type Claims struct {
	Service    string `json:"service"`
	Subservice string `json:"subservice,omitempty"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// ParseJWT validates a JWT and returns claims.
func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("auth: empty token")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Service == "" {
		return nil, errors.New("auth: missing service")
	}
	if _, ok := NormalizeRole(claims.Role); !ok {
		return nil, errors.New("auth: invalid role")
	}
	return claims, nil
}

// TokenSource supplies the X-Auth-Token presented to the context broker.
type TokenSource interface {
	Token(ctx context.Context, service, subservice string) (string, error)
}

// StaticToken always returns the same token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context, string, string) (string, error) {
	return string(s), nil
}

type cachedToken struct {
	value   string
	expires time.Time
}

// Minter signs short-lived HS256 service tokens and caches them per scope.
type Minter struct {
	secret  []byte
	subject string
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedToken
}

// NewMinter constructs a Minter.
func NewMinter(secret []byte, subject string, ttl time.Duration) (*Minter, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if subject == "" {
		subject = "ngsi-gateway"
	}
	return &Minter{
		secret:  secret,
		subject: subject,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[string]cachedToken),
	}, nil
}

// Token implements TokenSource. Tokens are reused until a tenth of their ttl remains.
func (m *Minter) Token(_ context.Context, service, subservice string) (string, error) {
	key := service + "|" + subservice
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.cache[key]; ok && now.Add(m.ttl/10).Before(cached.expires) {
		return cached.value, nil
	}
	expires := now.Add(m.ttl)
	claims := Claims{
		Service:    service,
		Subservice: subservice,
		Role:       string(RoleAdmin),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   m.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", err
	}
	m.cache[key] = cachedToken{value: signed, expires: expires}
	return signed, nil
}
