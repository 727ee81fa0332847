// Package auth issues and verifies the bearer tokens used by the gateway.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Claims carries the authenticated identity inside the JWT.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies HS256 tokens.
type Manager struct {
	secret   []byte
	issuer   string
	tokenTTL time.Duration

	adminUser   string
	adminDigest [32]byte
}

// Options configure the auth manager.
type Options struct {
	Secret      string
	Issuer      string
	TokenTTL    time.Duration
	AdminUser   string
	AdminSecret string
}

// New creates a Manager. An empty secret disables issuance and verification.
func New(opts Options) (*Manager, error) {
	if opts.Secret == "" {
		return nil, errors.New("auth: JWT secret is required")
	}
	if opts.Issuer == "" {
		opts.Issuer = "statstream"
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 12 * time.Hour
	}
	m := &Manager{
		secret:    []byte(opts.Secret),
		issuer:    opts.Issuer,
		tokenTTL:  opts.TokenTTL,
		adminUser: opts.AdminUser,
	}
	if opts.AdminSecret != "" {
		m.adminDigest = sha256.Sum256([]byte(opts.AdminSecret))
	}
	return m, nil
}

// Authenticate verifies the configured credentials and issues a token.
func (m *Manager) Authenticate(username, password string) (string, error) {
	digest := sha256.Sum256([]byte(password))
	if username != m.adminUser || subtle.ConstantTimeCompare(digest[:], m.adminDigest[:]) != 1 {
		return "", ErrInvalidCredentials
	}
	return m.Issue(username, username)
}

// Issue signs a token for the given user.
func (m *Manager) Issue(userID, name string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning its claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
