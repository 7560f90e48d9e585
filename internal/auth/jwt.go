// Package auth provides bearer-token and API-key authentication for the
// Kiwi API, with a small role model for read and write access.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"evalgo.org/kiwi/internal/config"
)

var (
	// ErrInvalidToken is returned when a JWT token is invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a JWT token has expired
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidAPIKey is returned when no configured hash matches an API key
	ErrInvalidAPIKey = errors.New("invalid api key")
)

// Role grants a level of access to the API.
type Role string

const (
	// RoleAdmin may do everything, including credential store maintenance
	RoleAdmin Role = "admin"
	// RoleOperator may start and cancel operations
	RoleOperator Role = "operator"
	// RoleViewer may only read status and jobs
	RoleViewer Role = "viewer"
)

// ParseRole converts a flag value into a role.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q (want admin, operator or viewer)", s)
}

// Claims represents JWT custom claims
type Claims struct {
	Subject string `json:"sub_name"`
	Roles   []Role `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry any of roles.
func (c *Claims) HasRole(roles ...Role) bool {
	for _, want := range roles {
		for _, have := range c.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// JWTService issues and validates API tokens
type JWTService struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg *config.Config) *JWTService {
	return &JWTService{
		secret:     []byte(cfg.Security.JWTSecret),
		expiration: cfg.Security.JWTExpiration,
	}
}

// GenerateToken signs a token for subject. A zero ttl uses the configured expiration.
func (s *JWTService) GenerateToken(subject string, roles []Role, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("token subject is required")
	}
	if len(roles) == 0 {
		return "", fmt.Errorf("at least one role is required")
	}
	if ttl <= 0 {
		ttl = s.expiration
	}

	now := time.Now()
	claims := Claims{
		Subject: subject,
		Roles:   roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "kiwi",
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateAPIKey generates a random API key
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return "kw_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashAPIKey hashes an API key for the configuration file
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// MatchAPIKey checks key against every configured hash.
func MatchAPIKey(key string, hashes []string) error {
	if key == "" {
		return ErrInvalidAPIKey
	}
	for _, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(key)) == nil {
			return nil
		}
	}
	return ErrInvalidAPIKey
}
