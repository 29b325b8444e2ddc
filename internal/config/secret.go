package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zalando/go-keyring"
)

const (
	keyringService = "babblebear"
	keyringUser    = "api_token"

	// TokenEnvVar is consulted when the OS keychain holds no token.
	TokenEnvVar = "BABBLEBEAR_API_TOKEN"

	// ExpiryWarningWindow is how close to expiry a token starts being reported.
	ExpiryWarningWindow = 72 * time.Hour
)

// ErrNoToken is returned when neither the keychain nor the environment provide a token.
var ErrNoToken = errors.New("no backend API token configured: run `babblebear token set` or set " + TokenEnvVar)

// TokenSource resolves the backend bearer token.
type TokenSource struct {
	Service string
	User    string
	EnvVar  string

	lookupEnv func(string) (string, bool)
}

// NewTokenSource returns a source backed by the OS keychain and the environment.
func NewTokenSource() *TokenSource {
	return &TokenSource{
		Service:   keyringService,
		User:      keyringUser,
		EnvVar:    TokenEnvVar,
		lookupEnv: os.LookupEnv,
	}
}

// Token returns the keychain token, falling back to the environment variable.
func (s *TokenSource) Token() (string, error) {
	token, err := keyring.Get(s.Service, s.User)
	if err == nil && strings.TrimSpace(token) != "" {
		return strings.TrimSpace(token), nil
	}
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		slog.Debug("keychain unavailable, falling back to environment", "error", err)
	}

	if v, ok := s.lookupEnv(s.EnvVar); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	return "", ErrNoToken
}

// StoreToken saves token in the OS keychain.
func (s *TokenSource) StoreToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}
	if err := keyring.Set(s.Service, s.User, token); err != nil {
		return fmt.Errorf("saving token to keychain: %w", err)
	}
	return nil
}

// DeleteToken removes the keychain entry. A missing entry is not an error.
func (s *TokenSource) DeleteToken() error {
	if err := keyring.Delete(s.Service, s.User); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("removing token from keychain: %w", err)
	}
	return nil
}

// TokenInfo describes the unverified claims of a bearer token.
type TokenInfo struct {
	Subject       string     `json:"subject,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Expired       bool       `json:"expired"`
	ExpiringSoon  bool       `json:"expiring_soon"`
	IsJWT         bool       `json:"is_jwt"`
	TimeRemaining string     `json:"time_remaining,omitempty"`
}

// InspectToken reads the exp and sub claims without verifying the signature.
// The backend owns the signing key, so this is only used to warn about expiry.
func InspectToken(token string, now time.Time) TokenInfo {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenInfo{}
	}

	info := TokenInfo{IsJWT: true}
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return info
	}

	expiresAt := exp.Time
	info.ExpiresAt = &expiresAt
	remaining := expiresAt.Sub(now)
	info.Expired = remaining <= 0
	info.ExpiringSoon = !info.Expired && remaining <= ExpiryWarningWindow
	if !info.Expired {
		info.TimeRemaining = remaining.Truncate(time.Minute).String()
	}
	return info
}
