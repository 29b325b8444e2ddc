package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/ZanzyTHEbar/babblebear/internal/config"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	app := newApp()
	app.Writer = out
	app.ErrWriter = out
	app.Reader = strings.NewReader(stdin)

	err := app.Run(append([]string{name}, args...))
	return out.String(), err
}

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "dashboard",
		"exp": expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	return signed
}

func tokenStatusOf(t *testing.T) tokenStatus {
	t.Helper()
	out, err := runCLI(t, "", "token", "status")
	require.NoError(t, err)

	var status tokenStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status), out)
	return status
}

func TestTokenCommands(t *testing.T) {
	keyring.MockInit()
	t.Setenv(config.TokenEnvVar, "")

	assert.False(t, tokenStatusOf(t).Configured)

	out, err := runCLI(t, "", "token", "set", "--value", signedToken(t, time.Now().Add(30*24*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "Token stored in keychain.\n", out)

	status := tokenStatusOf(t)
	require.True(t, status.Configured)
	require.NotNil(t, status.Info)
	assert.True(t, status.Info.IsJWT)
	assert.Equal(t, "dashboard", status.Info.Subject)
	assert.False(t, status.Info.Expired)

	out, err = runCLI(t, "", "token", "clear")
	require.NoError(t, err)
	assert.Equal(t, "Token removed from keychain.\n", out)
	assert.False(t, tokenStatusOf(t).Configured)
}

func TestTokenSetFromStdin(t *testing.T) {
	keyring.MockInit()
	t.Setenv(config.TokenEnvVar, "")

	out, err := runCLI(t, signedToken(t, time.Now().Add(-time.Hour))+"\n", "token", "set")
	require.NoError(t, err)
	assert.Contains(t, out, "Token stored in keychain.")
	assert.Contains(t, out, "already expired")

	status := tokenStatusOf(t)
	require.True(t, status.Configured)
	assert.True(t, status.Info.Expired)
}

func TestTokenSetRequiresValue(t *testing.T) {
	keyring.MockInit()

	_, err := runCLI(t, "   \n", "token", "set")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--value")
}

func TestTokenStatusFromEnvironment(t *testing.T) {
	keyring.MockInit()
	t.Setenv(config.TokenEnvVar, "opaque-token")

	status := tokenStatusOf(t)
	require.True(t, status.Configured)
	assert.False(t, status.Info.IsJWT)
}
