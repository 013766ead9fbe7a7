package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marshallshelly/tablelink/pkg/config"
)

func resetFlags(t *testing.T, memory bool) {
	t.Helper()
	prevEnv, prevDB, prevMemory := envFile, dbURL, inMemory
	envFile, dbURL, inMemory = "", "postgres://localhost/tablelink", memory
	t.Cleanup(func() { envFile, dbURL, inMemory = prevEnv, prevDB, prevMemory })
}

func TestServeRequiresSecretForDatabase(t *testing.T) {
	resetFlags(t, false)
	t.Setenv("JWT_SECRET", "")

	_, err := loadConfig(true)
	assert.ErrorIs(t, err, config.ErrWeakSecret)
}

func TestServeRejectsPlaceholderSecret(t *testing.T) {
	resetFlags(t, true)
	t.Setenv("JWT_SECRET", "change-me")

	_, err := loadConfig(true)
	assert.ErrorIs(t, err, config.ErrWeakSecret)
}

func TestMemoryModeGeneratesSecret(t *testing.T) {
	resetFlags(t, true)
	t.Setenv("JWT_SECRET", "")

	first, err := loadConfig(true)
	require.NoError(t, err)
	second, err := loadConfig(true)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(first.JWTSecret), config.MinSecretLength)
	assert.NotEqual(t, first.JWTSecret, second.JWTSecret)
}

func TestAdminCommandsDoNotNeedSecret(t *testing.T) {
	resetFlags(t, false)
	t.Setenv("JWT_SECRET", "")

	cfg, err := loadConfig(false)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.JWTSecret)
}

func TestConfiguredSecretIsKept(t *testing.T) {
	resetFlags(t, false)
	t.Setenv("JWT_SECRET", "a-long-private-signing-secret")

	cfg, err := loadConfig(true)
	require.NoError(t, err)
	assert.Equal(t, "a-long-private-signing-secret", cfg.JWTSecret)
}
