package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Address)
	assert.Equal(t, 5*time.Second, cfg.StatementTimeout)
	assert.Equal(t, "demo", cfg.DemoSubdomain)
	assert.Equal(t, 5, cfg.TrialDays)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, testSecret, cfg.JWTSecret)
}

func TestLoadRejectsWeakSecret(t *testing.T) {
	for _, secret := range []string{"", "change-me", "short"} {
		t.Run(secret, func(t *testing.T) {
			t.Setenv("JWT_SECRET", secret)
			t.Setenv("DATABASE_URL", "postgres://localhost/tablelink")

			_, err := Load()
			assert.ErrorIs(t, err, ErrWeakSecret)
		})
	}
}

func TestParseLeavesSecretEmpty(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Empty(t, cfg.JWTSecret)
	assert.ErrorIs(t, cfg.Validate(), ErrWeakSecret)

	cfg.JWTSecret, err = EphemeralSecret()
	require.NoError(t, err)
	assert.Len(t, cfg.JWTSecret, 64)
	assert.NoError(t, cfg.Validate())

	other, err := EphemeralSecret()
	require.NoError(t, err)
	assert.NotEqual(t, cfg.JWTSecret, other)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BASE_DOMAIN=example.org\nTRIAL_DAYS=14\n"), 0o600))
	t.Setenv("JWT_SECRET", testSecret)
	t.Cleanup(func() {
		os.Unsetenv("BASE_DOMAIN")
		os.Unsetenv("TRIAL_DAYS")
	})

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "example.org", cfg.BaseDomain)
	assert.Equal(t, 14, cfg.TrialDays)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("STATEMENT_TIMEOUT", "250ms")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.StatementTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestInvalidTimezone(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err := Load()
	assert.Error(t, err)
}
