// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/marshallshelly/tablelink/pkg/logger"
)

// Config holds every setting the server and CLI need.
type Config struct {
	Address          string        `env:"ADDRESS" envDefault:":8000"`
	DatabaseURL      string        `env:"DATABASE_URL"`
	DBMaxConns       int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns       int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	StatementTimeout time.Duration `env:"STATEMENT_TIMEOUT" envDefault:"5s"`
	JWTSecret        string        `env:"JWT_SECRET"`
	TokenTTL         time.Duration `env:"TOKEN_TTL" envDefault:"8h"`
	BaseDomain       string        `env:"BASE_DOMAIN" envDefault:"tablelink.com"`
	DemoSubdomain    string        `env:"DEMO_SUBDOMAIN" envDefault:"demo"`
	Timezone         string        `env:"TIMEZONE" envDefault:"UTC"`
	TrialDays        int           `env:"TRIAL_DAYS" envDefault:"5"`

	Log logger.Config
}

// MinSecretLength is the shortest JWT_SECRET Validate accepts.
const MinSecretLength = 16

// ErrWeakSecret is returned for a missing, placeholder or short JWT_SECRET.
var ErrWeakSecret = errors.New("JWT_SECRET must be set to a private value")

// weakSecrets are placeholders copied from sample configs.
var weakSecrets = map[string]bool{"change-me": true, "changeme": true, "secret": true}

// Load parses the configuration and validates it.
func Load(files ...string) (*Config, error) {
	cfg, err := Parse(files...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads the given .env files (missing files are skipped), then parses
// the environment without validating. Variables already set in the
// environment win.
func Parse(files ...string) (*Config, error) {
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.TrialDays < 0 {
		return fmt.Errorf("TRIAL_DAYS must not be negative")
	}
	if c.StatementTimeout <= 0 {
		return fmt.Errorf("STATEMENT_TIMEOUT must be positive")
	}
	if weakSecrets[c.JWTSecret] || len(c.JWTSecret) < MinSecretLength {
		return fmt.Errorf("%w (at least %d characters)", ErrWeakSecret, MinSecretLength)
	}
	return nil
}

// EphemeralSecret returns a random signing secret for processes whose
// tokens need not outlive them.
func EphemeralSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Location is the tenant-facing time zone used for period boundaries.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}
