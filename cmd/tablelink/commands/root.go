package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/tablelink/pkg/analytics"
	"github.com/marshallshelly/tablelink/pkg/auth"
	"github.com/marshallshelly/tablelink/pkg/config"
	"github.com/marshallshelly/tablelink/pkg/logger"
	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/onboarding"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/store"
	"github.com/marshallshelly/tablelink/pkg/store/memory"
	"github.com/marshallshelly/tablelink/pkg/store/postgres"
)

var (
	// Global flags
	dbURL      string
	envFile    string
	verbose    bool
	jsonOutput bool
	inMemory   bool
)

var rootCmd = &cobra.Command{
	Use:   "tablelink",
	Short: "Tablelink - multi-tenant ordering for restaurants and hotels",
	Long: `Tablelink serves guest ordering, staff order handling and sales analytics
for many restaurants from one deployment.

Commands:
  serve      - Run the HTTP server
  migrate    - Apply or inspect database migrations
  tenant     - Create and administer tenants
  report     - Print sales reports for a tenant
  dashboard  - Interactive analytics dashboard`,
	Version:       "0.4.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "Database connection URL (overrides DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file to load")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&inMemory, "memory", false, "Use an in-memory store seeded with a demo tenant")
}

// session is everything a command needs once configuration is loaded.
type session struct {
	cfg     *config.Config
	store   store.Store
	auth    *auth.Service
	onboard *onboarding.Service
	agg     *analytics.Aggregator
	close   func()
}

// loadConfig parses flags and environment. Commands whose tokens must
// survive the process set signsTokens and then need a real JWT_SECRET,
// unless the store is in memory anyway; everyone else gets a random one
// when it is unset.
func loadConfig(signsTokens bool) (*config.Config, error) {
	cfg, err := config.Parse(envFile)
	if err != nil {
		return nil, err
	}
	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.JWTSecret == "" && (inMemory || !signsTokens) {
		if cfg.JWTSecret, err = config.EphemeralSecret(); err != nil {
			return nil, err
		}
		if signsTokens {
			logger.Component("config").Warn("JWT_SECRET not set; using a random secret, tokens end with this process")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads configuration and opens the store the flags select.
func setup(ctx context.Context, signsTokens bool) (*session, error) {
	cfg, err := loadConfig(signsTokens)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	e := &session{cfg: cfg, close: func() {}}
	if inMemory {
		e.store = memory.New()
	} else {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("--db flag or DATABASE_URL is required (or use --memory)")
		}
		db, err := runtime.Connect(ctx, runtime.Config{
			URL:              cfg.DatabaseURL,
			MaxConns:         cfg.DBMaxConns,
			MinConns:         cfg.DBMinConns,
			StatementTimeout: cfg.StatementTimeout,
		})
		if err != nil {
			return nil, err
		}
		e.store = postgres.New(db)
		e.close = db.Close
	}

	e.auth = auth.NewService(e.store, cfg.JWTSecret, cfg.TokenTTL)
	e.onboard = onboarding.New(e.store, e.auth,
		onboarding.WithTrialDays(cfg.TrialDays),
		onboarding.WithDemoSubdomain(cfg.DemoSubdomain),
	)
	e.agg = analytics.New(e.store, analytics.WithLocation(loc))

	if inMemory {
		if err := seedDemo(ctx, e); err != nil {
			e.close()
			return nil, err
		}
	}
	return e, nil
}

// seedDemo creates the demo tenant used by --memory runs.
func seedDemo(ctx context.Context, e *session) error {
	_, err := e.onboard.CreateTenant(ctx, onboarding.CreateRequest{
		Name:          "Demo Restaurant",
		Subdomain:     e.cfg.DemoSubdomain,
		Plan:          models.PlanProfessional,
		Tables:        10,
		AdminUsername: "admin",
		AdminPassword: "admin123",
	})
	if err != nil {
		return fmt.Errorf("failed to seed demo tenant: %w", err)
	}
	return nil
}

// lookupTenant finds a tenant by subdomain, active or not.
func lookupTenant(ctx context.Context, e *session, subdomain string) (models.Tenant, error) {
	if subdomain == "" {
		return models.Tenant{}, fmt.Errorf("--tenant is required")
	}
	t, err := e.store.FindBySubdomain(ctx, subdomain)
	if err != nil {
		return models.Tenant{}, fmt.Errorf("tenant %q: %w", subdomain, err)
	}
	return t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
