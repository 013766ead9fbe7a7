package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/tablelink/pkg/catalog"
	"github.com/marshallshelly/tablelink/pkg/httpapi"
	"github.com/marshallshelly/tablelink/pkg/ledger"
	"github.com/marshallshelly/tablelink/pkg/logger"
	"github.com/marshallshelly/tablelink/pkg/onboarding"
	"github.com/marshallshelly/tablelink/pkg/tenant"
)

var (
	// Serve flags
	address       string
	expireEvery   time.Duration
	shutdownGrace time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run the HTTP server for guest, staff and analytics routes.

Examples:
  tablelink serve --db postgres://localhost/tablelink
  tablelink serve --memory --address :8080     # demo tenant, no database`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&address, "address", "", "Listen address (overrides ADDRESS)")
	serveCmd.Flags().DurationVar(&expireEvery, "expire-trials-every", time.Hour, "Interval of the trial expiry sweep (0 disables it)")
	serveCmd.Flags().DurationVar(&shutdownGrace, "shutdown-grace", 10*time.Second, "Time allowed for in-flight requests on shutdown")
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer e.close()

	log := logger.Component("serve")
	srv := httpapi.New(httpapi.Deps{
		Resolver:  tenant.NewResolver(e.store, e.cfg.DemoSubdomain),
		Ledger:    ledger.New(e.store, e.agg),
		Analytics: e.agg,
		Auth:      e.auth,
		Catalog:   catalog.New(e.store),
	})

	if expireEvery > 0 {
		go sweepTrials(ctx, e.onboard, expireEvery)
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("shutdown failed")
		}
	}()

	addr := e.cfg.Address
	if address != "" {
		addr = address
	}
	return srv.Listen(addr)
}

// sweepTrials deactivates expired trial tenants until ctx is done.
func sweepTrials(ctx context.Context, svc *onboarding.Service, every time.Duration) {
	log := logger.Component("trial-sweep")
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		expired, err := svc.ExpireTrials(ctx)
		if err != nil {
			log.WithError(err).Warn("trial sweep failed")
		} else if len(expired) > 0 {
			log.WithField("count", len(expired)).Info("expired trials deactivated")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
