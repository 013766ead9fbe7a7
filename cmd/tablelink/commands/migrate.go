package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/tablelink/cmd/tablelink/output"
	"github.com/marshallshelly/tablelink/pkg/logger"
	"github.com/marshallshelly/tablelink/pkg/migration"
	"github.com/marshallshelly/tablelink/pkg/runtime"
)

var dryRun bool

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Apply the embedded schema migrations.

Subcommands:
  up      - Apply pending migrations
  status  - Show migration status`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Long: `Apply every pending migration in version order.

Examples:
  tablelink migrate up --db postgres://localhost/tablelink
  tablelink migrate up --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrateUp(cmd.Context())
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long: `Show the status of all migrations (pending, applied, failed).

Examples:
  tablelink migrate status
  tablelink migrate status --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrateStatus(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)

	migrateUpCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview migrations without applying")
}

func openExecutor(ctx context.Context) (*migration.Executor, func(), error) {
	if inMemory {
		return nil, nil, fmt.Errorf("migrations need a database, not --memory")
	}
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("--db flag or DATABASE_URL is required")
	}
	db, err := runtime.Connect(ctx, runtime.Config{URL: cfg.DatabaseURL, StatementTimeout: cfg.StatementTimeout})
	if err != nil {
		return nil, nil, err
	}

	executor := migration.NewExecutor(db.Pool(), logger.Component("migrate"))
	if err := executor.Initialize(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	return executor, db.Close, nil
}

func runMigrateUp(ctx context.Context) error {
	migrations, err := migration.Load()
	if err != nil {
		return err
	}
	executor, closeDB, err := openExecutor(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	if dryRun {
		status, err := executor.GetStatus(ctx, migrations)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		output.Section("DRY RUN - Preview")
		pending := 0
		for _, r := range status {
			if r.Status != migration.StatusApplied {
				fmt.Printf("  %s %s - %s\n", output.StatusIcon("pending"), r.Version, r.Name)
				pending++
			}
		}
		if pending == 0 {
			output.Info("No pending migrations")
		}
		return nil
	}

	output.Section("Applying Migrations")
	var applied []migration.Migration
	err = executor.WithLock(ctx, func(ctx context.Context, locked *migration.Executor) error {
		var err error
		applied, err = locked.ApplyAll(ctx, migrations)
		return err
	})
	for _, m := range applied {
		output.Success("Applied %s - %s", m.Version, m.Name)
	}
	if err != nil {
		output.Error("Migration failed: %v", err)
		return err
	}
	if len(applied) == 0 {
		output.Info("No pending migrations")
		return nil
	}

	fmt.Println()
	output.Success("Successfully applied %d migration(s)", len(applied))
	return nil
}

func runMigrateStatus(ctx context.Context) error {
	migrations, err := migration.Load()
	if err != nil {
		return err
	}
	executor, closeDB, err := openExecutor(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	status, err := executor.GetStatus(ctx, migrations)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	if jsonOutput {
		return printJSON(status)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	_, _ = fmt.Fprintln(w, "-------\t----\t------\t----------")

	var applied, pending, failed int
	for _, record := range status {
		appliedAt := "N/A"
		if record.AppliedAt != nil {
			appliedAt = record.AppliedAt.Format("2006-01-02 15:04:05")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\n",
			record.Version,
			record.Name,
			output.StatusIcon(string(record.Status)),
			record.Status,
			appliedAt,
		)

		switch record.Status {
		case migration.StatusPending:
			pending++
		case migration.StatusApplied:
			applied++
		case migration.StatusFailed:
			failed++
		}
	}
	_ = w.Flush()

	fmt.Printf("\nSummary: %d applied, %d pending", applied, pending)
	if failed > 0 {
		fmt.Printf(", %d failed", failed)
	}
	fmt.Println()
	return nil
}
