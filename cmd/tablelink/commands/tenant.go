package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/tablelink/cmd/tablelink/output"
	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/onboarding"
	"github.com/marshallshelly/tablelink/pkg/tenant"
)

var (
	// Tenant create flags
	createReq onboarding.CreateRequest
	planFlag  string
	// Tenant delete flags
	forceDelete bool
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Create and administer tenants",
	Long: `Create and administer tenants.

Subcommands:
  create         - Create a tenant with tables, a waiter, a menu and an admin
  list           - List all tenants
  plan           - Change a tenant's plan
  toggle         - Activate or deactivate a tenant
  delete         - Delete a tenant and all of its data
  expire-trials  - Deactivate tenants whose trial has ended`,
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a tenant",
	Long: `Create a tenant. Without --subdomain one is derived from the name.

Examples:
  tablelink tenant create "Mario's Pizzeria" --admin mario --password s3cret!
  tablelink tenant create "Hotel Roma" --subdomain roma --tables 40 --plan professional`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer e.close()

		req := createReq
		req.Name = args[0]
		req.Plan = models.Plan(planFlag)
		created, err := e.onboard.CreateTenant(cmd.Context(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(created)
		}

		output.Success("Created tenant %s (%s)", created.Tenant.Name, created.Tenant.Subdomain)
		output.Info("Plan: %s, %d tables", created.Tenant.Plan, len(created.Tables))
		output.Info("Admin login: %s at %s", created.AdminUsername, created.LoginPath)
		return nil
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer e.close()

		tenants, err := e.onboard.List(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(tenants)
		}
		if len(tenants) == 0 {
			output.Warning("No tenants found")
			return nil
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tSUBDOMAIN\tNAME\tPLAN\tSTATUS\tTRIAL")
		_, _ = fmt.Fprintln(w, "--\t---------\t----\t----\t------\t-----")
		for _, t := range tenants {
			state := "inactive"
			if t.Active {
				state = "active"
			}
			trial := "-"
			if ts := tenant.TrialStatusOf(t, now); ts.OnTrial {
				trial = fmt.Sprintf("%d days left", ts.DaysLeft)
				if ts.Expired {
					trial = "expired"
				}
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s %s\t%s\n",
				t.ID, t.Subdomain, t.Name, t.Plan, output.StatusIcon(state), state, trial)
		}
		return w.Flush()
	},
}

var tenantPlanCmd = &cobra.Command{
	Use:   "plan SUBDOMAIN PLAN",
	Short: "Change a tenant's plan (trial, basic, professional)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer e.close()

		t, err := lookupTenant(cmd.Context(), e, args[0])
		if err != nil {
			return err
		}
		updated, err := e.onboard.UpdatePlan(cmd.Context(), t.ID, models.Plan(args[1]))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(updated)
		}
		output.Success("%s is now on the %s plan", updated.Subdomain, updated.Plan)
		return nil
	},
}

var tenantToggleCmd = &cobra.Command{
	Use:   "toggle SUBDOMAIN",
	Short: "Activate an inactive tenant or deactivate an active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer e.close()

		t, err := lookupTenant(cmd.Context(), e, args[0])
		if err != nil {
			return err
		}
		updated, err := e.onboard.SetActive(cmd.Context(), t.ID, !t.Active)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(updated)
		}
		if updated.Active {
			output.Success("%s activated", updated.Subdomain)
		} else {
			output.Warning("%s deactivated", updated.Subdomain)
		}
		return nil
	},
}

var tenantDeleteCmd = &cobra.Command{
	Use:   "delete SUBDOMAIN",
	Short: "Delete a tenant and all of its data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !forceDelete {
			return fmt.Errorf("refusing to delete %s without --force", args[0])
		}
		e, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer e.close()

		t, err := lookupTenant(cmd.Context(), e, args[0])
		if err != nil {
			return err
		}
		if err := e.onboard.DeleteTenant(cmd.Context(), t.ID); err != nil {
			return err
		}
		output.Success("Deleted %s", t.Subdomain)
		return nil
	},
}

var tenantExpireCmd = &cobra.Command{
	Use:   "expire-trials",
	Short: "Deactivate tenants whose trial has ended",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer e.close()

		expired, err := e.onboard.ExpireTrials(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(expired)
		}
		if len(expired) == 0 {
			output.Info("No expired trials")
			return nil
		}
		for _, t := range expired {
			output.Warning("Deactivated %s (trial ended %s)", t.Subdomain, trialEnd(t))
		}
		return nil
	},
}

func trialEnd(t models.Tenant) string {
	if t.TrialEndsAt == nil {
		return "-"
	}
	return t.TrialEndsAt.Format("2006-01-02")
}

func init() {
	rootCmd.AddCommand(tenantCmd)
	tenantCmd.AddCommand(tenantCreateCmd, tenantListCmd, tenantPlanCmd, tenantToggleCmd, tenantDeleteCmd, tenantExpireCmd)

	tenantCreateCmd.Flags().StringVar(&createReq.Subdomain, "subdomain", "", "Subdomain (derived from the name when empty)")
	tenantCreateCmd.Flags().StringVar(&planFlag, "plan", string(models.PlanTrial), "Plan: trial, basic or professional")
	tenantCreateCmd.Flags().IntVar(&createReq.Tables, "tables", 10, "Number of tables or rooms")
	tenantCreateCmd.Flags().StringVar(&createReq.AdminUsername, "admin", "admin", "Admin username")
	tenantCreateCmd.Flags().StringVar(&createReq.AdminPassword, "password", "", "Admin password (at least 6 characters)")

	tenantDeleteCmd.Flags().BoolVar(&forceDelete, "force", false, "Confirm the deletion")
}
