package commands

import (
	"github.com/spf13/cobra"

	"github.com/marshallshelly/tablelink/cmd/tablelink/tui"
	"github.com/marshallshelly/tablelink/pkg/analytics"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive analytics dashboard",
	Long: `Open an interactive dashboard for one tenant.

Keys:
  d/w/m/y  switch period
  ←/→      move one period back or forward
  r        refresh
  q        quit

Examples:
  tablelink dashboard --tenant demo
  tablelink dashboard --tenant demo --memory`,
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := analytics.ParsePeriod(reportPeriod)
		if err != nil {
			return err
		}
		e, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer e.close()

		t, err := lookupTenant(cmd.Context(), e, reportTenant)
		if err != nil {
			return err
		}
		return tui.RunDashboard(cmd.Context(), e.agg, t, period)
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)

	dashboardCmd.Flags().StringVarP(&reportTenant, "tenant", "t", "", "Tenant subdomain")
	dashboardCmd.Flags().StringVarP(&reportPeriod, "period", "p", "day", "Initial period: day, week, month or year")
}
