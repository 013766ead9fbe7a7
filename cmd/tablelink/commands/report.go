package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/tablelink/cmd/tablelink/output"
	"github.com/marshallshelly/tablelink/pkg/analytics"
	"github.com/marshallshelly/tablelink/pkg/models"
)

var (
	// Report flags
	reportTenant string
	reportPeriod string
	reportDate   string
	reportStaff  int64
	reportLimit  int
	reportDays   int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print sales reports for a tenant",
	Long: `Print sales reports for a tenant.

Subcommands:
  summary     - Orders, sales and tips for a period
  top         - Best selling items
  categories  - Revenue and quantity share per category
  trend       - Daily sales of one item
  waiters     - Per-waiter performance

Examples:
  tablelink report summary --tenant demo --period week
  tablelink report top --tenant demo --period month --date 2025-03-01 --limit 5
  tablelink report trend "Margherita Pizza" --tenant demo --days 14`,
}

// reportArgs are the parsed common report flags.
type reportArgs struct {
	session *session
	tenant  models.Tenant
	period  analytics.Period
	date    time.Time
	staffID *int64
}

func parseReportArgs(ctx context.Context) (reportArgs, error) {
	period, err := analytics.ParsePeriod(reportPeriod)
	if err != nil {
		return reportArgs{}, err
	}
	e, err := setup(ctx, false)
	if err != nil {
		return reportArgs{}, err
	}

	args := reportArgs{session: e, period: period, date: time.Now(), staffID: models.StaffRef(reportStaff)}
	if reportDate != "" {
		if args.date, err = analytics.ParseDate(reportDate, e.agg.Location()); err != nil {
			e.close()
			return reportArgs{}, err
		}
	}
	if args.tenant, err = lookupTenant(ctx, e, reportTenant); err != nil {
		e.close()
		return reportArgs{}, err
	}
	return args, nil
}

// report runs one query and prints it as JSON or through render.
func report[T any](query func(ctx context.Context, a reportArgs) T, errOf func(T) string, render func(T) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := parseReportArgs(cmd.Context())
		if err != nil {
			return err
		}
		defer a.session.close()

		result := query(cmd.Context(), a)
		if jsonOutput {
			return printJSON(result)
		}
		if msg := errOf(result); msg != "" {
			output.Error("Report degraded: %s", msg)
		}
		return render(result)
	}
}

func windowTitle(title string, w analytics.Window) string {
	if w.Start.Equal(w.End) {
		return fmt.Sprintf("%s - %s", title, w.Start.Format("2006-01-02"))
	}
	return fmt.Sprintf("%s - %s to %s", title, w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}

var reportSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Orders, sales and tips for a period",
	RunE: report(
		func(ctx context.Context, a reportArgs) analytics.Summary {
			return a.session.agg.PeriodSummary(ctx, a.tenant.ID, a.date, a.period, a.staffID)
		},
		func(s analytics.Summary) string { return s.Error },
		func(s analytics.Summary) error {
			output.Section(windowTitle("Summary", s.Window))
			fmt.Printf("  Orders: %d\n", s.Orders)
			fmt.Printf("  Sales:  %s\n", output.Money(s.Sales))
			fmt.Printf("  Tips:   %s\n", output.Money(s.Tips))
			return nil
		},
	),
}

var reportTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Best selling items",
	RunE: report(
		func(ctx context.Context, a reportArgs) analytics.TopItems {
			return a.session.agg.TopItems(ctx, a.tenant.ID, a.period, a.date, reportLimit, a.staffID)
		},
		func(t analytics.TopItems) string { return t.Error },
		func(t analytics.TopItems) error {
			output.Section(windowTitle("Top items", t.Window))
			if len(t.Items) == 0 {
				output.Muted("No sales in this period")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "#\tITEM\tCATEGORY\tQTY\tREVENUE\tORDERS\tAVG PRICE")
			for i, it := range t.Items {
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%d\t%s\n",
					i+1, it.Name, it.Category, it.Quantity, output.Money(it.Revenue), it.OrdersAppearedIn, output.Money(it.AvgPrice))
			}
			return w.Flush()
		},
	),
}

var reportCategoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Revenue and quantity share per category",
	RunE: report(
		func(ctx context.Context, a reportArgs) analytics.CategoryComparison {
			return a.session.agg.CategoryComparison(ctx, a.tenant.ID, a.period, a.date, a.staffID)
		},
		func(c analytics.CategoryComparison) string { return c.Error },
		func(c analytics.CategoryComparison) error {
			output.Section(windowTitle("Categories", c.Window))
			if len(c.Categories) == 0 {
				output.Muted("No sales in this period")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "CATEGORY\tQTY\tREVENUE\tREVENUE %\tQTY %")
			for _, cs := range c.Categories {
				_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%.2f\t%.2f\n",
					cs.Category, cs.Quantity, output.Money(cs.Revenue), cs.RevenuePct, cs.QtyPct)
			}
			_, _ = fmt.Fprintf(w, "TOTAL\t%d\t%s\t\t\n", c.TotalQuantity, output.Money(c.TotalRevenue))
			return w.Flush()
		},
	),
}

var reportWaitersCmd = &cobra.Command{
	Use:   "waiters",
	Short: "Per-waiter performance",
	RunE: report(
		func(ctx context.Context, a reportArgs) analytics.WaiterPerformance {
			return a.session.agg.WaiterPerformance(ctx, a.tenant.ID, a.period, a.date)
		},
		func(p analytics.WaiterPerformance) string { return p.Error },
		func(p analytics.WaiterPerformance) error {
			output.Section(windowTitle("Waiters", p.Window))
			if len(p.Waiters) == 0 {
				output.Muted("No settled orders in this period")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "WAITER\tORDERS\tITEMS\tSALES\tTIPS\tAVG ORDER\tTABLES")
			for _, ws := range p.Waiters {
				_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t%d\n",
					ws.Name, ws.TotalOrders, ws.TotalItems, output.Money(ws.TotalSales),
					output.Money(ws.TotalTips), output.Money(ws.AvgOrderValue), ws.TablesServed)
			}
			return w.Flush()
		},
	),
}

var reportTrendCmd = &cobra.Command{
	Use:   "trend ITEM",
	Short: "Daily sales of one item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		item := args[0]
		return report(
			func(ctx context.Context, a reportArgs) analytics.ItemTrend {
				return a.session.agg.ItemTrend(ctx, a.tenant.ID, item, reportDays)
			},
			func(t analytics.ItemTrend) string { return t.Error },
			func(t analytics.ItemTrend) error {
				output.Section(fmt.Sprintf("%s - last %d days", t.ItemName, t.Days))
				for _, p := range t.Points {
					fmt.Printf("  %s  %s %3d  %s\n", p.Date, output.Bar(p.Quantity, maxQuantity(t.Points), 30), p.Quantity, output.Money(p.Revenue))
				}
				fmt.Printf("\n  %d sold on %d of %d days, %s revenue\n", t.TotalQuantity, t.ActiveDays, t.Days, output.Money(t.TotalRevenue))
				return nil
			},
		)(cmd, args)
	},
}

func maxQuantity(points []analytics.TrendPoint) int {
	m := 0
	for _, p := range points {
		m = max(m, p.Quantity)
	}
	return m
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportSummaryCmd, reportTopCmd, reportCategoriesCmd, reportWaitersCmd, reportTrendCmd)

	reportCmd.PersistentFlags().StringVarP(&reportTenant, "tenant", "t", "", "Tenant subdomain")
	reportCmd.PersistentFlags().StringVarP(&reportPeriod, "period", "p", "day", "Period: day, week, month or year")
	reportCmd.PersistentFlags().StringVar(&reportDate, "date", "", "Date inside the period, YYYY-MM-DD (default today)")
	reportCmd.PersistentFlags().Int64Var(&reportStaff, "staff", 0, "Only orders settled by this staff id")

	reportTopCmd.Flags().IntVar(&reportLimit, "limit", analytics.DefaultTopItems, "Number of items")
	reportTrendCmd.Flags().IntVar(&reportDays, "days", 30, "Number of days ending today")
}
