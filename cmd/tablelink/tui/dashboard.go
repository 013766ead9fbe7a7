// Package tui is the interactive analytics dashboard of the tablelink CLI.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/marshallshelly/tablelink/pkg/analytics"
	"github.com/marshallshelly/tablelink/pkg/models"
)

// DashboardModel is the Bubbletea model of the dashboard.
type DashboardModel struct {
	ctx     context.Context
	agg     *analytics.Aggregator
	tenant  models.Tenant
	period  analytics.Period
	date    time.Time
	data    analytics.Dashboard
	loaded  bool
	loading bool
	spinner spinner.Model
	items   table.Model
	waiters table.Model
	focus   int
	width   int
	height  int
}

// NewDashboardModel creates a dashboard for tenant t starting at period p
// around date.
func NewDashboardModel(ctx context.Context, agg *analytics.Aggregator, t models.Tenant, p analytics.Period, date time.Time) DashboardModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = infoStyle

	items := table.New(
		table.WithColumns([]table.Column{
			{Title: "#", Width: 3},
			{Title: "Item", Width: 22},
			{Title: "Category", Width: 12},
			{Title: "Qty", Width: 5},
			{Title: "Revenue", Width: 10},
		}),
		table.WithHeight(10),
		table.WithFocused(true),
		table.WithStyles(tableStyles(true)),
	)
	waiters := table.New(
		table.WithColumns([]table.Column{
			{Title: "Waiter", Width: 18},
			{Title: "Orders", Width: 7},
			{Title: "Sales", Width: 10},
			{Title: "Tips", Width: 9},
			{Title: "Tables", Width: 7},
		}),
		table.WithHeight(10),
		table.WithStyles(tableStyles(false)),
	)

	return DashboardModel{
		ctx:     ctx,
		agg:     agg,
		tenant:  t,
		period:  p,
		date:    date,
		loading: true,
		spinner: s,
		items:   items,
		waiters: waiters,
	}
}

type dashboardLoadedMsg struct {
	period analytics.Period
	date   time.Time
	data   analytics.Dashboard
}

// Init initializes the model
func (m DashboardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load())
}

func (m DashboardModel) load() tea.Cmd {
	ctx, agg, tenantID, period, date := m.ctx, m.agg, m.tenant.ID, m.period, m.date
	return func() tea.Msg {
		return dashboardLoadedMsg{
			period: period,
			date:   date,
			data:   agg.Dashboard(ctx, tenantID, date, period, nil),
		}
	}
}

// Update handles messages
func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "d", "w", "m", "y":
			for _, p := range periods {
				if string(p[:1]) == msg.String() && p != m.period {
					m.period = p
					return m.reload()
				}
			}
			return m, nil
		case "left", "h":
			m.date = shift(m.date, m.period, -1)
			return m.reload()
		case "right", "l":
			m.date = shift(m.date, m.period, 1)
			return m.reload()
		case "r":
			return m.reload()
		case "tab":
			m.focus = (m.focus + 1) % 2
			m.items.SetStyles(tableStyles(m.focus == 0))
			m.waiters.SetStyles(tableStyles(m.focus == 1))
			if m.focus == 0 {
				m.items.Focus()
				m.waiters.Blur()
			} else {
				m.waiters.Focus()
				m.items.Blur()
			}
			return m, nil
		}

	case dashboardLoadedMsg:
		// a slower response for a selection the user already left is dropped
		if msg.period != m.period || !msg.date.Equal(m.date) {
			return m, nil
		}
		m.data = msg.data
		m.loaded = true
		m.loading = false
		m.items.SetRows(itemRows(msg.data.TopItems))
		m.waiters.SetRows(waiterRows(msg.data.Waiters))
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	if m.focus == 0 {
		m.items, cmd = m.items.Update(msg)
	} else {
		m.waiters, cmd = m.waiters.Update(msg)
	}
	return m, cmd
}

func (m DashboardModel) reload() (tea.Model, tea.Cmd) {
	m.loading = true
	return m, tea.Batch(m.spinner.Tick, m.load())
}

// shift moves date by n periods.
func shift(date time.Time, p analytics.Period, n int) time.Time {
	switch p {
	case analytics.Week:
		return date.AddDate(0, 0, 7*n)
	case analytics.Month:
		return date.AddDate(0, n, 0)
	case analytics.Year:
		return date.AddDate(n, 0, 0)
	}
	return date.AddDate(0, 0, n)
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func itemRows(items []analytics.TopItem) []table.Row {
	rows := make([]table.Row, len(items))
	for i, it := range items {
		rows[i] = table.Row{strconv.Itoa(i + 1), it.Name, it.Category, strconv.Itoa(it.Quantity), money(it.Revenue)}
	}
	return rows
}

func waiterRows(waiters []analytics.WaiterStats) []table.Row {
	rows := make([]table.Row, len(waiters))
	for i, w := range waiters {
		rows[i] = table.Row{w.Name, strconv.Itoa(w.TotalOrders), money(w.TotalSales), money(w.TotalTips), strconv.Itoa(w.TablesServed)}
	}
	return rows
}

// View renders the dashboard
func (m DashboardModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.tenant.Name))
	b.WriteString("  ")
	b.WriteString(subtitleStyle.Render(m.windowLabel()))
	if m.loading {
		b.WriteString("  " + m.spinner.View() + mutedStyle.Render(" loading"))
	}
	b.WriteString("\n\n")
	b.WriteString(PeriodTabs(m.period))
	b.WriteString("\n\n")

	if !m.loaded {
		return b.String()
	}
	if m.data.Error != "" {
		b.WriteString(ErrorBox(m.data.Error))
		b.WriteString("\n")
	}

	s := m.data.Summary
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		StatCard("Total orders", strconv.Itoa(s.Orders)),
		StatCard("Sales", money(s.Sales)),
		StatCard("Tips", money(s.Tips)),
	))
	b.WriteString("\n")

	itemsBox, waitersBox := boxStyle, boxStyle
	if m.focus == 0 {
		itemsBox = activeBoxStyle
	} else {
		waitersBox = activeBoxStyle
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		itemsBox.Render(titleStyle.Render("Top items")+"\n"+m.items.View()),
		waitersBox.Render(titleStyle.Render("Waiters")+"\n"+m.waiters.View()),
	))
	b.WriteString("\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(titleStyle.Render("Categories")+"\n"+m.categoriesView()),
		boxStyle.Render(titleStyle.Render("Last 7 days")+"\n"+m.trendView()),
	))
	b.WriteString("\n")

	b.WriteString(helpStyle.Render(strings.Join([]string{
		FormatKey("d/w/m/y", "period"),
		FormatKey("←/→", "move"),
		FormatKey("tab", "switch table"),
		FormatKey("r", "refresh"),
		FormatKey("q", "quit"),
	}, " • ")))
	return b.String()
}

func (m DashboardModel) windowLabel() string {
	w, err := analytics.WindowFor(m.date, m.period, m.agg.Location())
	if err != nil {
		return string(m.period)
	}
	if w.Start.Equal(w.End) {
		return w.Start.Format("Mon 2 Jan 2006")
	}
	return w.Start.Format("2 Jan 2006") + " - " + w.End.Format("2 Jan 2006")
}

func (m DashboardModel) categoriesView() string {
	if len(m.data.Categories) == 0 {
		return mutedStyle.Render("No settled orders")
	}
	var peak int64
	for _, c := range m.data.Categories {
		peak = max(peak, c.Revenue.Mul(decimal.NewFromInt(100)).IntPart())
	}
	lines := make([]string, len(m.data.Categories))
	for i, c := range m.data.Categories {
		cents := c.Revenue.Mul(decimal.NewFromInt(100)).IntPart()
		lines[i] = fmt.Sprintf("%-12s %s %s", truncate(c.Category, 12), Bar(int(cents), int(peak), 16), money(c.Revenue))
	}
	return strings.Join(lines, "\n")
}

func (m DashboardModel) trendView() string {
	peak := 0
	for _, p := range m.data.Trend {
		peak = max(peak, p.Orders)
	}
	lines := make([]string, len(m.data.Trend))
	for i, p := range m.data.Trend {
		count := mutedStyle.Render(fmt.Sprintf("%3d", p.Orders))
		if p.Orders > 0 {
			count = successStyle.Render(fmt.Sprintf("%3d", p.Orders))
		}
		lines[i] = fmt.Sprintf("%s %s %s %s", p.Date, Bar(p.Orders, peak, 14), count, money(p.Revenue))
	}
	if len(lines) == 0 {
		return mutedStyle.Render("No data")
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// RunDashboard runs the dashboard until the user quits.
func RunDashboard(ctx context.Context, agg *analytics.Aggregator, t models.Tenant, p analytics.Period) error {
	m := NewDashboardModel(ctx, agg, t, p, time.Now())
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}
