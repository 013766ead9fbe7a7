package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/marshallshelly/tablelink/pkg/analytics"
)

var periods = []analytics.Period{analytics.Day, analytics.Week, analytics.Month, analytics.Year}

// FormatKey formats a help key
func FormatKey(key, description string) string {
	return helpKeyStyle.Render(key) + " " + mutedStyle.Render(description)
}

// StatCard renders one headline figure.
func StatCard(label, value string) string {
	return boxStyle.Width(18).Render(mutedStyle.Render(label) + "\n" + valueStyle.Render(value))
}

// PeriodTabs renders the period selector with active highlighted.
func PeriodTabs(active analytics.Period) string {
	tabs := make([]string, 0, len(periods))
	for _, p := range periods {
		label := strings.ToUpper(string(p[:1])) + " " + string(p)
		if p == active {
			tabs = append(tabs, activeTabStyle.Render(label))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

// Bar draws value against peak in width cells.
func Bar(value, peak, width int) string {
	if peak <= 0 || value <= 0 {
		return barEmptyStyle.Render(strings.Repeat("─", width))
	}
	filled := max(1, value*width/peak)
	return barStyle.Render(strings.Repeat("█", filled)) + barEmptyStyle.Render(strings.Repeat("─", width-filled))
}

// ErrorBox renders a degraded-report notice.
func ErrorBox(msg string) string {
	return errorStyle.Render("Report degraded: " + msg)
}
