package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/cosell/models"
)

func (m Model) renderListView() string {
	var s strings.Builder

	// Title
	s.WriteString(titleStyle.Render("COSELL REVIEW QUEUE"))
	s.WriteString("\n\n")

	// Tabs
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	// Table
	if len(m.opps) == 0 {
		s.WriteString("No opportunities here.")
	} else {
		s.WriteString(m.renderTable())
	}
	s.WriteString("\n\n")

	if msg := m.renderMessage(); msg != "" {
		s.WriteString(msg)
		s.WriteString("\n")
	}

	// Help
	s.WriteString(m.renderListHelp())

	return s.String()
}

func (m Model) renderTabs() string {
	var rendered []string

	for i, tab := range Tabs {
		label := tab.Label
		if i == m.tab {
			label = fmt.Sprintf("%s (%d)", label, len(m.opps))
			rendered = append(rendered, tabActiveStyle.Render(label))
		} else {
			rendered = append(rendered, tabInactiveStyle.Render(label))
		}
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m Model) renderTable() string {
	columns := []table.Column{
		{Title: "Conf", Width: 6},
		{Title: "Status", Width: 10},
		{Title: "Partner", Width: 18},
		{Title: "Customer", Width: 18},
		{Title: "CRM", Width: 14},
		{Title: "Subject", Width: 40},
	}

	rows := make([]table.Row, 0, len(m.opps))
	for i := range m.opps {
		opp := &m.opps[i]
		rows = append(rows, table.Row{
			fmt.Sprintf("%.2f", opp.Confidence),
			opp.Status,
			opp.PartnerName(),
			opp.CustomerName(),
			string(opp.CRMAction),
			opp.Communication.Subject,
		})
	}

	height := m.height - 12
	if height < 3 {
		height = 3
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(height),
	)

	if m.selectedRow < len(rows) {
		t.SetCursor(m.selectedRow)
	}

	return t.View()
}

func (m Model) renderListHelp() string {
	help := []string{
		"↑/↓: Navigate",
		"Tab: Filter",
		"Enter: Details",
		"c: Confirm",
		"r: Reject",
		"s: Synced",
		"v: Needs review",
		"q: Quit",
	}
	return helpStyle.Render(strings.Join(help, " • "))
}

// handleReviewKey applies the review shortcut shared by the list and detail views.
func (m Model) handleReviewKey(key string) (Model, bool) {
	switch key {
	case "c":
		m.applyStatus(models.StatusConfirmed)
	case "s":
		m.applyStatus(models.StatusSynced)
	case "v":
		m.applyStatus(models.StatusReview)
	case "r":
		if m.selected() != nil {
			m.returnMode = m.viewMode
			m.viewMode = ViewConfirmReject
		}
	default:
		return m, false
	}
	return m, true
}

func (m Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if next, ok := m.handleReviewKey(msg.String()); ok {
		return next, nil
	}

	switch msg.String() {
	case "up", "k":
		if m.selectedRow > 0 {
			m.selectedRow--
		}
	case "down", "j":
		if m.selectedRow < len(m.opps)-1 {
			m.selectedRow++
		}
	case "tab":
		m.tab = (m.tab + 1) % len(Tabs)
		m.selectedRow = 0
		m.message = ""
		m.reload()
	case "shift+tab":
		m.tab = (m.tab + len(Tabs) - 1) % len(Tabs)
		m.selectedRow = 0
		m.message = ""
		m.reload()
	case "enter":
		if m.selected() != nil {
			m.viewMode = ViewDetail
		}
	}

	return m, nil
}
