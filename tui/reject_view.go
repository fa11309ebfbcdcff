// ABOUTME: Reject confirmation view for TUI
// ABOUTME: Asks before moving an opportunity to rejected
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/cosell/models"
)

var (
	confirmBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("9")).
			Padding(1, 2).
			Width(60).
			Align(lipgloss.Center)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	confirmButtonStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("9")).
				Padding(0, 2).
				MarginRight(2)

	cancelButtonStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("8")).
				Padding(0, 2)
)

func (m Model) renderConfirmRejectView() string {
	opp := m.selected()
	if opp == nil {
		return "Nothing selected."
	}

	title := warningStyle.Render("REJECT OPPORTUNITY")
	message := "Reject this co-sell opportunity?"
	info := fmt.Sprintf("\n%s\n%s × %s\n", opp.Communication.Subject, orUnknown(opp.PartnerName()), orUnknown(opp.CustomerName()))
	note := "\nIt can be reopened for review later."

	buttons := lipgloss.JoinHorizontal(
		lipgloss.Left,
		confirmButtonStyle.Render("Yes, Reject (y)"),
		cancelButtonStyle.Render("Cancel (n/esc)"),
	)

	content := lipgloss.JoinVertical(
		lipgloss.Center,
		title,
		"",
		message,
		info,
		note,
		"",
		buttons,
	)

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		confirmBoxStyle.Render(content),
	)
}

func (m Model) handleConfirmRejectKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.applyStatus(models.StatusRejected)
		m.viewMode = ViewList
		m.returnMode = ViewList
	case "n", "N", "esc":
		m.viewMode = m.returnMode
		m.returnMode = ViewList
	}

	return m, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
