// ABOUTME: Terminal User Interface using bubbletea framework
// ABOUTME: Full-screen review queue for confirming, rejecting, and syncing detected opportunities
package tui

import (
	"database/sql"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/cosell/db"
	"github.com/harperreed/cosell/models"
)

// ViewMode represents the current TUI view
type ViewMode int

const (
	ViewList ViewMode = iota
	ViewDetail
	ViewConfirmReject
)

// Tab is a status filter over the opportunity list.
type Tab struct {
	Label    string
	Statuses []string // empty means every status
}

var Tabs = []Tab{
	{Label: "Queue", Statuses: []string{models.StatusNew, models.StatusReview}},
	{Label: "Confirmed", Statuses: []string{models.StatusConfirmed}},
	{Label: "Synced", Statuses: []string{models.StatusSynced}},
	{Label: "Rejected", Statuses: []string{models.StatusRejected}},
	{Label: "All"},
}

const listLimit = 200

// Model is the main bubbletea model
type Model struct {
	db         *sql.DB
	viewMode   ViewMode
	returnMode ViewMode // where a cancelled reject goes back to
	tab        int
	reviewer   string

	opps        []models.DetectedOpportunity
	selectedRow int

	// Status line after an action
	message string
	isError bool

	width  int
	height int
}

// NewModel creates a new TUI model showing the review queue. reviewer is
// recorded on every status change.
func NewModel(database *sql.DB, reviewer string) Model {
	m := Model{
		db:       database,
		viewMode: ViewList,
		reviewer: reviewer,
		width:    80,
		height:   24,
	}
	m.reload()
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	switch m.viewMode {
	case ViewList:
		return m.renderListView()
	case ViewDetail:
		return m.renderDetailView()
	case ViewConfirmReject:
		return m.renderConfirmRejectView()
	}
	return ""
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "q":
		if m.viewMode == ViewList {
			return m, tea.Quit
		}
	}

	switch m.viewMode {
	case ViewList:
		return m.handleListKeys(msg)
	case ViewDetail:
		return m.handleDetailKeys(msg)
	case ViewConfirmReject:
		return m.handleConfirmRejectKeys(msg)
	}

	return m, nil
}

// reload fetches the opportunities for the current tab and clamps the cursor.
func (m *Model) reload() {
	m.opps = nil
	statuses := Tabs[m.tab].Statuses
	if len(statuses) == 0 {
		statuses = []string{""}
	}
	for _, status := range statuses {
		opps, err := db.FindOpportunities(m.db, db.OpportunityFilter{Status: status, Limit: listLimit})
		if err != nil {
			m.setError(fmt.Errorf("failed to load opportunities: %w", err))
			return
		}
		m.opps = append(m.opps, opps...)
	}
	if m.selectedRow >= len(m.opps) {
		m.selectedRow = len(m.opps) - 1
	}
	if m.selectedRow < 0 {
		m.selectedRow = 0
	}
}

func (m *Model) selected() *models.DetectedOpportunity {
	if m.selectedRow < 0 || m.selectedRow >= len(m.opps) {
		return nil
	}
	return &m.opps[m.selectedRow]
}

func (m *Model) setError(err error) {
	m.message = err.Error()
	m.isError = true
}

func (m *Model) setMessage(s string) {
	m.message = s
	m.isError = false
}

// applyStatus moves the selected opportunity to status and refreshes the list.
func (m *Model) applyStatus(status string) {
	opp := m.selected()
	if opp == nil {
		return
	}

	var (
		action *models.OpportunityAction
		err    error
	)
	if status == models.StatusSynced && opp.ExistingOpportunityID != "" {
		action, err = db.MarkSynced(m.db, opp.ID, opp.ExistingOpportunityID, m.reviewer)
	} else {
		action, err = db.UpdateOpportunityStatus(m.db, opp.ID, status, "", m.reviewer)
	}
	if err != nil {
		if errors.Is(err, db.ErrInvalidTransition) {
			m.setError(fmt.Errorf("cannot move %s opportunity to %s", opp.Status, status))
		} else {
			m.setError(err)
		}
		return
	}

	m.setMessage(fmt.Sprintf("✓ %s: %s → %s", opp.Communication.Subject, action.PreviousStatus, action.NewStatus))
	m.reload()
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Background(lipgloss.Color("235")).
			Padding(0, 2)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)

func (m Model) renderMessage() string {
	if m.message == "" {
		return ""
	}
	if m.isError {
		return errorStyle.Render(m.message)
	}
	return messageStyle.Render(m.message)
}
