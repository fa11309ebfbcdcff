package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/cosell/db"
	"github.com/harperreed/cosell/models"
)

var (
	fieldLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Width(20)

	fieldValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	sectionStyle = lipgloss.NewStyle().Bold(true)
)

func (m Model) renderDetailView() string {
	var s strings.Builder

	// Title
	s.WriteString(titleStyle.Render("OPPORTUNITY"))
	s.WriteString("\n\n")

	opp := m.selected()
	if opp == nil {
		s.WriteString("Nothing selected.")
	} else {
		s.WriteString(m.renderOpportunityDetail(opp))
	}

	s.WriteString("\n")
	if msg := m.renderMessage(); msg != "" {
		s.WriteString(msg)
		s.WriteString("\n")
	}

	// Help
	s.WriteString(m.renderDetailHelp())

	return s.String()
}

func (m Model) renderOpportunityDetail(opp *models.DetectedOpportunity) string {
	var s strings.Builder

	s.WriteString(m.renderField("Subject", opp.Communication.Subject))
	s.WriteString(m.renderField("From", opp.Communication.From))
	s.WriteString(m.renderField("Date", opp.Communication.OccurredAt.Format("2006-01-02 15:04")))
	s.WriteString(m.renderField("Source", string(opp.Communication.Type)))
	s.WriteString(m.renderField("Status", opp.Status))
	s.WriteString(m.renderField("Confidence", fmt.Sprintf("%.2f (%s)", opp.Confidence, models.BucketFor(opp.Confidence))))

	if opp.Partner != nil {
		s.WriteString(m.renderField("Partner", fmt.Sprintf("%s (%.2f)", opp.Partner.Name, opp.Partner.Confidence)))
	} else {
		s.WriteString(m.renderField("Partner", ""))
	}
	if opp.Customer != nil {
		s.WriteString(m.renderField("Customer", fmt.Sprintf("%s (%.2f)", opp.Customer.Name, opp.Customer.Confidence)))
	} else {
		s.WriteString(m.renderField("Customer", ""))
	}

	s.WriteString(m.renderField("Solution Area", string(opp.SolutionArea)))
	s.WriteString(m.renderField("Keywords", strings.Join(opp.MatchedKeywords, ", ")))
	s.WriteString(m.renderField("CRM Action", string(opp.CRMAction)))
	if opp.ExistingOpportunityID != "" {
		s.WriteString(m.renderField("CRM Opportunity", strings.TrimSpace(opp.ExistingOpportunityName+" "+opp.ExistingOpportunityID)))
	}
	s.WriteString(m.renderField("Summary", opp.Summary))

	if b := opp.BANT; b != nil {
		s.WriteString("\n")
		s.WriteString(sectionStyle.Render(fmt.Sprintf("BANT %d/100", b.Score)))
		s.WriteString("\n")
		if b.Budget != nil {
			s.WriteString(m.renderField("Budget", fmt.Sprintf("$%.0f", b.Budget.AmountUSD)))
		}
		if b.Need != nil {
			s.WriteString(m.renderField("Need", b.Need.Description))
		}
		if b.Timeline != nil {
			s.WriteString(m.renderField("Timeline", strings.TrimSpace(b.Timeline.Timeframe+" "+b.Timeline.Urgency)))
		}
		if len(b.MissingElements) > 0 {
			s.WriteString(m.renderField("Missing", strings.Join(b.MissingElements, ", ")))
		}
	}

	s.WriteString("\n")
	s.WriteString(sectionStyle.Render("CONTENT"))
	s.WriteString("\n")
	s.WriteString(wrap(opp.Communication.Preview, m.width))
	s.WriteString("\n")

	// Review history
	actions, _ := db.GetOpportunityActions(m.db, opp.ID)
	if len(actions) > 0 {
		s.WriteString("\n")
		s.WriteString(sectionStyle.Render("HISTORY"))
		s.WriteString("\n")
		for _, a := range actions {
			s.WriteString(fmt.Sprintf("  • [%s] %s %s\n", a.PerformedAt.Format("2006-01-02"), a.Type, a.NewStatus))
		}
	}

	return s.String()
}

// wrap limits text to width columns for the content pane.
func wrap(text string, width int) string {
	if width < 20 {
		width = 20
	}
	return lipgloss.NewStyle().Width(width - 4).Render(text)
}

func (m Model) renderField(label, value string) string {
	if value == "" {
		value = "-"
	}
	return fmt.Sprintf("%s %s\n",
		fieldLabelStyle.Render(label+":"),
		fieldValueStyle.Render(value))
}

func (m Model) renderDetailHelp() string {
	help := []string{
		"Esc: Back",
		"c: Confirm",
		"r: Reject",
		"s: Synced",
		"v: Needs review",
		"ctrl+c: Quit",
	}
	return helpStyle.Render(strings.Join(help, " • "))
}

func (m Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	selectedID := ""
	if opp := m.selected(); opp != nil {
		selectedID = opp.ID.String()
	}

	if next, ok := m.handleReviewKey(msg.String()); ok {
		// The opportunity may have left the current tab after a status change.
		if opp := next.selected(); opp == nil || opp.ID.String() != selectedID {
			next.viewMode = ViewList
		}
		return next, nil
	}

	switch msg.String() {
	case "esc", "backspace":
		m.viewMode = ViewList
	}

	return m, nil
}
