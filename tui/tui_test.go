// ABOUTME: Tests for the review queue TUI
// ABOUTME: Drives Update with key messages and checks views and stored statuses
package tui

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	_ "github.com/mattn/go-sqlite3"

	"github.com/harperreed/cosell/db"
	"github.com/harperreed/cosell/fixtures"
	"github.com/harperreed/cosell/models"
)

func setupTestDB(t *testing.T) *sql.DB {
	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test db: %v", err)
	}
	database.SetMaxOpenConns(1)
	if err := db.InitSchema(database); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func seed(t *testing.T, database *sql.DB, n int) []*models.DetectedOpportunity {
	b := fixtures.New(11)
	opps := b.Opportunities(n)
	if err := db.NewRecorder(database).RecordScan(context.Background(), models.ScanBatch{Session: b.Session(opps), Opportunities: opps}); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}
	return opps
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, keys ...string) Model {
	t.Helper()
	for _, k := range keys {
		next, _ := m.Update(key(k))
		m = next.(Model)
	}
	return m
}

func statusOf(t *testing.T, database *sql.DB, opp *models.DetectedOpportunity) string {
	got, err := db.GetOpportunity(database, opp.ID)
	if err != nil || got == nil {
		t.Fatalf("Failed to load opportunity: %v", err)
	}
	return got.Status
}

func TestQueueShowsNewOpportunities(t *testing.T) {
	database := setupTestDB(t)
	opps := seed(t, database, 3)

	m := NewModel(database, "sam")
	if len(m.opps) != 3 {
		t.Fatalf("expected 3 queued opportunities, got %d", len(m.opps))
	}

	view := m.View()
	if !strings.Contains(view, "COSELL REVIEW QUEUE") {
		t.Error("list view should contain title")
	}
	if !strings.Contains(view, "Queue (3)") {
		t.Error("active tab should show count")
	}
	if !strings.Contains(view, opps[0].PartnerName()) {
		t.Error("list view should show partner names")
	}
}

func TestConfirmMovesOutOfQueue(t *testing.T) {
	database := setupTestDB(t)
	seed(t, database, 2)

	m := NewModel(database, "sam")
	target := m.opps[0]

	m = press(t, m, "c")
	if got := statusOf(t, database, &target); got != models.StatusConfirmed {
		t.Errorf("expected confirmed, got %s", got)
	}
	if len(m.opps) != 1 {
		t.Errorf("expected 1 opportunity left in queue, got %d", len(m.opps))
	}
	if m.isError || !strings.Contains(m.message, "new → confirmed") {
		t.Errorf("unexpected message: %q", m.message)
	}

	actions, err := db.GetOpportunityActions(database, target.ID)
	if err != nil {
		t.Fatalf("Failed to load actions: %v", err)
	}
	last := actions[len(actions)-1]
	if last.PerformedBy != "sam" || last.Type != models.ActionTypeConfirmed {
		t.Errorf("unexpected action: %+v", last)
	}
}

func TestRejectAsksFirst(t *testing.T) {
	database := setupTestDB(t)
	seed(t, database, 1)

	m := NewModel(database, "sam")
	target := m.opps[0]

	m = press(t, m, "r")
	if m.viewMode != ViewConfirmReject {
		t.Fatalf("expected reject confirmation, got view %d", m.viewMode)
	}
	if !strings.Contains(m.View(), "REJECT OPPORTUNITY") {
		t.Error("confirmation should be rendered")
	}

	m = press(t, m, "n")
	if m.viewMode != ViewList {
		t.Errorf("cancel should return to list, got view %d", m.viewMode)
	}
	if got := statusOf(t, database, &target); got != models.StatusNew {
		t.Errorf("cancel should not change status, got %s", got)
	}

	m = press(t, m, "r", "y")
	if got := statusOf(t, database, &target); got != models.StatusRejected {
		t.Errorf("expected rejected, got %s", got)
	}
	if len(m.opps) != 0 {
		t.Errorf("queue should be empty, got %d", len(m.opps))
	}
}

func TestInvalidTransitionShowsError(t *testing.T) {
	database := setupTestDB(t)
	seed(t, database, 1)

	m := NewModel(database, "sam")
	target := m.opps[0]

	m = press(t, m, "s")
	if !m.isError || !strings.Contains(m.message, "cannot move new opportunity to synced") {
		t.Errorf("expected transition error, got %q", m.message)
	}
	if got := statusOf(t, database, &target); got != models.StatusNew {
		t.Errorf("status should be unchanged, got %s", got)
	}
}

func TestTabFiltersByStatus(t *testing.T) {
	database := setupTestDB(t)
	seed(t, database, 3)

	m := NewModel(database, "sam")
	m = press(t, m, "c")

	m = press(t, m, "tab")
	if Tabs[m.tab].Label != "Confirmed" || len(m.opps) != 1 {
		t.Errorf("expected 1 confirmed, got tab %s with %d", Tabs[m.tab].Label, len(m.opps))
	}
	if m.opps[0].Status != models.StatusConfirmed {
		t.Errorf("confirmed tab shows %s", m.opps[0].Status)
	}

	m = press(t, m, "s")
	if len(m.opps) != 0 {
		t.Errorf("synced opportunity should leave the confirmed tab")
	}

	// Synced, Rejected, then All
	m = press(t, m, "tab", "tab", "tab")
	if Tabs[m.tab].Label != "All" || len(m.opps) != 3 {
		t.Errorf("expected all 3, got tab %s with %d", Tabs[m.tab].Label, len(m.opps))
	}

	m = press(t, m, "tab")
	if m.tab != 0 {
		t.Errorf("tab should wrap to the queue, got %d", m.tab)
	}
}

func TestDetailViewNavigation(t *testing.T) {
	database := setupTestDB(t)
	seed(t, database, 2)

	m := NewModel(database, "sam")
	m = press(t, m, "down", "enter")
	if m.viewMode != ViewDetail {
		t.Fatalf("expected detail view, got %d", m.viewMode)
	}
	if m.selectedRow != 1 {
		t.Errorf("expected second row selected, got %d", m.selectedRow)
	}

	view := m.View()
	if !strings.Contains(view, m.opps[1].Communication.Subject) {
		t.Error("detail should show the selected subject")
	}
	if !strings.Contains(view, "BANT") {
		t.Error("detail should show BANT")
	}

	m = press(t, m, "r", "esc")
	if m.viewMode != ViewDetail {
		t.Errorf("cancelled reject from detail should return to detail, got %d", m.viewMode)
	}

	m = press(t, m, "q")
	if m.viewMode != ViewDetail {
		t.Errorf("q should not quit from detail")
	}

	m = press(t, m, "esc")
	if m.viewMode != ViewList {
		t.Errorf("esc should return to list, got %d", m.viewMode)
	}
}

func TestCursorStaysInBounds(t *testing.T) {
	database := setupTestDB(t)
	seed(t, database, 2)

	m := NewModel(database, "sam")
	m = press(t, m, "down", "down", "down", "k", "k", "k")
	if m.selectedRow != 0 {
		t.Errorf("expected row 0, got %d", m.selectedRow)
	}

	m = press(t, m, "down", "c")
	if m.selectedRow != 0 {
		t.Errorf("cursor should clamp after the last row leaves, got %d", m.selectedRow)
	}
}

func TestEmptyQueue(t *testing.T) {
	m := NewModel(setupTestDB(t), "sam")
	if !strings.Contains(m.View(), "No opportunities here.") {
		t.Error("empty queue should say so")
	}
	m = press(t, m, "enter", "c", "r")
	if m.viewMode != ViewList {
		t.Errorf("actions on an empty queue should stay on the list, got %d", m.viewMode)
	}
}
