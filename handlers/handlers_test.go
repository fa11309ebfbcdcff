// ABOUTME: Tests for the MCP tool, resource, and prompt handlers
// ABOUTME: Runs a real detector over fixture mail against in-memory SQLite and a Badger-backed history
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/cosell/charm"
	"github.com/harperreed/cosell/db"
	"github.com/harperreed/cosell/detect"
	"github.com/harperreed/cosell/fixtures"
	"github.com/harperreed/cosell/models"
	"github.com/harperreed/cosell/sync"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	database.SetMaxOpenConns(1)
	require.NoError(t, db.InitSchema(database))
	t.Cleanup(func() { database.Close() })
	return database
}

func seedOpportunities(t *testing.T, database *sql.DB, n int) []*models.DetectedOpportunity {
	t.Helper()
	b := fixtures.New(21)
	opps := b.Opportunities(n)
	require.NoError(t, db.NewRecorder(database).RecordScan(context.Background(), models.ScanBatch{Session: b.Session(opps), Opportunities: opps}))
	return opps
}

type mailProvider struct {
	mails []sync.RawCommunication
}

func (p *mailProvider) Fetch(_ context.Context, source models.SourceType, _, _ time.Time) ([]sync.RawCommunication, error) {
	if source != models.SourceEmail {
		return nil, nil
	}
	return p.mails, nil
}

var handlerNow = fixtures.Epoch.Add(20 * 24 * time.Hour)

func newScanHandlers(t *testing.T, database *sql.DB) (*ScanHandlers, *sync.ScanHistory) {
	t.Helper()
	b := fixtures.New(3)
	provider := &mailProvider{mails: []sync.RawCommunication{b.Mail(), b.Mail(), b.PlainMail()}}

	history := sync.NewScanHistory(charm.NewTestClient(t))
	detector := detect.New(detect.Options{
		Sources: map[models.SourceType]detect.SourceProvider{
			models.SourceEmail:   provider,
			models.SourceChat:    provider,
			models.SourceMeeting: provider,
		},
		History: history,
		Clock:   func() time.Time { return handlerNow },
	})

	h := NewScanHandlers(database, detector, db.NewRecorder(database), history, ScanDefaults{})
	h.clock = func() time.Time { return handlerNow }
	return h, history
}

func TestRunScanRecordsSessionAndOpportunities(t *testing.T) {
	database := setupTestDB(t)
	h, _ := newScanHandlers(t, database)

	authorized := false
	h.Authorize = func(ctx context.Context) context.Context {
		authorized = true
		return ctx
	}

	_, out, err := h.RunScan(context.Background(), nil, RunScanInput{Name: "mcp scan", Days: 30})
	require.NoError(t, err)
	assert.True(t, authorized)

	assert.Equal(t, "mcp scan", out.Session.Name)
	assert.Equal(t, models.ScanCompleted, out.Session.Status)
	assert.Equal(t, 3, out.Session.TotalScanned)
	assert.Len(t, out.Opportunities, 2)
	assert.Equal(t, 2, out.Session.Detected)

	_, listed, err := NewOpportunityHandlers(database).ListOpportunities(context.Background(), nil, ListOpportunitiesInput{ScanID: out.Session.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, listed.Count)

	_, sessions, err := h.ListScanSessions(context.Background(), nil, ListScanSessionsInput{})
	require.NoError(t, err)
	require.Equal(t, 1, sessions.Count)
	assert.Equal(t, out.Session.ID, sessions.Sessions[0].ID)
}

func TestRunScanDryRunLeavesNoTrace(t *testing.T) {
	database := setupTestDB(t)
	h, history := newScanHandlers(t, database)

	_, out, err := h.RunScan(context.Background(), nil, RunScanInput{DryRun: true, Days: 30})
	require.NoError(t, err)
	assert.Len(t, out.Opportunities, 2)

	sessions, err := db.ListScanSessions(database, 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	snap, err := history.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.BySource)
}

func TestRunScanInputValidation(t *testing.T) {
	h, _ := newScanHandlers(t, setupTestDB(t))

	tests := []struct {
		name  string
		input RunScanInput
	}{
		{"bad from", RunScanInput{From: "yesterday"}},
		{"bad to", RunScanInput{To: "03/01/2024"}},
		{"bad source", RunScanInput{Sources: []string{"fax"}}},
		{"inverted window", RunScanInput{From: "2024-04-01T00:00:00Z", To: "2024-03-01T00:00:00Z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := h.RunScan(context.Background(), nil, tt.input)
			assert.Error(t, err)
		})
	}
}

func TestBuildScanRequestDefaults(t *testing.T) {
	h := NewScanHandlers(nil, nil, nil, nil, ScanDefaults{Days: 3})
	h.clock = func() time.Time { return handlerNow }

	req, err := h.buildScanRequest(RunScanInput{Sources: []string{"teams", "mail"}})
	require.NoError(t, err)
	assert.True(t, req.Window.To.Equal(handlerNow))
	assert.True(t, req.Window.From.Equal(handlerNow.AddDate(0, 0, -3)))
	assert.Equal(t, []models.SourceType{models.SourceChat, models.SourceEmail}, req.Sources)
	assert.Equal(t, detect.DefaultKeywords, req.Keywords)
}

func TestScanHistoryToolReportsAndClears(t *testing.T) {
	database := setupTestDB(t)
	h, history := newScanHandlers(t, database)
	require.NoError(t, history.UpdateScanDate(models.SourceEmail, handlerNow))
	require.NoError(t, history.UpdateFullScanDate(handlerNow))

	_, out, err := h.ScanHistory(context.Background(), nil, ScanHistoryInput{})
	require.NoError(t, err)
	assert.Equal(t, handlerNow.Format(time.RFC3339), out.BySource["email"])
	assert.Equal(t, handlerNow.Format(time.RFC3339), out.LastFull)

	_, out, err = h.ScanHistory(context.Background(), nil, ScanHistoryInput{Clear: true})
	require.NoError(t, err)
	assert.True(t, out.Cleared)
	assert.Empty(t, out.BySource)
	assert.Empty(t, out.LastFull)
}

func TestGetAndReviewOpportunity(t *testing.T) {
	database := setupTestDB(t)
	opps := seedOpportunities(t, database, 2)
	h := NewOpportunityHandlers(database)
	id := opps[0].ID.String()

	_, detail, err := h.GetOpportunity(context.Background(), nil, GetOpportunityInput{ID: id})
	require.NoError(t, err)
	assert.Equal(t, id, detail.Opportunity.ID)
	assert.Equal(t, opps[0].Communication.Content, detail.Content)
	require.NotNil(t, detail.BANT)
	assert.Equal(t, opps[0].BANT.Score, detail.BANT.Score)
	assert.ElementsMatch(t, []string{models.StatusReview, models.StatusConfirmed, models.StatusRejected}, detail.NextStatus)
	require.Len(t, detail.Actions, 1)

	_, reviewed, err := h.ReviewOpportunity(context.Background(), nil, ReviewOpportunityInput{ID: id, Status: models.StatusConfirmed, Reviewer: "sam"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, reviewed.PreviousStatus)
	assert.Equal(t, models.StatusConfirmed, reviewed.Status)

	_, synced, err := h.ReviewOpportunity(context.Background(), nil, ReviewOpportunityInput{ID: id, Status: models.StatusSynced, CRMID: "crm-9", Reviewer: "lee"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionTypeSynced, synced.ActionType)

	actions, err := db.GetOpportunityActions(database, opps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "lee", actions[len(actions)-1].PerformedBy)

	_, _, err = h.ReviewOpportunity(context.Background(), nil, ReviewOpportunityInput{ID: id, Status: models.StatusNew})
	assert.ErrorIs(t, err, db.ErrInvalidTransition)
}

func TestOpportunityHandlerErrors(t *testing.T) {
	h := NewOpportunityHandlers(setupTestDB(t))

	_, _, err := h.GetOpportunity(context.Background(), nil, GetOpportunityInput{ID: "not-a-uuid"})
	assert.Error(t, err)

	_, _, err = h.GetOpportunity(context.Background(), nil, GetOpportunityInput{ID: "7f1c1e52-7a55-4f5b-9d5e-2b1c7c0c8e11"})
	assert.ErrorContains(t, err, "not found")

	_, _, err = h.ListOpportunities(context.Background(), nil, ListOpportunitiesInput{Status: "archived"})
	assert.Error(t, err)

	_, _, err = h.ReviewOpportunity(context.Background(), nil, ReviewOpportunityInput{ID: "7f1c1e52-7a55-4f5b-9d5e-2b1c7c0c8e11"})
	assert.ErrorContains(t, err, "status is required")
}

func TestReadResources(t *testing.T) {
	database := setupTestDB(t)
	opps := seedOpportunities(t, database, 3)
	h := NewResourceHandlers(database)

	read := func(uri string) string {
		t.Helper()
		res, err := h.ReadResource(context.Background(), &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: uri}})
		require.NoError(t, err)
		require.Len(t, res.Contents, 1)
		assert.Equal(t, "application/json", res.Contents[0].MIMEType)
		return res.Contents[0].Text
	}

	var queue []OpportunityOutput
	require.NoError(t, json.Unmarshal([]byte(read("cosell://opportunities")), &queue))
	assert.Len(t, queue, 3)

	var opp models.DetectedOpportunity
	require.NoError(t, json.Unmarshal([]byte(read("cosell://opportunities/"+opps[1].ID.String())), &opp))
	assert.Equal(t, opps[1].ID, opp.ID)

	var stats db.Stats
	require.NoError(t, json.Unmarshal([]byte(read("cosell://stats")), &stats))
	assert.Equal(t, 3, stats.Total)

	assert.Contains(t, read("cosell://sessions"), opps[0].ScanID)

	_, err := h.ReadResource(context.Background(), &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "crm://contacts"}})
	assert.Error(t, err)
	_, err = h.ReadResource(context.Background(), &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "cosell://nothing"}})
	assert.Error(t, err)
}

func TestPrompts(t *testing.T) {
	database := setupTestDB(t)
	opps := seedOpportunities(t, database, 2)
	h := NewPromptHandlers(database)

	res, err := h.GetPrompt(context.Background(), &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "triage-opportunities"}})
	require.NoError(t, err)
	text := res.Messages[0].Content.(*mcp.TextContent).Text
	assert.Contains(t, text, opps[0].ID.String())
	assert.Contains(t, text, opps[1].ID.String())

	res, err = h.GetPrompt(context.Background(), &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{
		Name:      "opportunity-brief",
		Arguments: map[string]string{"opportunity_id": opps[0].ID.String()},
	}})
	require.NoError(t, err)
	text = res.Messages[0].Content.(*mcp.TextContent).Text
	assert.Contains(t, text, opps[0].Communication.Subject)
	assert.Contains(t, text, "BANT score")

	_, err = h.GetPrompt(context.Background(), &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "opportunity-brief"}})
	assert.Error(t, err)
	_, err = h.GetPrompt(context.Background(), &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "nope"}})
	assert.Error(t, err)
}
