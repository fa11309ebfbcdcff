// ABOUTME: Tests for CLI helpers, OAuth callback handling, export, and MCP server wiring
// ABOUTME: Uses in-memory SQLite and fixture opportunities; no network or browser
package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/harperreed/cosell/charm"
	"github.com/harperreed/cosell/config"
	"github.com/harperreed/cosell/db"
	"github.com/harperreed/cosell/fixtures"
	"github.com/harperreed/cosell/handlers"
	"github.com/harperreed/cosell/models"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	database.SetMaxOpenConns(1)
	require.NoError(t, db.InitSchema(database))
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestParseWindow(t *testing.T) {
	now := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		from, to string
		days     int
		wantFrom time.Time
		wantTo   time.Time
		wantErr  bool
	}{
		{
			name:     "days back from now",
			days:     7,
			wantFrom: now.AddDate(0, 0, -7),
			wantTo:   now,
		},
		{
			name:     "date-only to covers the whole day",
			to:       "2024-03-05",
			days:     2,
			wantFrom: time.Date(2024, 3, 3, 23, 59, 59, 0, time.UTC),
			wantTo:   time.Date(2024, 3, 5, 23, 59, 59, 0, time.UTC),
		},
		{
			name:     "explicit from wins over days",
			from:     "2024-03-01",
			days:     1,
			wantFrom: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			wantTo:   now,
		},
		{
			name:     "RFC3339 bounds",
			from:     "2024-03-01T09:00:00Z",
			to:       "2024-03-02T17:30:00Z",
			wantFrom: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			wantTo:   time.Date(2024, 3, 2, 17, 30, 0, 0, time.UTC),
		},
		{
			name:     "zero days treated as one",
			wantFrom: now.AddDate(0, 0, -1),
			wantTo:   now,
		},
		{name: "bad from", from: "last week", wantErr: true},
		{name: "bad to", to: "03/08/2024", wantErr: true},
		{name: "from after to", from: "2024-04-01", to: "2024-03-01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := parseWindow(tt.from, tt.to, tt.days, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantFrom.Equal(w.From), "from = %s", w.From)
			assert.True(t, tt.wantTo.Equal(w.To), "to = %s", w.To)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"co-sell", "partner", "joint deal"}, splitList(" co-sell, partner ,,joint deal "))
	assert.Nil(t, splitList(""))
	assert.Nil(t, splitList(" , "))
}

func TestLeadingID(t *testing.T) {
	id, rest := leadingID([]string{"abc", "--status", "confirmed"})
	assert.Equal(t, "abc", id)
	assert.Equal(t, []string{"--status", "confirmed"}, rest)

	id, rest = leadingID([]string{"--status", "confirmed", "abc"})
	assert.Empty(t, id)
	assert.Len(t, rest, 3)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Joint dea…", truncate("Joint deal with Contoso", 10))
	assert.Equal(t, "ü", truncate("üüü", 1))
}

func TestFormatTimeSince(t *testing.T) {
	now := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "just now"},
		{time.Minute, "1 minute ago"},
		{5 * time.Minute, "5 minutes ago"},
		{time.Hour, "1 hour ago"},
		{3 * time.Hour, "3 hours ago"},
		{24 * time.Hour, "1 day ago"},
		{5 * 24 * time.Hour, "5 days ago"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatTimeSince(now.Add(-tt.ago), now))
		})
	}
}

func TestCallbackHandler(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode string
		wantErr  bool
	}{
		{name: "valid code", query: "state=s1&code=abc", wantCode: "abc"},
		{name: "state mismatch", query: "state=other&code=abc", wantErr: true},
		{name: "missing code", query: "state=s1", wantErr: true},
		{name: "provider error", query: "error=access_denied&error_description=nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes := make(chan string, 1)
			errs := make(chan error, 1)
			h := callbackHandler("s1", codes, errs)

			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback?"+tt.query, nil))

			if tt.wantErr {
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Len(t, errs, 1)
				assert.Empty(t, codes)
				return
			}
			assert.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, codes, 1)
			assert.Equal(t, tt.wantCode, <-codes)
		})
	}
}

func TestCallbackHandlerDoesNotBlockOnRepeat(t *testing.T) {
	codes := make(chan string, 1)
	errs := make(chan error, 1)
	h := callbackHandler("s1", codes, errs)

	for i := 0; i < 3; i++ {
		h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/oauth/callback?state=s1&code=abc", nil))
		h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/oauth/callback?state=bad", nil))
	}
	assert.Len(t, codes, 1)
	assert.Len(t, errs, 1)
}

func TestAuthConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Graph.TenantID = "contoso.onmicrosoft.com"
	cfg.Graph.ClientID = "client"
	cfg.Graph.ClientSecret = "secret"
	cfg.Google.ClientID = "gid"
	cfg.Google.ClientSecret = "gsecret"

	ms, err := authConfig(cfg, "microsoft")
	require.NoError(t, err)
	assert.Contains(t, ms.Endpoint.AuthURL, "contoso.onmicrosoft.com")
	assert.Contains(t, ms.Scopes, "https://graph.microsoft.com/Mail.Read")

	_, err = authConfig(cfg, "dynamics")
	assert.ErrorContains(t, err, "DYNAMICS_URL")

	cfg.Dynamics.URL = "https://contoso.crm.dynamics.com/"
	dyn, err := authConfig(cfg, "dynamics")
	require.NoError(t, err)
	assert.Contains(t, dyn.Scopes, "https://contoso.crm.dynamics.com/user_impersonation")

	g, err := authConfig(cfg, "google")
	require.NoError(t, err)
	assert.Equal(t, "gid", g.ClientID)

	_, err = authConfig(cfg, "salesforce")
	assert.Error(t, err)
}

func exportRows(opps []*models.DetectedOpportunity) []models.DetectedOpportunity {
	rows := make([]models.DetectedOpportunity, len(opps))
	for i, o := range opps {
		rows[i] = *o
	}
	return rows
}

func TestWriteCSV(t *testing.T) {
	opps := fixtures.New(5).Opportunities(3)

	var buf bytes.Buffer
	require.NoError(t, writeCSV(&buf, exportRows(opps)))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, models.ExportHeader(), records[0])
	assert.Equal(t, opps[0].ID.String(), records[1][0])
	assert.Equal(t, opps[0].Communication.ID, records[1][1])
}

func TestWriteXLSX(t *testing.T) {
	opps := fixtures.New(5).Opportunities(3)

	var buf bytes.Buffer
	require.NoError(t, writeXLSX(&buf, exportRows(opps)))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{exportSheet}, f.GetSheetList())
	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, models.ExportHeader(), rows[0])
	assert.Equal(t, "confidence", rows[0][confidenceColumn-1])

	for i, opp := range opps {
		assert.Equal(t, opp.ID.String(), rows[i+1][0])
		assert.Equal(t, opp.Communication.ID, rows[i+1][1])
		assert.Equal(t, opp.Status, rows[i+1][2])
	}

	raw, err := f.GetCellValue(exportSheet, "J2", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	got, err := strconv.ParseFloat(raw, 64)
	require.NoError(t, err)
	assert.InDelta(t, opps[0].Confidence, got, 0.005)
}

func TestExportCommandLogsExportedActions(t *testing.T) {
	database := setupTestDB(t)
	b := fixtures.New(6)
	opps := b.Opportunities(2)
	require.NoError(t, db.NewRecorder(database).RecordScan(context.Background(), models.ScanBatch{Session: b.Session(opps), Opportunities: opps}))

	out := filepath.Join(t.TempDir(), "q3.xlsx")
	require.NoError(t, ExportCommand(database, []string{"--output", out, "--by", "lee"}))

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	_ = f.Close()

	for _, opp := range opps {
		actions, err := db.GetOpportunityActions(database, opp.ID)
		require.NoError(t, err)
		last := actions[len(actions)-1]
		assert.Equal(t, models.ActionTypeExported, last.Type)
		assert.Equal(t, "lee", last.PerformedBy)
		assert.Equal(t, "exported as xlsx to q3.xlsx", last.Notes)
	}

	assert.Error(t, ExportCommand(database, []string{"--format", "pdf"}))
}

func TestRefreshHistorySyncsOnlyWhenStale(t *testing.T) {
	kv := charm.NewTestClient(t)
	now := time.Now()

	refreshHistory(kv, now, zap.NewNop())
	first, ok := kv.LastSync()
	require.True(t, ok)

	refreshHistory(kv, now.Add(time.Minute), zap.NewNop())
	again, ok := kv.LastSync()
	require.True(t, ok)
	assert.True(t, first.Equal(again), "fresh history should not sync again")

	refreshHistory(nil, now, zap.NewNop())
}

func TestPrintOpportunity(t *testing.T) {
	isTTY = false
	database := setupTestDB(t)
	b := fixtures.New(9)
	opps := b.Opportunities(1)
	require.NoError(t, db.NewRecorder(database).RecordScan(context.Background(), models.ScanBatch{Session: b.Session(opps), Opportunities: opps}))

	_, err := db.UpdateOpportunityStatus(database, opps[0].ID, models.StatusConfirmed, "looks real", "sam")
	require.NoError(t, err)

	opp, err := db.GetOpportunity(database, opps[0].ID)
	require.NoError(t, err)
	actions, err := db.GetOpportunityActions(database, opps[0].ID)
	require.NoError(t, err)

	var buf bytes.Buffer
	printOpportunity(&buf, opp, actions, false)
	out := buf.String()

	assert.Contains(t, out, opp.Communication.Subject)
	assert.Contains(t, out, opp.ID.String())
	assert.Contains(t, out, "confirmed")
	assert.Contains(t, out, "new → confirmed by sam")
	assert.Contains(t, out, "(looks real)")
	assert.Contains(t, out, "Next: synced, rejected")
}

func TestNewMCPServerRegistersHandlers(t *testing.T) {
	database := setupTestDB(t)
	scan := handlers.NewScanHandlers(database, nil, nil, nil, handlers.ScanDefaults{})

	assert.NotPanics(t, func() {
		server := NewMCPServer(database, scan, "test")
		assert.NotNil(t, server)
	})

	_, _, err := scan.RunScan(context.Background(), nil, handlers.RunScanInput{})
	assert.ErrorContains(t, err, "not configured")
}
