// ABOUTME: Scan MCP tool handlers
// ABOUTME: Implements run_scan, scan_history, and list_scan_sessions tools
package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/cosell/db"
	"github.com/harperreed/cosell/detect"
	"github.com/harperreed/cosell/models"
	"github.com/harperreed/cosell/sync"
)

// Scanner runs and records a detection pass.
type Scanner interface {
	Scan(ctx context.Context, req detect.ScanRequest, rec detect.Recorder) (*models.ScanSession, *detect.Result, error)
}

// HistoryStore is the scan history the tools report on and clear.
type HistoryStore interface {
	Snapshot() (*sync.History, error)
	Clear() error
}

// ScanDefaults fill in run_scan inputs the caller leaves empty.
type ScanDefaults struct {
	Keywords []string
	Sources  []models.SourceType
	Days     int
}

type ScanHandlers struct {
	db       *sql.DB
	scanner  Scanner
	recorder detect.Recorder
	history  HistoryStore
	defaults ScanDefaults
	clock    func() time.Time

	// Authorize attaches request-scoped credentials before a scan runs.
	Authorize func(ctx context.Context) context.Context
}

func NewScanHandlers(database *sql.DB, scanner Scanner, recorder detect.Recorder, history HistoryStore, defaults ScanDefaults) *ScanHandlers {
	if len(defaults.Keywords) == 0 {
		defaults.Keywords = detect.DefaultKeywords
	}
	if len(defaults.Sources) == 0 {
		defaults.Sources = models.AllSources
	}
	if defaults.Days < 1 {
		defaults.Days = 7
	}
	return &ScanHandlers{
		db:       database,
		scanner:  scanner,
		recorder: recorder,
		history:  history,
		defaults: defaults,
		clock:    time.Now,
	}
}

type RunScanInput struct {
	Name        string   `json:"name,omitempty" jsonschema:"Session name (default: Scan <date>)"`
	Days        int      `json:"days,omitempty" jsonschema:"Scan the last N days when from is not given"`
	From        string   `json:"from,omitempty" jsonschema:"Window start in ISO 8601 format"`
	To          string   `json:"to,omitempty" jsonschema:"Window end in ISO 8601 format (default now)"`
	Sources     []string `json:"sources,omitempty" jsonschema:"Sources to scan: email, chat, meeting (default all)"`
	Keywords    []string `json:"keywords,omitempty" jsonschema:"Co-sell keywords (default configured keywords)"`
	Incremental bool     `json:"incremental,omitempty" jsonschema:"Start each source at its last successful scan"`
	DryRun      bool     `json:"dry_run,omitempty" jsonschema:"Detect without recording or advancing scan history"`
}

type ScanSessionOutput struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	Status          string   `json:"status"`
	DateFrom        string   `json:"date_from"`
	DateTo          string   `json:"date_to"`
	Sources         []string `json:"sources"`
	Keywords        []string `json:"keywords"`
	TotalScanned    int      `json:"total_scanned"`
	Detected        int      `json:"detected"`
	High            int      `json:"high"`
	Medium          int      `json:"medium"`
	Low             int      `json:"low"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	StartedAt       string   `json:"started_at"`
	DurationSeconds int      `json:"duration_seconds"`
}

type RunScanOutput struct {
	Session            ScanSessionOutput   `json:"session"`
	Opportunities      []OpportunityOutput `json:"opportunities"`
	Skipped            int                 `json:"skipped"`
	ExtractionFailures int                 `json:"extraction_failures"`
	SourceFailures     []string            `json:"source_failures,omitempty"`
	CRMLookups         int                 `json:"crm_lookups"`
	CRMFailures        int                 `json:"crm_failures"`
}

func sessionToOutput(s *models.ScanSession) ScanSessionOutput {
	sources := make([]string, len(s.Sources))
	for i, src := range s.Sources {
		sources[i] = string(src)
	}
	return ScanSessionOutput{
		ID:              s.ID,
		Name:            s.Name,
		Type:            s.Type,
		Status:          s.Status,
		DateFrom:        s.DateFrom.Format(time.RFC3339),
		DateTo:          s.DateTo.Format(time.RFC3339),
		Sources:         sources,
		Keywords:        s.Keywords,
		TotalScanned:    s.TotalScanned,
		Detected:        s.Detected,
		High:            s.Counts.High,
		Medium:          s.Counts.Medium,
		Low:             s.Counts.Low,
		ErrorMessage:    s.ErrorMessage,
		StartedAt:       s.StartedAt.Format(time.RFC3339),
		DurationSeconds: s.DurationSeconds,
	}
}

// buildScanRequest resolves the window, sources, and keywords of a run_scan call.
func (h *ScanHandlers) buildScanRequest(input RunScanInput) (detect.ScanRequest, error) {
	to := h.clock()
	if input.To != "" {
		t, err := time.Parse(time.RFC3339, input.To)
		if err != nil {
			return detect.ScanRequest{}, fmt.Errorf("invalid to format (use ISO 8601/RFC3339): %w", err)
		}
		to = t
	}

	days := input.Days
	if days < 1 {
		days = h.defaults.Days
	}
	from := to.AddDate(0, 0, -days)
	if input.From != "" {
		t, err := time.Parse(time.RFC3339, input.From)
		if err != nil {
			return detect.ScanRequest{}, fmt.Errorf("invalid from format (use ISO 8601/RFC3339): %w", err)
		}
		from = t
	}

	sources := h.defaults.Sources
	if len(input.Sources) > 0 {
		parsed, err := models.ParseSourceList(strings.Join(input.Sources, ","))
		if err != nil {
			return detect.ScanRequest{}, err
		}
		sources = parsed
	}

	keywords := h.defaults.Keywords
	if len(input.Keywords) > 0 {
		keywords = input.Keywords
	}

	return detect.ScanRequest{
		DetectRequest: detect.DetectRequest{
			Window:      detect.Window{From: from, To: to},
			Sources:     sources,
			Keywords:    keywords,
			Incremental: input.Incremental,
			DryRun:      input.DryRun,
		},
		Name: input.Name,
	}, nil
}

func (h *ScanHandlers) RunScan(ctx context.Context, request *mcp.CallToolRequest, input RunScanInput) (*mcp.CallToolResult, RunScanOutput, error) {
	if h.scanner == nil {
		return nil, RunScanOutput{}, fmt.Errorf("scanning is not configured")
	}

	req, err := h.buildScanRequest(input)
	if err != nil {
		return nil, RunScanOutput{}, err
	}

	if h.Authorize != nil {
		ctx = h.Authorize(ctx)
	}

	session, res, err := h.scanner.Scan(ctx, req, h.recorder)
	if err != nil {
		return nil, RunScanOutput{}, fmt.Errorf("scan failed: %w", err)
	}

	out := RunScanOutput{
		Session:            sessionToOutput(session),
		Opportunities:      make([]OpportunityOutput, 0, len(res.Opportunities)),
		Skipped:            res.Skipped,
		ExtractionFailures: res.ExtractionFailures,
		CRMLookups:         res.Validation.Lookups,
		CRMFailures:        res.Validation.Failures,
	}
	for _, opp := range res.Opportunities {
		out.Opportunities = append(out.Opportunities, opportunityToOutput(opp))
	}
	for _, f := range res.SourceFailures {
		out.SourceFailures = append(out.SourceFailures, f.Error())
	}
	return nil, out, nil
}

type ScanHistoryInput struct {
	Clear bool `json:"clear,omitempty" jsonschema:"Clear all scan history so the next incremental scan starts from the window start"`
}

type ScanHistoryOutput struct {
	BySource map[string]string `json:"by_source"`
	LastFull string            `json:"last_full,omitempty"`
	Cleared  bool              `json:"cleared,omitempty"`
}

func (h *ScanHandlers) ScanHistory(_ context.Context, request *mcp.CallToolRequest, input ScanHistoryInput) (*mcp.CallToolResult, ScanHistoryOutput, error) {
	if h.history == nil {
		return nil, ScanHistoryOutput{}, fmt.Errorf("scan history is not configured")
	}

	if input.Clear {
		if err := h.history.Clear(); err != nil {
			return nil, ScanHistoryOutput{}, fmt.Errorf("failed to clear scan history: %w", err)
		}
	}

	snap, err := h.history.Snapshot()
	if err != nil {
		return nil, ScanHistoryOutput{}, fmt.Errorf("failed to read scan history: %w", err)
	}

	out := ScanHistoryOutput{BySource: make(map[string]string), Cleared: input.Clear}
	for source, t := range snap.BySource {
		out.BySource[string(source)] = t.Format(time.RFC3339)
	}
	if snap.LastFull != nil {
		out.LastFull = snap.LastFull.Format(time.RFC3339)
	}
	return nil, out, nil
}

type ListScanSessionsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum sessions to return (default 20)"`
}

type ListScanSessionsOutput struct {
	Sessions []ScanSessionOutput `json:"sessions"`
	Count    int                 `json:"count"`
}

func (h *ScanHandlers) ListScanSessions(_ context.Context, request *mcp.CallToolRequest, input ListScanSessionsInput) (*mcp.CallToolResult, ListScanSessionsOutput, error) {
	sessions, err := db.ListScanSessions(h.db, input.Limit)
	if err != nil {
		return nil, ListScanSessionsOutput{}, fmt.Errorf("failed to list scan sessions: %w", err)
	}

	out := ListScanSessionsOutput{Sessions: make([]ScanSessionOutput, 0, len(sessions))}
	for i := range sessions {
		out.Sessions = append(out.Sessions, sessionToOutput(&sessions[i]))
	}
	out.Count = len(out.Sessions)
	return nil, out, nil
}
