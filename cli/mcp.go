// ABOUTME: MCP server subcommand
// ABOUTME: Registers scan and review tools, resources, and prompts, then serves on stdio
package cli

import (
	"context"
	"database/sql"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/harperreed/cosell/charm"
	"github.com/harperreed/cosell/config"
	"github.com/harperreed/cosell/handlers"
	"github.com/harperreed/cosell/sync"
)

// NewMCPServer builds the cosell MCP server. Scan handlers without a scanner leave
// run_scan reporting that scanning is not configured.
func NewMCPServer(database *sql.DB, scan *handlers.ScanHandlers, version string) *mcp.Server {
	opportunityHandlers := handlers.NewOpportunityHandlers(database)
	resourceHandlers := handlers.NewResourceHandlers(database)
	promptHandlers := handlers.NewPromptHandlers(database)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "cosell",
		Version: version,
	}, nil)

	// Tools
	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_scan",
		Description: "Scan email, Teams chats, and meeting transcripts for partner co-sell opportunities and record the session",
	}, scan.RunScan)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_opportunities",
		Description: "List detected co-sell opportunities with optional status, CRM action, partner, customer, and confidence filters",
	}, opportunityHandlers.ListOpportunities)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_opportunity",
		Description: "Get one opportunity with its communication content, BANT qualification, and review history",
	}, opportunityHandlers.GetOpportunity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "review_opportunity",
		Description: "Move an opportunity through review: review, confirmed, rejected, or synced (with crm_id)",
	}, opportunityHandlers.ReviewOpportunity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "scan_history",
		Description: "Show when each source was last scanned successfully, optionally clearing the history",
	}, scan.ScanHistory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_scan_sessions",
		Description: "List recorded scan sessions, newest first",
	}, scan.ListScanSessions)

	// Resources
	server.AddResource(&mcp.Resource{
		URI:         "cosell://opportunities",
		Name:        "Review queue",
		Description: "Opportunities with status new or review",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "cosell://opportunities/{id}",
		Name:        "Opportunity",
		Description: "One detected opportunity by ID",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResource(&mcp.Resource{
		URI:         "cosell://sessions",
		Name:        "Scan sessions",
		Description: "Recent scan sessions",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResource(&mcp.Resource{
		URI:         "cosell://stats",
		Name:        "Opportunity stats",
		Description: "Counts by status, CRM action, and confidence bucket",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	// Prompts
	server.AddPrompt(&mcp.Prompt{
		Name:        "triage-opportunities",
		Description: "Triage newly detected co-sell opportunities",
		Arguments: []*mcp.PromptArgument{
			{Name: "focus", Description: "Optional partner, customer, or solution area to focus on"},
		},
	}, promptHandlers.GetPrompt)

	server.AddPrompt(&mcp.Prompt{
		Name:        "opportunity-brief",
		Description: "Write a co-sell brief for one opportunity",
		Arguments: []*mcp.PromptArgument{
			{Name: "opportunity_id", Description: "Opportunity ID", Required: true},
		},
	}, promptHandlers.GetPrompt)

	return server
}

// MCPCommand starts the MCP server on stdio.
func MCPCommand(database *sql.DB, cfg *config.Config, logger *zap.Logger, version string) error {
	logger.Info("starting cosell MCP server")
	ctx := context.Background()

	defaults := handlers.ScanDefaults{
		Keywords: cfg.Scan.Keywords,
		Sources:  cfg.Sources(),
		Days:     cfg.Scan.DefaultDays,
	}

	var scan *handlers.ScanHandlers
	p, err := newPipeline(ctx, database, cfg, logger)
	if err != nil {
		logger.Warn("scanning disabled", zap.Error(err))

		var history handlers.HistoryStore
		if kv, kvErr := charm.GetClient(cfg.KVClientConfig()); kvErr == nil {
			history = sync.NewScanHistory(kv)
		}
		scan = handlers.NewScanHandlers(database, nil, nil, history, defaults)
	} else {
		defer func() { _ = p.Close() }()
		scan = handlers.NewScanHandlers(database, p.detector, p.recorder, p.history, defaults)
		scan.Authorize = p.authorize
	}

	server := NewMCPServer(database, scan, version)
	return server.Run(ctx, &mcp.StdioTransport{})
}
