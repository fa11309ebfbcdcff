// ABOUTME: MCP resource handlers exposing detected opportunities and scan sessions
// ABOUTME: Provides read-only JSON views via cosell:// URIs
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/cosell/db"
)

const resourceScheme = "cosell://"

type ResourceHandlers struct {
	db *sql.DB
}

func NewResourceHandlers(database *sql.DB) *ResourceHandlers {
	return &ResourceHandlers{db: database}
}

// ReadResource handles resource read requests
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, resourceScheme) {
		return nil, fmt.Errorf("invalid URI scheme: expected %s", resourceScheme)
	}

	parts := strings.Split(strings.TrimPrefix(uri, resourceScheme), "/")
	switch parts[0] {
	case "opportunities":
		if len(parts) == 1 || parts[1] == "" {
			return h.readQueue(uri)
		}
		return h.readOpportunity(uri, parts[1])
	case "sessions":
		return h.readSessions(uri)
	case "stats":
		return h.readStats(uri)
	default:
		return nil, mcp.ResourceNotFoundError(uri)
	}
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}

// readQueue returns opportunities still awaiting review.
func (h *ResourceHandlers) readQueue(uri string) (*mcp.ReadResourceResult, error) {
	var queue []OpportunityOutput
	for _, status := range []string{"new", "review"} {
		opps, err := db.FindOpportunities(h.db, db.OpportunityFilter{Status: status, Limit: 500})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch opportunities: %w", err)
		}
		for i := range opps {
			queue = append(queue, opportunityToOutput(&opps[i]))
		}
	}
	return jsonResource(uri, queue)
}

func (h *ResourceHandlers) readOpportunity(uri, idStr string) (*mcp.ReadResourceResult, error) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid opportunity ID: %w", err)
	}
	opp, err := db.GetOpportunity(h.db, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch opportunity: %w", err)
	}
	if opp == nil {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	return jsonResource(uri, opp)
}

func (h *ResourceHandlers) readSessions(uri string) (*mcp.ReadResourceResult, error) {
	sessions, err := db.ListScanSessions(h.db, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch scan sessions: %w", err)
	}
	return jsonResource(uri, sessions)
}

func (h *ResourceHandlers) readStats(uri string) (*mcp.ReadResourceResult, error) {
	stats, err := db.OpportunityStats(h.db)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return jsonResource(uri, stats)
}
