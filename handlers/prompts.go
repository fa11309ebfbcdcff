// ABOUTME: MCP prompt handlers for co-sell review workflows
// ABOUTME: Builds triage and briefing prompts from stored opportunities
package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/cosell/db"
	"github.com/harperreed/cosell/models"
)

type PromptHandlers struct {
	db *sql.DB
}

func NewPromptHandlers(database *sql.DB) *PromptHandlers {
	return &PromptHandlers{db: database}
}

// GetPrompt generates the prompt message based on the template
func (h *PromptHandlers) GetPrompt(ctx context.Context, request *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	switch request.Params.Name {
	case "triage-opportunities":
		return h.getTriagePrompt(request.Params.Arguments)
	case "opportunity-brief":
		return h.getBriefPrompt(request.Params.Arguments)
	default:
		return nil, fmt.Errorf("unknown prompt: %s", request.Params.Name)
	}
}

func userPrompt(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: text},
			},
		},
	}
}

func (h *PromptHandlers) getTriagePrompt(args map[string]string) (*mcp.GetPromptResult, error) {
	opps, err := db.FindOpportunities(h.db, db.OpportunityFilter{Status: models.StatusNew, Limit: 25})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch opportunities: %w", err)
	}

	var b strings.Builder
	b.WriteString("Please triage these newly detected co-sell opportunities:\n\n")
	if len(opps) == 0 {
		b.WriteString("(none awaiting review)\n")
	}
	for _, o := range opps {
		fmt.Fprintf(&b, "- %s | %s | partner: %s | customer: %s | confidence %.0f%% | crm: %s\n",
			o.ID, o.Communication.Subject, orNone(o.PartnerName()), orNone(o.CustomerName()), o.Confidence*100, o.CRMAction)
		if o.Summary != "" {
			fmt.Fprintf(&b, "  %s\n", o.Summary)
		}
	}

	b.WriteString("\nFor each opportunity, recommend one of: confirm, reject, or needs review.")
	b.WriteString("\nPrefer reject when neither a partner nor a customer was identified.")
	b.WriteString("\nFlag any that link to an existing CRM opportunity so the referral is not duplicated.")
	if focus := args["focus"]; focus != "" {
		fmt.Fprintf(&b, "\nFocus on: %s", focus)
	}

	return userPrompt(fmt.Sprintf("Triage of %d new opportunities", len(opps)), b.String()), nil
}

func (h *PromptHandlers) getBriefPrompt(args map[string]string) (*mcp.GetPromptResult, error) {
	idStr, ok := args["opportunity_id"]
	if !ok {
		return nil, fmt.Errorf("opportunity_id is required")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid opportunity_id: %w", err)
	}

	opp, err := db.GetOpportunity(h.db, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch opportunity: %w", err)
	}
	if opp == nil {
		return nil, fmt.Errorf("opportunity not found: %s", idStr)
	}

	var b strings.Builder
	b.WriteString("Please write a short co-sell brief for this opportunity:\n\n")
	fmt.Fprintf(&b, "Subject: %s\n", opp.Communication.Subject)
	fmt.Fprintf(&b, "From: %s (%s, %s)\n", opp.Communication.From, opp.Communication.Type, opp.Communication.OccurredAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "Partner: %s\n", orNone(opp.PartnerName()))
	fmt.Fprintf(&b, "Customer: %s\n", orNone(opp.CustomerName()))
	if opp.SolutionArea != "" {
		fmt.Fprintf(&b, "Solution area: %s\n", opp.SolutionArea)
	}
	if opp.ExistingOpportunityName != "" {
		fmt.Fprintf(&b, "Existing CRM opportunity: %s\n", opp.ExistingOpportunityName)
	}
	if opp.BANT != nil {
		fmt.Fprintf(&b, "BANT score: %d/100", opp.BANT.Score)
		if len(opp.BANT.MissingElements) > 0 {
			fmt.Fprintf(&b, " (missing: %s)", strings.Join(opp.BANT.MissingElements, ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nContent:\n%s\n", opp.Communication.Content)

	b.WriteString("\nPlease provide:")
	b.WriteString("\n1. A two-sentence summary of the joint opportunity")
	b.WriteString("\n2. The open qualification questions")
	b.WriteString("\n3. A suggested next step with the partner")

	return userPrompt(fmt.Sprintf("Brief for %s", opp.Communication.Subject), b.String()), nil
}

func orNone(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
