// ABOUTME: Opportunity MCP tool handlers
// ABOUTME: Implements list_opportunities, get_opportunity, and review_opportunity tools
package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/cosell/db"
	"github.com/harperreed/cosell/models"
)

type OpportunityHandlers struct {
	db *sql.DB
}

func NewOpportunityHandlers(database *sql.DB) *OpportunityHandlers {
	return &OpportunityHandlers{db: database}
}

type OpportunityOutput struct {
	ID                      string   `json:"id"`
	ScanID                  string   `json:"scan_id,omitempty"`
	CommunicationID         string   `json:"communication_id"`
	CommunicationType       string   `json:"communication_type"`
	Subject                 string   `json:"subject"`
	From                    string   `json:"from"`
	Date                    string   `json:"date"`
	Partner                 string   `json:"partner,omitempty"`
	PartnerConfidence       float64  `json:"partner_confidence,omitempty"`
	Customer                string   `json:"customer,omitempty"`
	CustomerConfidence      float64  `json:"customer_confidence,omitempty"`
	SolutionArea            string   `json:"solution_area,omitempty"`
	Summary                 string   `json:"summary"`
	MatchedKeywords         []string `json:"matched_keywords"`
	Confidence              float64  `json:"confidence"`
	ConfidenceBucket        string   `json:"confidence_bucket"`
	Status                  string   `json:"status"`
	CRMAction               string   `json:"crm_action"`
	ExistingOpportunityID   string   `json:"existing_opportunity_id,omitempty"`
	ExistingOpportunityName string   `json:"existing_opportunity_name,omitempty"`
	ExistingReferralID      string   `json:"existing_referral_id,omitempty"`
	Notes                   string   `json:"notes,omitempty"`
}

type BANTOutput struct {
	Score           int      `json:"score"`
	MissingElements []string `json:"missing_elements"`
	BudgetUSD       float64  `json:"budget_usd,omitempty"`
	Authority       string   `json:"authority,omitempty"`
	Need            string   `json:"need,omitempty"`
	Timeline        string   `json:"timeline,omitempty"`
	Urgency         string   `json:"urgency,omitempty"`
}

type ActionOutput struct {
	Type           string `json:"type"`
	PreviousStatus string `json:"previous_status,omitempty"`
	NewStatus      string `json:"new_status,omitempty"`
	Notes          string `json:"notes,omitempty"`
	PerformedBy    string `json:"performed_by,omitempty"`
	PerformedAt    string `json:"performed_at"`
}

func opportunityToOutput(opp *models.DetectedOpportunity) OpportunityOutput {
	out := OpportunityOutput{
		ID:                      opp.ID.String(),
		ScanID:                  opp.ScanID,
		CommunicationID:         opp.Communication.ID,
		CommunicationType:       string(opp.Communication.Type),
		Subject:                 opp.Communication.Subject,
		From:                    opp.Communication.From,
		Date:                    opp.Communication.OccurredAt.Format(time.RFC3339),
		SolutionArea:            string(opp.SolutionArea),
		Summary:                 opp.Summary,
		MatchedKeywords:         opp.MatchedKeywords,
		Confidence:              opp.Confidence,
		ConfidenceBucket:        models.BucketFor(opp.Confidence),
		Status:                  opp.Status,
		CRMAction:               string(opp.CRMAction),
		ExistingOpportunityID:   opp.ExistingOpportunityID,
		ExistingOpportunityName: opp.ExistingOpportunityName,
		ExistingReferralID:      opp.ExistingReferralID,
		Notes:                   opp.Notes,
	}
	if opp.Partner != nil {
		out.Partner = opp.Partner.Name
		out.PartnerConfidence = opp.Partner.Confidence
	}
	if opp.Customer != nil {
		out.Customer = opp.Customer.Name
		out.CustomerConfidence = opp.Customer.Confidence
	}
	return out
}

func bantToOutput(b *models.BANT) *BANTOutput {
	if b == nil {
		return nil
	}
	out := &BANTOutput{Score: b.Score, MissingElements: b.MissingElements}
	if b.Budget != nil {
		out.BudgetUSD = b.Budget.AmountUSD
	}
	if b.Authority != nil {
		var who []string
		for _, c := range []*models.Contact{b.Authority.CustomerContact, b.Authority.PartnerContact} {
			if c == nil {
				continue
			}
			who = append(who, strings.TrimSpace(c.Name+" "+c.Title))
		}
		out.Authority = strings.Join(who, "; ")
	}
	if b.Need != nil {
		out.Need = b.Need.Description
	}
	if b.Timeline != nil {
		out.Timeline = b.Timeline.Timeframe
		out.Urgency = b.Timeline.Urgency
	}
	return out
}

type ListOpportunitiesInput struct {
	Status        string  `json:"status,omitempty" jsonschema:"Filter by status: new, review, confirmed, synced, rejected"`
	CRMAction     string  `json:"crm_action,omitempty" jsonschema:"Filter by CRM action: create, link, already_linked"`
	Partner       string  `json:"partner,omitempty" jsonschema:"Partner name substring"`
	Customer      string  `json:"customer,omitempty" jsonschema:"Customer name substring"`
	ScanID        string  `json:"scan_id,omitempty" jsonschema:"Only opportunities from this scan session"`
	MinConfidence float64 `json:"min_confidence,omitempty" jsonschema:"Minimum confidence between 0 and 1"`
	Limit         int     `json:"limit,omitempty" jsonschema:"Maximum results (default 50)"`
}

type ListOpportunitiesOutput struct {
	Opportunities []OpportunityOutput `json:"opportunities"`
	Count         int                 `json:"count"`
}

func (h *OpportunityHandlers) ListOpportunities(_ context.Context, request *mcp.CallToolRequest, input ListOpportunitiesInput) (*mcp.CallToolResult, ListOpportunitiesOutput, error) {
	if input.Status != "" && !models.IsValidStatus(input.Status) {
		return nil, ListOpportunitiesOutput{}, fmt.Errorf("invalid status: %s (valid: new, review, confirmed, synced, rejected)", input.Status)
	}

	opps, err := db.FindOpportunities(h.db, db.OpportunityFilter{
		Status:        input.Status,
		CRMAction:     models.CRMAction(input.CRMAction),
		ScanID:        input.ScanID,
		Partner:       input.Partner,
		Customer:      input.Customer,
		MinConfidence: input.MinConfidence,
		Limit:         input.Limit,
	})
	if err != nil {
		return nil, ListOpportunitiesOutput{}, fmt.Errorf("failed to list opportunities: %w", err)
	}

	out := ListOpportunitiesOutput{Opportunities: make([]OpportunityOutput, 0, len(opps))}
	for i := range opps {
		out.Opportunities = append(out.Opportunities, opportunityToOutput(&opps[i]))
	}
	out.Count = len(out.Opportunities)
	return nil, out, nil
}

type GetOpportunityInput struct {
	ID string `json:"id" jsonschema:"Opportunity ID (required)"`
}

type OpportunityDetailOutput struct {
	Opportunity OpportunityOutput `json:"opportunity"`
	Content     string            `json:"content"`
	BANT        *BANTOutput       `json:"bant,omitempty"`
	NextStatus  []string          `json:"next_status"`
	Actions     []ActionOutput    `json:"actions"`
}

func (h *OpportunityHandlers) GetOpportunity(_ context.Context, request *mcp.CallToolRequest, input GetOpportunityInput) (*mcp.CallToolResult, OpportunityDetailOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, OpportunityDetailOutput{}, fmt.Errorf("invalid id: %w", err)
	}

	opp, err := db.GetOpportunity(h.db, id)
	if err != nil {
		return nil, OpportunityDetailOutput{}, fmt.Errorf("failed to get opportunity: %w", err)
	}
	if opp == nil {
		return nil, OpportunityDetailOutput{}, fmt.Errorf("opportunity not found: %s", input.ID)
	}

	actions, err := db.GetOpportunityActions(h.db, id)
	if err != nil {
		return nil, OpportunityDetailOutput{}, fmt.Errorf("failed to get actions: %w", err)
	}

	out := OpportunityDetailOutput{
		Opportunity: opportunityToOutput(opp),
		Content:     opp.Communication.Content,
		BANT:        bantToOutput(opp.BANT),
		NextStatus:  db.NextStatuses(opp.Status),
		Actions:     make([]ActionOutput, 0, len(actions)),
	}
	for _, a := range actions {
		out.Actions = append(out.Actions, ActionOutput{
			Type:           a.Type,
			PreviousStatus: a.PreviousStatus,
			NewStatus:      a.NewStatus,
			Notes:          a.Notes,
			PerformedBy:    a.PerformedBy,
			PerformedAt:    a.PerformedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

type ReviewOpportunityInput struct {
	ID       string `json:"id" jsonschema:"Opportunity ID (required)"`
	Status   string `json:"status" jsonschema:"New status: review, confirmed, rejected, synced (required)"`
	Notes    string `json:"notes,omitempty" jsonschema:"Reviewer notes"`
	Reviewer string `json:"reviewer,omitempty" jsonschema:"Who performed the review"`
	CRMID    string `json:"crm_id,omitempty" jsonschema:"CRM record ID when marking synced"`
}

type ReviewOpportunityOutput struct {
	ID             string `json:"id"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	ActionType     string `json:"action_type"`
}

func (h *OpportunityHandlers) ReviewOpportunity(_ context.Context, request *mcp.CallToolRequest, input ReviewOpportunityInput) (*mcp.CallToolResult, ReviewOpportunityOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, ReviewOpportunityOutput{}, fmt.Errorf("invalid id: %w", err)
	}
	if input.Status == "" {
		return nil, ReviewOpportunityOutput{}, fmt.Errorf("status is required")
	}

	var action *models.OpportunityAction
	if input.Status == models.StatusSynced && input.CRMID != "" {
		action, err = db.MarkSynced(h.db, id, input.CRMID, input.Reviewer)
	} else {
		action, err = db.UpdateOpportunityStatus(h.db, id, input.Status, input.Notes, input.Reviewer)
	}
	if err != nil {
		return nil, ReviewOpportunityOutput{}, fmt.Errorf("failed to review opportunity: %w", err)
	}

	return nil, ReviewOpportunityOutput{
		ID:             input.ID,
		PreviousStatus: action.PreviousStatus,
		Status:         action.NewStatus,
		ActionType:     action.Type,
	}, nil
}
