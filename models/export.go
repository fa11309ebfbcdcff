// ABOUTME: Flat export row mapping for detected opportunities
// ABOUTME: Shared by the xlsx and CSV exports so both carry the same columns
package models

import (
	"fmt"
	"strings"
	"time"
)

// ExportRow is the flattened, string-only form of a detected opportunity.
type ExportRow struct {
	ID                    string
	CommunicationID       string
	Status                string
	Partner               string
	Customer              string
	CommunicationType     string
	Subject               string
	Date                  string
	Summary               string
	Confidence            string
	CRMAction             string
	DealSize              string
	Timeline              string
	Keywords              string
	ExistingOpportunityID string
	From                  string
	Content               string
}

// ExportHeader returns the column names matching ExportRow.Values.
func ExportHeader() []string {
	return []string{
		"id", "communicationId", "status", "partner", "customer", "communicationType", "subject", "date",
		"summary", "confidence", "crmAction", "dealSize", "timeline", "keywords",
		"existingOpportunityId", "from", "content",
	}
}

// ToExportRow flattens an opportunity. Dates are RFC3339 in UTC.
func ToExportRow(opp *DetectedOpportunity) ExportRow {
	row := ExportRow{
		ID:                    opp.ID.String(),
		CommunicationID:       opp.Communication.ID,
		Status:                opp.Status,
		Partner:               opp.PartnerName(),
		Customer:              opp.CustomerName(),
		CommunicationType:     string(opp.Communication.Type),
		Subject:               opp.Communication.Subject,
		Date:                  opp.Communication.OccurredAt.UTC().Format(time.RFC3339Nano),
		Summary:               opp.Summary,
		Confidence:            fmt.Sprintf("%.0f%%", opp.Confidence*100),
		CRMAction:             string(opp.CRMAction),
		Keywords:              strings.Join(opp.MatchedKeywords, "; "),
		ExistingOpportunityID: opp.ExistingOpportunityID,
		From:                  opp.Communication.From,
		Content:               opp.Communication.Content,
	}

	if opp.BANT != nil {
		if opp.BANT.Budget != nil && opp.BANT.Budget.AmountUSD > 0 {
			row.DealSize = fmt.Sprintf("$%.0f", opp.BANT.Budget.AmountUSD)
		}
		if opp.BANT.Timeline != nil {
			row.Timeline = opp.BANT.Timeline.Timeframe
		}
	}

	return row
}

// Values returns the row in ExportHeader order.
func (r ExportRow) Values() []string {
	return []string{
		r.ID, r.CommunicationID, r.Status, r.Partner, r.Customer, r.CommunicationType, r.Subject, r.Date,
		r.Summary, r.Confidence, r.CRMAction, r.DealSize, r.Timeline, r.Keywords,
		r.ExistingOpportunityID, r.From, r.Content,
	}
}
