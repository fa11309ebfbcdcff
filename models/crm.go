// ABOUTME: System-of-record shapes returned by CRM query services
// ABOUTME: Shared by the Dynamics client and the Fabric warehouse query
package models

import "time"

// CRMOpportunity is an open opportunity in the system of record.
type CRMOpportunity struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	AccountName string    `json:"account_name,omitempty"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// CRMReferral is a partner referral attached to a CRM opportunity.
type CRMReferral struct {
	ID            string `json:"id"`
	OpportunityID string `json:"opportunity_id"`
	PartnerName   string `json:"partner_name"`
}
