// ABOUTME: Data models for co-sell detection entities
// ABOUTME: Defines Communication, Entity, DetectedOpportunity, ScanSession, and OpportunityAction structs
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceType identifies where a communication came from.
type SourceType string

const (
	SourceEmail   SourceType = "email"
	SourceChat    SourceType = "chat"
	SourceMeeting SourceType = "meeting"
)

// AllSources lists every source type in scan order.
var AllSources = []SourceType{SourceEmail, SourceChat, SourceMeeting}

// ParseSourceType parses a source name, accepting a few common aliases.
func ParseSourceType(s string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email", "mail", "emails":
		return SourceEmail, nil
	case "chat", "chats", "teams":
		return SourceChat, nil
	case "meeting", "meetings", "transcript", "transcripts":
		return SourceMeeting, nil
	}
	return "", fmt.Errorf("unknown source type: %s (valid: email, chat, meeting)", s)
}

// ParseSourceList parses a comma-separated list of sources, dropping duplicates.
func ParseSourceList(s string) ([]SourceType, error) {
	if strings.TrimSpace(s) == "" {
		return append([]SourceType(nil), AllSources...), nil
	}
	seen := make(map[SourceType]bool)
	var out []SourceType
	for _, part := range strings.Split(s, ",") {
		st, err := ParseSourceType(part)
		if err != nil {
			return nil, err
		}
		if !seen[st] {
			seen[st] = true
			out = append(out, st)
		}
	}
	return out, nil
}

// Communication is one normalized inbound message or transcript.
type Communication struct {
	ID           string     `json:"id"`
	Type         SourceType `json:"type"`
	Subject      string     `json:"subject"`
	From         string     `json:"from"`
	OccurredAt   time.Time  `json:"occurred_at"`
	Preview      string     `json:"preview"`
	Content      string     `json:"content"`
	Participants []string   `json:"participants,omitempty"`
}

// EntityKind distinguishes partner and customer references.
type EntityKind string

const (
	EntityPartner  EntityKind = "partner"
	EntityCustomer EntityKind = "customer"
)

// Entity is an extracted partner or customer reference.
type Entity struct {
	Name             string     `json:"name"`
	Kind             EntityKind `json:"kind"`
	Confidence       float64    `json:"confidence"`
	PartnerNetworkID string     `json:"partner_network_id,omitempty"`
	CRMAccountID     string     `json:"crm_account_id,omitempty"`
}

// SolutionArea is the high-level solution classification of an opportunity.
type SolutionArea string

const (
	SolutionAzureMigration   SolutionArea = "azure-migration"
	SolutionModernWorkplace  SolutionArea = "modern-workplace"
	SolutionSecurity         SolutionArea = "security"
	SolutionDataAI           SolutionArea = "data-ai"
	SolutionAppModernization SolutionArea = "app-modernization"
	SolutionInfrastructure   SolutionArea = "infrastructure"
)

// SolutionAreas lists every known solution area.
var SolutionAreas = []SolutionArea{
	SolutionAzureMigration,
	SolutionModernWorkplace,
	SolutionSecurity,
	SolutionDataAI,
	SolutionAppModernization,
	SolutionInfrastructure,
}

// ParseSolutionArea returns the matching area, or "" when s is not a known value.
func ParseSolutionArea(s string) SolutionArea {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for _, area := range SolutionAreas {
		if string(area) == normalized {
			return area
		}
	}
	return ""
}

// Opportunity status values
const (
	StatusNew       = "new"
	StatusReview    = "review"
	StatusConfirmed = "confirmed"
	StatusSynced    = "synced"
	StatusRejected  = "rejected"
)

// CRMAction is the reconciliation decision against the system of record.
type CRMAction string

const (
	ActionCreate        CRMAction = "create"
	ActionLink          CRMAction = "link"
	ActionAlreadyLinked CRMAction = "already_linked"
)

// DetectedOpportunity is the unit of work produced by a scan.
type DetectedOpportunity struct {
	ID                      uuid.UUID     `json:"id"`
	ScanID                  string        `json:"scan_id,omitempty"`
	Communication           Communication `json:"communication"`
	Partner                 *Entity       `json:"partner,omitempty"`
	Customer                *Entity       `json:"customer,omitempty"`
	SolutionArea            SolutionArea  `json:"solution_area,omitempty"`
	Summary                 string        `json:"summary"`
	MatchedKeywords         []string      `json:"matched_keywords"`
	Confidence              float64       `json:"confidence"`
	Status                  string        `json:"status"`
	CRMAction               CRMAction     `json:"crm_action"`
	ExistingOpportunityID   string        `json:"existing_opportunity_id,omitempty"`
	ExistingOpportunityName string        `json:"existing_opportunity_name,omitempty"`
	ExistingReferralID      string        `json:"existing_referral_id,omitempty"`
	BANT                    *BANT         `json:"bant,omitempty"`
	Notes                   string        `json:"notes,omitempty"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

// PartnerName returns the partner name or "" when no partner was extracted.
func (o *DetectedOpportunity) PartnerName() string {
	if o.Partner == nil {
		return ""
	}
	return o.Partner.Name
}

// CustomerName returns the customer name or "" when no customer was extracted.
func (o *DetectedOpportunity) CustomerName() string {
	if o.Customer == nil {
		return ""
	}
	return o.Customer.Name
}

// Scan types
const (
	ScanTypeManual      = "manual"
	ScanTypeScheduled   = "scheduled"
	ScanTypeIncremental = "incremental"
)

// Scan status values
const (
	ScanInProgress = "in_progress"
	ScanCompleted  = "completed"
	ScanFailed     = "failed"
	ScanCancelled  = "cancelled"
)

// ScanSession is the auditable record of one scan run.
type ScanSession struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Type            string           `json:"type"`
	DateFrom        time.Time        `json:"date_from"`
	DateTo          time.Time        `json:"date_to"`
	Sources         []SourceType     `json:"sources"`
	Keywords        []string         `json:"keywords"`
	TotalScanned    int              `json:"total_scanned"`
	Detected        int              `json:"detected"`
	Counts          ConfidenceCounts `json:"counts"`
	Status          string           `json:"status"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	DurationSeconds int              `json:"duration_seconds"`
}

// ScanBatch is everything a recorder persists for one scan.
type ScanBatch struct {
	Session       ScanSession
	Opportunities []*DetectedOpportunity
}

// Action types logged against an opportunity
const (
	ActionTypeCreated   = "created"
	ActionTypeReviewed  = "reviewed"
	ActionTypeConfirmed = "confirmed"
	ActionTypeRejected  = "rejected"
	ActionTypeSynced    = "synced"
	ActionTypeUpdated   = "updated"
	ActionTypeExported  = "exported"
)

// OpportunityAction is one audit-log entry for an opportunity.
type OpportunityAction struct {
	ID             uuid.UUID `json:"id"`
	OpportunityID  uuid.UUID `json:"opportunity_id"`
	Type           string    `json:"type"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	NewStatus      string    `json:"new_status,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	PerformedBy    string    `json:"performed_by,omitempty"`
	PerformedAt    time.Time `json:"performed_at"`
}

// Review status values used by the warehouse tables
const (
	ReviewPending   = "pending"
	ReviewConfirmed = "confirmed"
	ReviewRejected  = "rejected"
	ReviewSynced    = "synced"
)

// ReviewStatusFor maps an opportunity status onto the warehouse review status.
func ReviewStatusFor(status string) string {
	switch status {
	case StatusConfirmed:
		return ReviewConfirmed
	case StatusRejected:
		return ReviewRejected
	case StatusSynced:
		return ReviewSynced
	default:
		return ReviewPending
	}
}

// IsValidStatus reports whether status is a known opportunity status.
func IsValidStatus(status string) bool {
	switch status {
	case StatusNew, StatusReview, StatusConfirmed, StatusSynced, StatusRejected:
		return true
	}
	return false
}

// ActionTypeForStatus returns the audit action type logged when moving to status.
func ActionTypeForStatus(status string) string {
	switch status {
	case StatusConfirmed:
		return ActionTypeConfirmed
	case StatusRejected:
		return ActionTypeRejected
	case StatusSynced:
		return ActionTypeSynced
	case StatusReview:
		return ActionTypeReviewed
	default:
		return ActionTypeUpdated
	}
}
