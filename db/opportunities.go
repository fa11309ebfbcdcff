// ABOUTME: Detected opportunity storage: insert, load, filtered queries, and aggregate stats
// ABOUTME: Entities are flattened into columns; keywords, participants, and BANT are stored as JSON
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/harperreed/cosell/models"
)

func insertOpportunity(ctx context.Context, tx *sql.Tx, opp *models.DetectedOpportunity) error {
	keywords, err := json.Marshal(opp.MatchedKeywords)
	if err != nil {
		return fmt.Errorf("failed to encode keywords: %w", err)
	}
	participants, err := encodeOptional(opp.Communication.Participants, len(opp.Communication.Participants) > 0)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}
	bant, err := encodeOptional(opp.BANT, opp.BANT != nil)
	if err != nil {
		return fmt.Errorf("failed to encode bant: %w", err)
	}

	var partnerName, partnerNetwork, customerName, customerAccount sql.NullString
	var partnerConf, customerConf sql.NullFloat64
	if p := opp.Partner; p != nil {
		partnerName = nullString(p.Name)
		partnerNetwork = nullString(p.PartnerNetworkID)
		partnerConf = sql.NullFloat64{Float64: p.Confidence, Valid: true}
	}
	if c := opp.Customer; c != nil {
		customerName = nullString(c.Name)
		customerAccount = nullString(c.CRMAccountID)
		customerConf = sql.NullFloat64{Float64: c.Confidence, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO detected_opportunities (
			id, scan_id, communication_id, communication_type, subject, sender, occurred_at,
			preview, content, participants,
			partner_name, partner_confidence, partner_network_id,
			customer_name, customer_confidence, customer_crm_account_id,
			solution_area, summary, matched_keywords, confidence, status, crm_action,
			existing_opportunity_id, existing_opportunity_name, existing_referral_id,
			bant, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		opp.ID.String(), nullString(opp.ScanID), opp.Communication.ID, string(opp.Communication.Type),
		opp.Communication.Subject, opp.Communication.From, opp.Communication.OccurredAt,
		opp.Communication.Preview, opp.Communication.Content, participants,
		partnerName, partnerConf, partnerNetwork,
		customerName, customerConf, customerAccount,
		nullString(string(opp.SolutionArea)), opp.Summary, string(keywords), opp.Confidence,
		opp.Status, string(opp.CRMAction),
		nullString(opp.ExistingOpportunityID), nullString(opp.ExistingOpportunityName), nullString(opp.ExistingReferralID),
		bant, nullString(opp.Notes), opp.CreatedAt, opp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

func encodeOptional(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

const opportunityColumns = `
	id, scan_id, communication_id, communication_type, subject, sender, occurred_at,
	preview, content, participants,
	partner_name, partner_confidence, partner_network_id,
	customer_name, customer_confidence, customer_crm_account_id,
	solution_area, summary, matched_keywords, confidence, status, crm_action,
	existing_opportunity_id, existing_opportunity_name, existing_referral_id,
	bant, notes, created_at, updated_at`

func scanOpportunity(row rowScanner) (*models.DetectedOpportunity, error) {
	opp := &models.DetectedOpportunity{}
	var id, commType, keywords, crmAction string
	var scanID, subject, sender, preview, content, participants sql.NullString
	var partnerName, partnerNetwork, customerName, customerAccount sql.NullString
	var area, summary, existingID, existingName, referralID, bant, notes sql.NullString
	var partnerConf, customerConf sql.NullFloat64

	err := row.Scan(
		&id, &scanID, &opp.Communication.ID, &commType, &subject, &sender, &opp.Communication.OccurredAt,
		&preview, &content, &participants,
		&partnerName, &partnerConf, &partnerNetwork,
		&customerName, &customerConf, &customerAccount,
		&area, &summary, &keywords, &opp.Confidence, &opp.Status, &crmAction,
		&existingID, &existingName, &referralID,
		&bant, &notes, &opp.CreatedAt, &opp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	opp.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse opportunity ID: %w", err)
	}
	opp.ScanID = scanID.String
	opp.Communication.Type = models.SourceType(commType)
	opp.Communication.Subject = subject.String
	opp.Communication.From = sender.String
	opp.Communication.Preview = preview.String
	opp.Communication.Content = content.String
	opp.SolutionArea = models.SolutionArea(area.String)
	opp.Summary = summary.String
	opp.CRMAction = models.CRMAction(crmAction)
	opp.ExistingOpportunityID = existingID.String
	opp.ExistingOpportunityName = existingName.String
	opp.ExistingReferralID = referralID.String
	opp.Notes = notes.String

	if partnerName.Valid {
		opp.Partner = &models.Entity{
			Name:             partnerName.String,
			Kind:             models.EntityPartner,
			Confidence:       partnerConf.Float64,
			PartnerNetworkID: partnerNetwork.String,
		}
	}
	if customerName.Valid {
		opp.Customer = &models.Entity{
			Name:         customerName.String,
			Kind:         models.EntityCustomer,
			Confidence:   customerConf.Float64,
			CRMAccountID: customerAccount.String,
		}
	}

	if err := json.Unmarshal([]byte(keywords), &opp.MatchedKeywords); err != nil {
		return nil, fmt.Errorf("failed to decode keywords: %w", err)
	}
	if participants.Valid {
		if err := json.Unmarshal([]byte(participants.String), &opp.Communication.Participants); err != nil {
			return nil, fmt.Errorf("failed to decode participants: %w", err)
		}
	}
	if bant.Valid {
		opp.BANT = &models.BANT{}
		if err := json.Unmarshal([]byte(bant.String), opp.BANT); err != nil {
			return nil, fmt.Errorf("failed to decode bant: %w", err)
		}
	}

	return opp, nil
}

// GetOpportunity returns the opportunity with id, or nil when it does not exist.
func GetOpportunity(db *sql.DB, id uuid.UUID) (*models.DetectedOpportunity, error) {
	row := db.QueryRow(`SELECT `+opportunityColumns+` FROM detected_opportunities WHERE id = ?`, id.String())
	opp, err := scanOpportunity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get opportunity: %w", err)
	}
	return opp, nil
}

// OpportunityFilter narrows FindOpportunities. Zero values match everything.
type OpportunityFilter struct {
	Status        string
	CRMAction     models.CRMAction
	ScanID        string
	Partner       string // substring, case-insensitive
	Customer      string // substring, case-insensitive
	MinConfidence float64
	Limit         int
}

// FindOpportunities returns matching opportunities, highest confidence first.
func FindOpportunities(db *sql.DB, filter OpportunityFilter) ([]models.DetectedOpportunity, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.CRMAction != "" {
		where = append(where, "crm_action = ?")
		args = append(args, string(filter.CRMAction))
	}
	if filter.ScanID != "" {
		where = append(where, "scan_id = ?")
		args = append(args, filter.ScanID)
	}
	if filter.Partner != "" {
		where = append(where, "LOWER(partner_name) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Partner)+"%")
	}
	if filter.Customer != "" {
		where = append(where, "LOWER(customer_name) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Customer)+"%")
	}
	if filter.MinConfidence > 0 {
		where = append(where, "confidence >= ?")
		args = append(args, filter.MinConfidence)
	}

	query := `SELECT ` + opportunityColumns + ` FROM detected_opportunities`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY confidence DESC, occurred_at DESC LIMIT ?`
	args = append(args, filter.Limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find opportunities: %w", err)
	}
	defer rows.Close()

	var opps []models.DetectedOpportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan opportunity row: %w", err)
		}
		opps = append(opps, *opp)
	}
	return opps, rows.Err()
}

// Stats summarizes the stored opportunities.
type Stats struct {
	Total             int                     `json:"total"`
	ByStatus          map[string]int          `json:"by_status"`
	ByAction          map[string]int          `json:"by_action"`
	Counts            models.ConfidenceCounts `json:"counts"`
	AverageConfidence float64                 `json:"average_confidence"`
}

// OpportunityStats counts opportunities by status, CRM action, and confidence bucket.
func OpportunityStats(db *sql.DB) (*Stats, error) {
	stats := &Stats{ByStatus: make(map[string]int), ByAction: make(map[string]int)}

	var avg sql.NullFloat64
	err := db.QueryRow(`
		SELECT
			COUNT(*),
			AVG(confidence),
			COALESCE(SUM(CASE WHEN confidence >= 0.8 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN confidence >= 0.5 AND confidence < 0.8 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN confidence < 0.5 THEN 1 ELSE 0 END), 0)
		FROM detected_opportunities
	`).Scan(&stats.Total, &avg, &stats.Counts.High, &stats.Counts.Medium, &stats.Counts.Low)
	if err != nil {
		return nil, fmt.Errorf("failed to compute opportunity stats: %w", err)
	}
	stats.AverageConfidence = avg.Float64

	if err := countBy(db, "status", stats.ByStatus); err != nil {
		return nil, err
	}
	if err := countBy(db, "crm_action", stats.ByAction); err != nil {
		return nil, err
	}
	return stats, nil
}

func countBy(db *sql.DB, column string, into map[string]int) error {
	rows, err := db.Query(`SELECT ` + column + `, COUNT(*) FROM detected_opportunities GROUP BY ` + column)
	if err != nil {
		return fmt.Errorf("failed to count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}
