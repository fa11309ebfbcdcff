// ABOUTME: CRM query service backed by the warehouse copies of CRM opportunities and referrals
// ABOUTME: Used for cross-validation when Dynamics is not reachable directly
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/harperreed/cosell/models"
)

const maxOpportunityRows = 50

// CRMQuery answers cross-validation lookups from the warehouse.
type CRMQuery struct {
	db     *sql.DB
	tables Tables
}

// NewCRMQuery creates a query service over db.
func NewCRMQuery(db *sql.DB, schema string) *CRMQuery {
	return &CRMQuery{db: db, tables: TablesFor(schema)}
}

// escapeLike makes LIKE wildcards in s match literally.
func escapeLike(s string) string {
	r := strings.NewReplacer("[", "[[]", "%", "[%]", "_", "[_]")
	return r.Replace(s)
}

// FindOpenOpportunitiesForCustomer returns open opportunities whose account
// name contains customer, most recently modified first.
func (q *CRMQuery) FindOpenOpportunitiesForCustomer(ctx context.Context, customer string) ([]models.CRMOpportunity, error) {
	query := fmt.Sprintf(`
		SELECT TOP (%d) OpportunityId, OpportunityName, AccountName, ModifiedOn
		FROM %s
		WHERE StateCode = 0 AND AccountName LIKE '%%' + @p1 + '%%'
		ORDER BY ModifiedOn DESC`, maxOpportunityRows, q.tables.Opportunities)

	rows, err := q.db.QueryContext(ctx, query, escapeLike(customer))
	if err != nil {
		return nil, fmt.Errorf("failed to query opportunities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var opps []models.CRMOpportunity
	for rows.Next() {
		var opp models.CRMOpportunity
		var account sql.NullString
		var modified sql.NullTime
		if err := rows.Scan(&opp.ID, &opp.Name, &account, &modified); err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		opp.AccountName = account.String
		if modified.Valid {
			opp.ModifiedAt = modified.Time
		}
		opps = append(opps, opp)
	}
	return opps, rows.Err()
}

// FindPartnerReferralsForOpportunity returns the referrals attached to an opportunity.
func (q *CRMQuery) FindPartnerReferralsForOpportunity(ctx context.Context, opportunityID string) ([]models.CRMReferral, error) {
	query := fmt.Sprintf(`
		SELECT ReferralId, OpportunityId, PartnerName
		FROM %s
		WHERE OpportunityId = @p1`, q.tables.PartnerReferrals)

	rows, err := q.db.QueryContext(ctx, query, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query referrals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var refs []models.CRMReferral
	for rows.Next() {
		var ref models.CRMReferral
		var partner sql.NullString
		if err := rows.Scan(&ref.ID, &ref.OpportunityID, &partner); err != nil {
			return nil, fmt.Errorf("failed to scan referral: %w", err)
		}
		ref.PartnerName = partner.String
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
