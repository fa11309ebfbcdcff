// ABOUTME: Cross-validates detected opportunities against the CRM system of record
// ABOUTME: Decides create, link, or already_linked with a per-run cache keyed by customer and partner
package detect

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/harperreed/cosell/models"
)

// QueryService looks up open opportunities and partner referrals in the CRM.
type QueryService interface {
	FindOpenOpportunitiesForCustomer(ctx context.Context, customer string) ([]models.CRMOpportunity, error)
	FindPartnerReferralsForOpportunity(ctx context.Context, opportunityID string) ([]models.CRMReferral, error)
}

// ValidationStats summarizes one Validate call.
type ValidationStats struct {
	Lookups   int `json:"lookups"`
	CacheHits int `json:"cache_hits"`
	Failures  int `json:"failures"`
}

// Validator assigns CRM actions to detected opportunities.
type Validator struct {
	query  QueryService
	logger *zap.Logger
}

// NewValidator creates a validator over query.
func NewValidator(query QueryService, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{query: query, logger: logger.Named("validator")}
}

type cacheKey struct {
	customer string
	partner  string
}

type decision struct {
	action          models.CRMAction
	opportunityID   string
	opportunityName string
	referralID      string
}

// Validate sets CRMAction and the existing-record fields on each opportunity
// that has a customer. Lookups are cached for the duration of the call only.
// A failed lookup degrades to create and is cached like any other result.
func (v *Validator) Validate(ctx context.Context, opps []*models.DetectedOpportunity) ValidationStats {
	var stats ValidationStats
	cache := make(map[cacheKey]decision)

	for _, opp := range opps {
		if ctx.Err() != nil {
			break
		}
		if opp == nil || opp.Customer == nil || strings.TrimSpace(opp.Customer.Name) == "" {
			continue
		}

		key := cacheKey{customer: opp.Customer.Name, partner: opp.PartnerName()}
		if d, ok := cache[key]; ok {
			stats.CacheHits++
			apply(opp, d)
			continue
		}

		stats.Lookups++
		d, err := v.decide(ctx, key)
		if err != nil {
			stats.Failures++
			v.logger.Warn("crm lookup failed, defaulting to create",
				zap.String("customer", key.customer),
				zap.String("partner", key.partner),
				zap.Error(fmt.Errorf("%w: %w", ErrCRMQueryFailure, err)))
			d = decision{action: models.ActionCreate}
		}
		cache[key] = d
		apply(opp, d)
	}

	return stats
}

func (v *Validator) decide(ctx context.Context, key cacheKey) (decision, error) {
	open, err := v.query.FindOpenOpportunitiesForCustomer(ctx, key.customer)
	if err != nil {
		return decision{}, err
	}
	if len(open) == 0 {
		return decision{action: models.ActionCreate}, nil
	}

	latest := mostRecent(open)
	linked := decision{action: models.ActionLink, opportunityID: latest.ID, opportunityName: latest.Name}
	if key.partner == "" {
		return linked, nil
	}

	refs, err := v.query.FindPartnerReferralsForOpportunity(ctx, latest.ID)
	if err != nil {
		return decision{}, err
	}
	for _, ref := range refs {
		if PartnerNamesMatch(ref.PartnerName, key.partner) {
			linked.action = models.ActionAlreadyLinked
			linked.referralID = ref.ID
			return linked, nil
		}
	}
	return linked, nil
}

// mostRecent returns the most recently modified opportunity; ties keep the first.
func mostRecent(opps []models.CRMOpportunity) models.CRMOpportunity {
	latest := opps[0]
	for _, o := range opps[1:] {
		if o.ModifiedAt.After(latest.ModifiedAt) {
			latest = o
		}
	}
	return latest
}

// PartnerNamesMatch reports whether either name contains the other, ignoring case.
func PartnerNamesMatch(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func apply(opp *models.DetectedOpportunity, d decision) {
	opp.CRMAction = d.action
	opp.ExistingOpportunityID = d.opportunityID
	opp.ExistingOpportunityName = d.opportunityName
	opp.ExistingReferralID = d.referralID
}
