// ABOUTME: Tests for CRM cross-validation decisions and the per-run lookup cache
// ABOUTME: Uses an in-memory query service that counts calls
package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/cosell/models"
)

func oppFor(partner, customer string) *models.DetectedOpportunity {
	opp := &models.DetectedOpportunity{ID: uuid.New(), CRMAction: models.ActionCreate}
	if partner != "" {
		opp.Partner = &models.Entity{Name: partner, Kind: models.EntityPartner, Confidence: 0.9}
	}
	if customer != "" {
		opp.Customer = &models.Entity{Name: customer, Kind: models.EntityCustomer, Confidence: 0.9}
	}
	return opp
}

func TestValidateCachesPerCustomerAndPartner(t *testing.T) {
	q := &fakeQuery{
		open: map[string][]models.CRMOpportunity{"Contoso": {{ID: "opp-1", Name: "Deal", ModifiedAt: testTo}}},
	}
	opps := []*models.DetectedOpportunity{
		oppFor("Acme Corp", "Contoso"),
		oppFor("Acme Corp", "Contoso"),
		oppFor("Fabrikam", "Contoso"),
		oppFor("Acme Corp", "Contoso"),
	}

	stats := NewValidator(q, nil).Validate(context.Background(), opps)

	assert.Equal(t, ValidationStats{Lookups: 2, CacheHits: 2}, stats)
	assert.Equal(t, 2, q.oppCalls)
	assert.Equal(t, 2, q.refCalls)
	for _, o := range opps {
		assert.Equal(t, models.ActionLink, o.CRMAction)
		assert.Equal(t, "opp-1", o.ExistingOpportunityID)
	}
}

func TestValidateCacheDoesNotOutliveCall(t *testing.T) {
	q := &fakeQuery{}
	v := NewValidator(q, nil)
	v.Validate(context.Background(), []*models.DetectedOpportunity{oppFor("Acme", "Contoso")})
	v.Validate(context.Background(), []*models.DetectedOpportunity{oppFor("Acme", "Contoso")})
	assert.Equal(t, 2, q.oppCalls)
}

func TestValidateQueryErrorDegradesToCreateAndIsCached(t *testing.T) {
	q := &fakeQuery{err: errors.New("timeout")}
	opps := []*models.DetectedOpportunity{oppFor("Acme", "Contoso"), oppFor("Acme", "Contoso")}
	opps[0].CRMAction = models.ActionLink

	stats := NewValidator(q, nil).Validate(context.Background(), opps)

	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.CacheHits)
	assert.Equal(t, 1, q.oppCalls)
	for _, o := range opps {
		assert.Equal(t, models.ActionCreate, o.CRMAction)
		assert.Empty(t, o.ExistingOpportunityID)
	}
}

func TestValidateWithoutPartnerLinksToMostRecent(t *testing.T) {
	q := &fakeQuery{
		open: map[string][]models.CRMOpportunity{"Contoso": {
			{ID: "a", Name: "A", ModifiedAt: testFrom},
			{ID: "b", Name: "B", ModifiedAt: testTo},
		}},
		referrals: map[string][]models.CRMReferral{"b": {{ID: "ref", PartnerName: "Acme"}}},
	}
	opp := oppFor("", "Contoso")

	NewValidator(q, nil).Validate(context.Background(), []*models.DetectedOpportunity{opp})

	assert.Equal(t, models.ActionLink, opp.CRMAction)
	assert.Equal(t, "b", opp.ExistingOpportunityID)
	assert.Equal(t, "B", opp.ExistingOpportunityName)
	assert.Zero(t, q.refCalls)
}

func TestValidateSkipsOpportunitiesWithoutCustomer(t *testing.T) {
	q := &fakeQuery{}
	opp := oppFor("Acme", "")
	blank := oppFor("Acme", "  ")

	stats := NewValidator(q, nil).Validate(context.Background(), []*models.DetectedOpportunity{opp, blank, nil})

	assert.Zero(t, stats.Lookups)
	assert.Zero(t, q.oppCalls)
	assert.Equal(t, models.ActionCreate, opp.CRMAction)
}

func TestValidateStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q := &fakeQuery{}
	stats := NewValidator(q, nil).Validate(ctx, []*models.DetectedOpportunity{oppFor("Acme", "Contoso")})
	assert.Zero(t, stats.Lookups)
	assert.Zero(t, q.oppCalls)
}

func TestPartnerNamesMatch(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Acme Corp", "acme", true},
		{"ACME", "Acme Corp", true},
		{"Fabrikam", "Acme Corp", false},
		{"", "Acme", false},
		{"Acme", "  ", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, PartnerNamesMatch(tt.a, tt.b))
		})
	}
}

func TestMostRecentKeepsFirstOnTie(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := mostRecent([]models.CRMOpportunity{
		{ID: "first", ModifiedAt: ts},
		{ID: "second", ModifiedAt: ts},
		{ID: "older", ModifiedAt: ts.Add(-time.Hour)},
	})
	require.Equal(t, "first", got.ID)
}

func TestBuildSessionStatuses(t *testing.T) {
	req := ScanRequest{DetectRequest: emailRequest()}
	res := &Result{Scanned: 3, Started: testNow, Finished: testNow.Add(90 * time.Second)}

	tests := []struct {
		name       string
		res        *Result
		err        error
		wantStatus string
	}{
		{"completed", res, nil, models.ScanCompleted},
		{"cancelled", res, context.Canceled, models.ScanCancelled},
		{"deadline", res, context.DeadlineExceeded, models.ScanCancelled},
		{"failed", res, errors.New("boom"), models.ScanFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := BuildSession("id", req, tt.res, tt.err)
			assert.Equal(t, tt.wantStatus, s.Status)
			assert.Equal(t, "Scan 2024-03-08", s.Name)
			assert.Equal(t, 3, s.TotalScanned)
			assert.Equal(t, 90, s.DurationSeconds)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), s.ErrorMessage)
			}
		})
	}
}

func TestBuildSessionIncrementalTypeAndSourceFailures(t *testing.T) {
	req := ScanRequest{DetectRequest: emailRequest()}
	req.Incremental = true
	res := &Result{SourceFailures: []SourceFailure{{Source: models.SourceChat, Err: errors.New("503")}}}

	s := BuildSession("id", req, res, nil)
	assert.Equal(t, models.ScanTypeIncremental, s.Type)
	assert.Equal(t, models.ScanCompleted, s.Status)
	assert.Equal(t, "chat: 503", s.ErrorMessage)
}
