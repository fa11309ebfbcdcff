// ABOUTME: Dynamics 365 Web API client for open opportunities and partner referrals
// ABOUTME: Authenticates with the request-scoped token and maps HTTP failures to sentinel errors
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/harperreed/cosell/auth"
	"github.com/harperreed/cosell/models"
)

const (
	apiPath               = "/api/data/v9.2"
	DefaultReferralEntity = "msp_referrals"
)

var (
	ErrUnauthorized = errors.New("dynamics: unauthorized")
	ErrForbidden    = errors.New("dynamics: forbidden")
	ErrNotFound     = errors.New("dynamics: not found")
)

// Config configures the Dynamics client.
type Config struct {
	OrgURL         string // e.g. https://contoso.crm.dynamics.com
	ReferralEntity string // Entity set holding partner referrals
	Timeout        time.Duration
}

// DynamicsClient queries Dynamics 365 for cross-validation.
type DynamicsClient struct {
	baseURL        string
	referralEntity string
	http           *http.Client
	logger         *zap.Logger
}

// NewDynamicsClient creates a client. httpClient may be nil.
func NewDynamicsClient(cfg Config, httpClient *http.Client, logger *zap.Logger) (*DynamicsClient, error) {
	if cfg.OrgURL == "" {
		return nil, fmt.Errorf("dynamics org url is required")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	entity := cfg.ReferralEntity
	if entity == "" {
		entity = DefaultReferralEntity
	}

	return &DynamicsClient{
		baseURL:        strings.TrimSuffix(cfg.OrgURL, "/") + apiPath,
		referralEntity: entity,
		http:           httpClient,
		logger:         logger.Named("dynamics"),
	}, nil
}

// escapeOData doubles single quotes inside an OData string literal.
func escapeOData(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// FindOpenOpportunitiesForCustomer returns open opportunities whose account
// name contains customer, most recently modified first.
func (c *DynamicsClient) FindOpenOpportunitiesForCustomer(ctx context.Context, customer string) ([]models.CRMOpportunity, error) {
	query := url.Values{}
	query.Set("$filter", fmt.Sprintf("statecode eq 0 and contains(parentaccountid/name,'%s')", escapeOData(customer)))
	query.Set("$orderby", "modifiedon desc")
	query.Set("$select", "opportunityid,name,modifiedon")
	query.Set("$expand", "parentaccountid($select=name)")

	var result struct {
		Value []struct {
			OpportunityID string    `json:"opportunityid"`
			Name          string    `json:"name"`
			ModifiedOn    time.Time `json:"modifiedon"`
			Account       *struct {
				Name string `json:"name"`
			} `json:"parentaccountid"`
		} `json:"value"`
	}
	if err := c.get(ctx, "/opportunities", query, &result); err != nil {
		return nil, fmt.Errorf("failed to query opportunities for %q: %w", customer, err)
	}

	opps := make([]models.CRMOpportunity, 0, len(result.Value))
	for _, v := range result.Value {
		opp := models.CRMOpportunity{ID: v.OpportunityID, Name: v.Name, ModifiedAt: v.ModifiedOn}
		if v.Account != nil {
			opp.AccountName = v.Account.Name
		}
		opps = append(opps, opp)
	}
	return opps, nil
}

// FindPartnerReferralsForOpportunity returns the partner referrals attached to an opportunity.
func (c *DynamicsClient) FindPartnerReferralsForOpportunity(ctx context.Context, opportunityID string) ([]models.CRMReferral, error) {
	query := url.Values{}
	query.Set("$filter", fmt.Sprintf("_msp_opportunityid_value eq %s", opportunityID))
	query.Set("$select", "msp_referralid,msp_partnername,_msp_opportunityid_value")

	var result struct {
		Value []struct {
			ReferralID    string `json:"msp_referralid"`
			PartnerName   string `json:"msp_partnername"`
			OpportunityID string `json:"_msp_opportunityid_value"`
		} `json:"value"`
	}
	if err := c.get(ctx, "/"+c.referralEntity, query, &result); err != nil {
		return nil, fmt.Errorf("failed to query referrals for %s: %w", opportunityID, err)
	}

	refs := make([]models.CRMReferral, 0, len(result.Value))
	for _, v := range result.Value {
		oppID := v.OpportunityID
		if oppID == "" {
			oppID = opportunityID
		}
		refs = append(refs, models.CRMReferral{ID: v.ReferralID, OpportunityID: oppID, PartnerName: v.PartnerName})
	}
	return refs, nil
}

func (c *DynamicsClient) get(ctx context.Context, path string, query url.Values, out any) (err error) {
	token, err := auth.DynamicsToken(ctx)
	if err != nil {
		return err
	}

	target := c.baseURL + path
	if len(query) > 0 {
		// OData expects %20 rather than + for spaces
		target += "?" + strings.ReplaceAll(query.Encode(), "+", "%20")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")

	start := time.Now()
	defer func() {
		fields := []zap.Field{zap.String("path", path), zap.Duration("duration", time.Since(start))}
		if err != nil {
			c.logger.Debug("dynamics request failed", append(fields, zap.Error(err))...)
		} else {
			c.logger.Debug("dynamics request", fields...)
		}
	}()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("dynamics returned %d: %s", resp.StatusCode, errorMessage(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
