// ABOUTME: BANT qualification facets and completeness scoring
// ABOUTME: Budget, Authority, Need, Timeline with per-facet confidence and currency conversion
package models

import (
	"math"
	"strings"
	"time"
)

// BANT facet names, in reporting order
const (
	FacetBudget    = "budget"
	FacetAuthority = "authority"
	FacetNeed      = "need"
	FacetTimeline  = "timeline"
)

const facetWeight = 25

// Urgency levels for a timeline facet
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// Contact is a person named in an authority facet.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Title string `json:"title,omitempty"`
	Role  string `json:"role,omitempty"`
}

type Budget struct {
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	AmountUSD  float64 `json:"amount_usd"`
	Confidence float64 `json:"confidence"`
}

type Authority struct {
	CustomerContact *Contact `json:"customer_contact,omitempty"`
	PartnerContact  *Contact `json:"partner_contact,omitempty"`
	Confidence      float64  `json:"confidence"`
}

type Need struct {
	Description  string       `json:"description"`
	SolutionArea SolutionArea `json:"solution_area,omitempty"`
	Products     []string     `json:"products,omitempty"`
	Services     []string     `json:"services,omitempty"`
	Confidence   float64      `json:"confidence"`
}

type Timeline struct {
	EstimatedCloseDate *time.Time `json:"estimated_close_date,omitempty"`
	Timeframe          string     `json:"timeframe,omitempty"`
	Urgency            string     `json:"urgency,omitempty"`
	Confidence         float64    `json:"confidence"`
}

// BANT groups the four qualification facets of one opportunity.
// A nil facet means the facet was not found at all.
type BANT struct {
	Budget          *Budget    `json:"budget,omitempty"`
	Authority       *Authority `json:"authority,omitempty"`
	Need            *Need      `json:"need,omitempty"`
	Timeline        *Timeline  `json:"timeline,omitempty"`
	Score           int        `json:"score"`
	MissingElements []string   `json:"missing_elements"`
}

// Qualification is the derived completeness of a BANT.
type Qualification struct {
	Score           int      `json:"score"`
	MissingElements []string `json:"missing_elements"`
}

// Qualify scores BANT completeness. Absent facets contribute nothing; present
// facets contribute 25 weighted by their confidence, even when it is low.
func Qualify(b *BANT) Qualification {
	if b == nil {
		b = &BANT{}
	}

	total := 0.0
	missing := []string{}

	if b.Budget != nil {
		total += facetWeight * clampUnit(b.Budget.Confidence)
	} else {
		missing = append(missing, FacetBudget)
	}
	if b.Authority != nil {
		total += facetWeight * clampUnit(b.Authority.Confidence)
	} else {
		missing = append(missing, FacetAuthority)
	}
	if b.Need != nil {
		total += facetWeight * clampUnit(b.Need.Confidence)
	} else {
		missing = append(missing, FacetNeed)
	}
	if b.Timeline != nil {
		total += facetWeight * clampUnit(b.Timeline.Confidence)
	} else {
		missing = append(missing, FacetTimeline)
	}

	return Qualification{
		Score:           int(math.Round(total)),
		MissingElements: missing,
	}
}

// Qualify computes and stores the score and missing elements on b.
func (b *BANT) Qualify() Qualification {
	q := Qualify(b)
	b.Score = q.Score
	b.MissingElements = q.MissingElements
	return q
}

var usdRates = map[string]float64{
	"USD": 1,
	"EUR": 1.08,
	"GBP": 1.27,
	"CAD": 0.74,
	"AUD": 0.65,
	"JPY": 0.0067,
	"INR": 0.012,
}

// ConvertToUSD converts amount using a static rate table.
// ok is false for unsupported currencies.
func ConvertToUSD(amount float64, currency string) (float64, bool) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = "USD"
	}
	rate, ok := usdRates[code]
	if !ok {
		return 0, false
	}
	return math.Round(amount*rate*100) / 100, true
}

// IsValidUrgency reports whether u is a known urgency level.
func IsValidUrgency(u string) bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}
