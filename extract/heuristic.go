// ABOUTME: Rule-based extractor using weighted regex cues and solution-area keyword tables
// ABOUTME: Used when no LLM endpoint is configured; needs no network
package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/harperreed/cosell/models"
)

// Pattern is a weighted regex cue. Group 1 captures the entity name.
type Pattern struct {
	Name   string
	Regex  string
	Weight float64
}

type compiledPattern struct {
	Pattern
	regex *regexp.Regexp
}

const companyName = `([A-Z][A-Za-z0-9&-]*(?:\s+[A-Z][A-Za-z0-9&-]*){0,2})`

// DefaultPartnerPatterns returns the built-in partner cues.
func DefaultPartnerPatterns() []Pattern {
	return []Pattern{
		{Name: "with_company_suffix", Regex: `\bwith\s+([A-Z][A-Za-z0-9&-]*(?:\s+[A-Z][A-Za-z0-9&-]*){0,2}\s+(?:Inc|Corp|Corporation|Ltd|LLC))\b`, Weight: 0.8},
		{Name: "partner_named", Regex: `\b[Pp]artner(?:ing|ed|s)?\s+(?:with\s+)?` + companyName, Weight: 0.7},
		{Name: "integrator_named", Regex: `\b(?:[Ii]ntegrator|[Rr]eseller|[Cc]onsultancy)\s+` + companyName, Weight: 0.6},
	}
}

// DefaultCustomerPatterns returns the built-in customer cues.
func DefaultCustomerPatterns() []Pattern {
	return []Pattern{
		{Name: "customer_named", Regex: `\b[Cc]ustomer\s+` + companyName, Weight: 0.7},
		{Name: "client_named", Regex: `\b[Cc]lient\s+` + companyName, Weight: 0.7},
		{Name: "for_company", Regex: `\bfor\s+` + companyName, Weight: 0.5},
	}
}

// DefaultSolutionKeywords maps each solution area to its cue words.
func DefaultSolutionKeywords() map[models.SolutionArea][]string {
	return map[models.SolutionArea][]string{
		models.SolutionAzureMigration:   {"migration", "migrate", "lift and shift", "datacenter exit", "azure migrate"},
		models.SolutionModernWorkplace:  {"modern workplace", "microsoft 365", "m365", "office 365", "teams rollout", "intune"},
		models.SolutionSecurity:         {"security", "sentinel", "defender", "zero trust", "compliance"},
		models.SolutionDataAI:           {"data platform", "analytics", "fabric", "machine learning", "openai", "copilot", "ai"},
		models.SolutionAppModernization: {"app modernization", "modernize", "kubernetes", "aks", "containers", "app service"},
		models.SolutionInfrastructure:   {"infrastructure", "virtual machines", "networking", "storage", "hybrid"},
	}
}

// HeuristicExtractor implements Extractor and BANTExtractor with pattern matching.
type HeuristicExtractor struct {
	partners  []*compiledPattern
	customers []*compiledPattern
	areas     map[models.SolutionArea]*regexp.Regexp
}

// NewHeuristicExtractor creates an extractor with the default rules.
func NewHeuristicExtractor() *HeuristicExtractor {
	h := &HeuristicExtractor{
		partners:  compilePatterns(DefaultPartnerPatterns()),
		customers: compilePatterns(DefaultCustomerPatterns()),
		areas:     make(map[models.SolutionArea]*regexp.Regexp),
	}
	for area, words := range DefaultSolutionKeywords() {
		quoted := make([]string, len(words))
		for i, w := range words {
			quoted[i] = regexp.QuoteMeta(w)
		}
		h.areas[area] = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return h
}

func compilePatterns(patterns []Pattern) []*compiledPattern {
	compiled := make([]*compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			continue
		}
		compiled = append(compiled, &compiledPattern{Pattern: p, regex: re})
	}
	return compiled
}

// ExtractPartner returns the best-weighted partner cue in text.
func (h *HeuristicExtractor) ExtractPartner(_ context.Context, text string) (*models.Entity, error) {
	return bestMatch(h.partners, text, models.EntityPartner), nil
}

// ExtractCustomer returns the best-weighted customer cue in text.
func (h *HeuristicExtractor) ExtractCustomer(_ context.Context, text string) (*models.Entity, error) {
	return bestMatch(h.customers, text, models.EntityCustomer), nil
}

// bestMatch picks the highest weight, then the earliest position.
func bestMatch(patterns []*compiledPattern, text string, kind models.EntityKind) *models.Entity {
	var best *models.Entity
	bestPos := -1
	for _, p := range patterns {
		loc := p.regex.FindStringSubmatchIndex(text)
		if loc == nil || len(loc) < 4 || loc[2] < 0 {
			continue
		}
		name := cleanName(text[loc[2]:loc[3]])
		if name == "" {
			continue
		}
		if best == nil || p.Weight > best.Confidence || (p.Weight == best.Confidence && loc[0] < bestPos) {
			best = &models.Entity{Name: name, Kind: kind, Confidence: p.Weight}
			bestPos = loc[0]
		}
	}
	return best
}

var leadingArticles = []string{"The ", "Our ", "A "}

func cleanName(name string) string {
	name = strings.TrimSpace(strings.TrimRight(name, ".,;:-"))
	for _, a := range leadingArticles {
		name = strings.TrimPrefix(name, a)
	}
	return strings.TrimSpace(name)
}

// ExtractSolutionArea returns the area with the most keyword hits.
func (h *HeuristicExtractor) ExtractSolutionArea(_ context.Context, text string) (models.SolutionArea, error) {
	var best models.SolutionArea
	bestHits := 0
	for _, area := range models.SolutionAreas {
		hits := len(h.areas[area].FindAllStringIndex(text, -1))
		if hits > bestHits {
			best = area
			bestHits = hits
		}
	}
	return best, nil
}

// Summarize returns the fallback summary.
func (h *HeuristicExtractor) Summarize(_ context.Context, subject, _ string) (string, error) {
	return FallbackSummary(subject), nil
}

var (
	budgetPattern    = regexp.MustCompile(`(?i)(\$|€|£|\busd\s?|\beur\s?|\bgbp\s?)(\d[\d,]*(?:\.\d+)?)\s?(k|m|thousand|million)?\b`)
	authorityPattern = regexp.MustCompile(`(?i)\b(CIO|CTO|CISO|CFO|CEO|VP(?: of)? [A-Za-z]+|[Dd]irector of [A-Za-z]+|decision maker)\b`)
	timelinePattern  = regexp.MustCompile(`(?i)\b(Q[1-4](?:\s+(?:FY)?\d{2,4})?|next quarter|this quarter|end of (?:the )?(?:year|quarter|month)|within \d+ (?:weeks|months))\b`)
	urgentPattern    = regexp.MustCompile(`(?i)\b(asap|urgent|urgently)\b`)
	criticalPattern  = regexp.MustCompile(`(?i)\bcritical\b`)
)

// ExtractBANT scores whichever facets have a recognizable cue.
func (h *HeuristicExtractor) ExtractBANT(ctx context.Context, _, text string) (*models.BANT, error) {
	b := &models.BANT{}

	if m := budgetPattern.FindStringSubmatch(text); m != nil {
		if amount, ok := parseAmount(m[2], m[3]); ok {
			currency := currencyFor(m[1])
			budget := &models.Budget{Amount: amount, Currency: currency, Confidence: 0.6}
			if usd, ok := models.ConvertToUSD(amount, currency); ok {
				budget.AmountUSD = usd
			}
			b.Budget = budget
		}
	}

	if m := authorityPattern.FindStringSubmatch(text); m != nil {
		b.Authority = &models.Authority{
			CustomerContact: &models.Contact{Title: m[1]},
			Confidence:      0.5,
		}
	}

	if area, _ := h.ExtractSolutionArea(ctx, text); area != "" {
		b.Need = &models.Need{
			Description:  string(area),
			SolutionArea: area,
			Confidence:   0.5,
		}
	}

	if m := timelinePattern.FindStringSubmatch(text); m != nil {
		urgency := models.UrgencyMedium
		switch {
		case criticalPattern.MatchString(text):
			urgency = models.UrgencyCritical
		case urgentPattern.MatchString(text):
			urgency = models.UrgencyHigh
		}
		b.Timeline = &models.Timeline{Timeframe: m[1], Urgency: urgency, Confidence: 0.5}
	}

	b.Qualify()
	return b, nil
}

func parseAmount(digits, scale string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	switch strings.ToLower(scale) {
	case "k", "thousand":
		v *= 1_000
	case "m", "million":
		v *= 1_000_000
	}
	return v, true
}

func currencyFor(symbol string) string {
	switch strings.ToLower(strings.TrimSpace(symbol)) {
	case "€", "eur":
		return "EUR"
	case "£", "gbp":
		return "GBP"
	default:
		return "USD"
	}
}
