// ABOUTME: OpenAI-compatible LLM extractor for partners, customers, solution areas, summaries, and BANT
// ABOUTME: Requests JSON replies, rate-limits calls, and defaults missing confidences from config
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/harperreed/cosell/models"
)

// Config holds configuration for the LLM extractor.
type Config struct {
	Endpoint          string  // Base URL, e.g. "https://api.openai.com/v1"
	Model             string  // Model name, e.g. "gpt-4o-mini"
	APIKey            string  // Optional for local endpoints
	RequestsPerSec    float64 // 0 disables limiting
	Burst             int
	DefaultConfidence float64 // Used when a reply omits a confidence
}

// LLMExtractor implements Extractor and BANTExtractor over chat completions.
type LLMExtractor struct {
	client            *openai.Client
	model             string
	limiter           *rate.Limiter
	defaultConfidence float64
	logger            *zap.Logger
}

// NewLLMExtractor creates an extractor for an OpenAI-compatible endpoint.
func NewLLMExtractor(cfg Config, logger *zap.Logger) (*LLMExtractor, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSec > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst)
	}

	confidence := cfg.DefaultConfidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.5
	}

	return &LLMExtractor{
		client:            openai.NewClientWithConfig(clientConfig),
		model:             cfg.Model,
		limiter:           limiter,
		defaultConfidence: confidence,
		logger:            logger.Named("llm"),
	}, nil
}

const entitySystemPrompt = "You extract company names from business communications. Reply with JSON only."

type entityReply struct {
	Name       *string  `json:"name"`
	Confidence *float64 `json:"confidence"`
}

// ExtractPartner finds the partner company mentioned in text.
func (e *LLMExtractor) ExtractPartner(ctx context.Context, text string) (*models.Entity, error) {
	prompt := fmt.Sprintf(`Extract the partner company name from this text. If no partner is mentioned, use null.

Text: %s

Return a JSON object with:
- name: the partner company name (or null)
- confidence: a number between 0 and 1 indicating confidence`, text)
	return e.extractEntity(ctx, prompt, models.EntityPartner)
}

// ExtractCustomer finds the customer company mentioned in text.
func (e *LLMExtractor) ExtractCustomer(ctx context.Context, text string) (*models.Entity, error) {
	prompt := fmt.Sprintf(`Extract the customer/client company name from this text. If no customer is mentioned, use null.

Text: %s

Return a JSON object with:
- name: the customer company name (or null)
- confidence: a number between 0 and 1 indicating confidence`, text)
	return e.extractEntity(ctx, prompt, models.EntityCustomer)
}

func (e *LLMExtractor) extractEntity(ctx context.Context, prompt string, kind models.EntityKind) (*models.Entity, error) {
	reply, err := e.complete(ctx, entitySystemPrompt, prompt, true)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", kind, err)
	}

	var parsed entityReply
	if err := decodeReply(reply, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse %s reply: %w", kind, err)
	}
	if parsed.Name == nil || strings.TrimSpace(*parsed.Name) == "" {
		return nil, nil
	}

	return &models.Entity{
		Name:       strings.TrimSpace(*parsed.Name),
		Kind:       kind,
		Confidence: e.confidenceOr(parsed.Confidence),
	}, nil
}

// ExtractSolutionArea classifies text into one of the known solution areas.
func (e *LLMExtractor) ExtractSolutionArea(ctx context.Context, text string) (models.SolutionArea, error) {
	areas := make([]string, len(models.SolutionAreas))
	for i, a := range models.SolutionAreas {
		areas[i] = string(a)
	}

	prompt := fmt.Sprintf(`Classify the solution area of this co-sell discussion.

Text: %s

Return a JSON object with:
- solution_area: one of %s, or null if none applies`, text, strings.Join(areas, ", "))

	reply, err := e.complete(ctx, entitySystemPrompt, prompt, true)
	if err != nil {
		return "", fmt.Errorf("failed to extract solution area: %w", err)
	}

	var parsed struct {
		SolutionArea *string `json:"solution_area"`
	}
	if err := decodeReply(reply, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse solution area reply: %w", err)
	}
	if parsed.SolutionArea == nil {
		return "", nil
	}
	return models.ParseSolutionArea(*parsed.SolutionArea), nil
}

// Summarize writes a one or two sentence summary. On failure it returns the
// fallback summary together with the error.
func (e *LLMExtractor) Summarize(ctx context.Context, subject, text string) (string, error) {
	prompt := fmt.Sprintf(`Summarize this communication in 1-2 sentences, focusing on the co-sell opportunity aspects.

Subject: %s
Content: %s

Provide a concise summary (max 50 words) that captures the key opportunity details.`, subject, truncateRunes(text, MaxSummaryInput))

	reply, err := e.complete(ctx, "You summarize partner co-sell communications.", prompt, false)
	if err != nil {
		return FallbackSummary(subject), fmt.Errorf("failed to summarize: %w", err)
	}

	summary := strings.TrimSpace(thinkTagPattern.ReplaceAllString(reply, ""))
	if summary == "" {
		return FallbackSummary(subject), nil
	}
	return summary, nil
}

type bantReply struct {
	Budget *struct {
		Amount     float64  `json:"amount"`
		Currency   string   `json:"currency"`
		Confidence *float64 `json:"confidence"`
	} `json:"budget"`
	Authority *struct {
		CustomerContact *models.Contact `json:"customer_contact"`
		PartnerContact  *models.Contact `json:"partner_contact"`
		Confidence      *float64        `json:"confidence"`
	} `json:"authority"`
	Need *struct {
		Description  string   `json:"description"`
		SolutionArea string   `json:"solution_area"`
		Products     []string `json:"products"`
		Services     []string `json:"services"`
		Confidence   *float64 `json:"confidence"`
	} `json:"need"`
	Timeline *struct {
		EstimatedCloseDate string   `json:"estimated_close_date"`
		Timeframe          string   `json:"timeframe"`
		Urgency            string   `json:"urgency"`
		Confidence         *float64 `json:"confidence"`
	} `json:"timeline"`
}

// ExtractBANT qualifies the opportunity described in text.
func (e *LLMExtractor) ExtractBANT(ctx context.Context, subject, text string) (*models.BANT, error) {
	prompt := fmt.Sprintf(`Assess budget, authority, need, and timeline for this co-sell discussion.
Use null for any element that is not discussed.

Subject: %s
Content: %s

Return a JSON object with:
- budget: {amount, currency (ISO code), confidence} or null
- authority: {customer_contact: {name, title, email}, partner_contact: {name, title, email}, confidence} or null
- need: {description, solution_area, products, services, confidence} or null
- timeline: {estimated_close_date (YYYY-MM-DD), timeframe, urgency (low|medium|high|critical), confidence} or null
Confidences are numbers between 0 and 1.`, subject, truncateRunes(text, MaxSummaryInput))

	reply, err := e.complete(ctx, entitySystemPrompt, prompt, true)
	if err != nil {
		return nil, fmt.Errorf("failed to extract BANT: %w", err)
	}

	var parsed bantReply
	if err := decodeReply(reply, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse BANT reply: %w", err)
	}

	return e.toBANT(parsed), nil
}

// confidenceOr clamps a reported confidence to [0, 1], using the default
// only when the model left it out.
func (e *LLMExtractor) confidenceOr(c *float64) float64 {
	if c == nil {
		return e.defaultConfidence
	}
	return max(0, min(*c, 1))
}

func (e *LLMExtractor) toBANT(r bantReply) *models.BANT {
	b := &models.BANT{}

	if r.Budget != nil && r.Budget.Amount > 0 {
		currency := strings.ToUpper(strings.TrimSpace(r.Budget.Currency))
		if currency == "" {
			currency = "USD"
		}
		budget := &models.Budget{
			Amount:     r.Budget.Amount,
			Currency:   currency,
			Confidence: e.confidenceOr(r.Budget.Confidence),
		}
		if usd, ok := models.ConvertToUSD(budget.Amount, currency); ok {
			budget.AmountUSD = usd
		}
		b.Budget = budget
	}

	if r.Authority != nil && (r.Authority.CustomerContact != nil || r.Authority.PartnerContact != nil) {
		b.Authority = &models.Authority{
			CustomerContact: r.Authority.CustomerContact,
			PartnerContact:  r.Authority.PartnerContact,
			Confidence:      e.confidenceOr(r.Authority.Confidence),
		}
	}

	if r.Need != nil && strings.TrimSpace(r.Need.Description) != "" {
		b.Need = &models.Need{
			Description:  r.Need.Description,
			SolutionArea: models.ParseSolutionArea(r.Need.SolutionArea),
			Products:     r.Need.Products,
			Services:     r.Need.Services,
			Confidence:   e.confidenceOr(r.Need.Confidence),
		}
	}

	if r.Timeline != nil && (r.Timeline.Timeframe != "" || r.Timeline.EstimatedCloseDate != "") {
		timeline := &models.Timeline{
			Timeframe:  r.Timeline.Timeframe,
			Confidence: e.confidenceOr(r.Timeline.Confidence),
		}
		if models.IsValidUrgency(r.Timeline.Urgency) {
			timeline.Urgency = r.Timeline.Urgency
		}
		if d, err := time.Parse("2006-01-02", r.Timeline.EstimatedCloseDate); err == nil {
			timeline.EstimatedCloseDate = &d
		}
		b.Timeline = timeline
	}

	b.Qualify()
	return b
}

func (e *LLMExtractor) complete(ctx context.Context, system, prompt string, jsonMode bool) (string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	e.logger.Debug("LLM request",
		zap.String("model", e.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Bool("json", jsonMode))

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		e.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	e.logger.Debug("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}
