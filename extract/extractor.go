// ABOUTME: Entity, solution-area, summary, and BANT extraction contracts for detected communications
// ABOUTME: Implemented by an LLM-backed extractor and a rule-based heuristic extractor
package extract

import (
	"context"
	"fmt"

	"github.com/harperreed/cosell/models"
)

// MaxSummaryInput is the rune limit of text sent for summarization.
const MaxSummaryInput = 2000

// Extractor pulls structured signals out of free text.
// A nil entity with a nil error means nothing was found.
type Extractor interface {
	ExtractPartner(ctx context.Context, text string) (*models.Entity, error)
	ExtractCustomer(ctx context.Context, text string) (*models.Entity, error)
	ExtractSolutionArea(ctx context.Context, text string) (models.SolutionArea, error)
	Summarize(ctx context.Context, subject, text string) (string, error)
}

// BANTExtractor is implemented by extractors that can qualify an opportunity.
type BANTExtractor interface {
	ExtractBANT(ctx context.Context, subject, text string) (*models.BANT, error)
}

// FallbackSummary is used when no summary could be generated.
func FallbackSummary(subject string) string {
	return fmt.Sprintf("Discussion about %s", subject)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
