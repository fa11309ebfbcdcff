// ABOUTME: Opportunity confidence scoring and confidence buckets
// ABOUTME: Combines keyword density with extracted entity confidences
package models

import "math"

const (
	baseConfidence      = 0.3
	keywordWeight       = 0.1
	maxKeywordBoost     = 0.3
	entityWeight        = 0.2
	highConfidenceFloor = 0.8
	mediumConfidence    = 0.5
)

// Score computes the 0..1 confidence of a detected opportunity.
func Score(matchedKeywordCount int, partner, customer *Entity) float64 {
	if matchedKeywordCount < 0 {
		matchedKeywordCount = 0
	}

	confidence := baseConfidence
	confidence += math.Min(float64(matchedKeywordCount)*keywordWeight, maxKeywordBoost)

	if partner != nil {
		confidence += clampUnit(partner.Confidence) * entityWeight
	}
	if customer != nil {
		confidence += clampUnit(customer.Confidence) * entityWeight
	}

	return math.Min(round2(confidence), 1)
}

// Confidence buckets
const (
	BucketHigh   = "high"
	BucketMedium = "medium"
	BucketLow    = "low"
)

// ConfidenceCounts holds opportunity counts per confidence bucket.
type ConfidenceCounts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Total returns the sum of all buckets.
func (c ConfidenceCounts) Total() int {
	return c.High + c.Medium + c.Low
}

// Add counts one confidence value into its bucket.
func (c *ConfidenceCounts) Add(confidence float64) {
	switch BucketFor(confidence) {
	case BucketHigh:
		c.High++
	case BucketMedium:
		c.Medium++
	default:
		c.Low++
	}
}

// BucketFor returns the bucket a confidence value falls in.
func BucketFor(confidence float64) string {
	switch {
	case confidence >= highConfidenceFloor:
		return BucketHigh
	case confidence >= mediumConfidence:
		return BucketMedium
	default:
		return BucketLow
	}
}

// CountByBucket buckets the confidence of every opportunity.
func CountByBucket(opps []*DetectedOpportunity) ConfidenceCounts {
	var counts ConfidenceCounts
	for _, opp := range opps {
		if opp != nil {
			counts.Add(opp.Confidence)
		}
	}
	return counts
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
