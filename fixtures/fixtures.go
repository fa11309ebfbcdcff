// ABOUTME: Deterministic test data builders for communications and detected opportunities
// ABOUTME: Seeded so every test run sees the same partners, customers, and timestamps
package fixtures

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/cosell/models"
	"github.com/harperreed/cosell/sync"
)

var (
	Partners  = []string{"Acme Corp", "Fabrikam Inc", "Northwind Traders", "Litware LLC", "Tailspin Ltd"}
	Customers = []string{"Contoso", "Woodgrove Bank", "Adventure Works", "Wingtip Toys", "Proseware"}
	Senders   = []string{"Pat Jones", "Sam Lee", "Ana Ruiz", "Kim Obi"}
)

// Epoch is the base time of generated data.
var Epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// Builder produces repeatable test records.
type Builder struct {
	rng *rand.Rand
	seq int
}

// New creates a builder seeded with seed.
func New(seed int64) *Builder {
	return &Builder{rng: rand.New(rand.NewSource(seed))}
}

func (b *Builder) next(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s-%03d", prefix, b.seq)
}

func (b *Builder) pick(options []string) string {
	return options[b.rng.Intn(len(options))]
}

// At returns Epoch plus a deterministic offset of up to days.
func (b *Builder) At(days int) time.Time {
	if days < 1 {
		return Epoch
	}
	return Epoch.Add(time.Duration(b.rng.Intn(days*24)) * time.Hour)
}

// CoSellBody writes a body the heuristic extractor recognizes.
func CoSellBody(partner, customer string) string {
	return fmt.Sprintf("Our partner %s wants to co-sell an Azure migration with customer %s. Budget is $250k, targeting Q3.", partner, customer)
}

// Mail returns a co-sell mail with a random partner and customer.
func (b *Builder) Mail() sync.RawMail {
	partner, customer := b.pick(Partners), b.pick(Customers)
	return sync.RawMail{
		ID:         b.next("mail"),
		Subject:    fmt.Sprintf("Co-sell: %s x %s", partner, customer),
		From:       b.pick(Senders),
		ReceivedAt: b.At(14),
		Body:       CoSellBody(partner, customer),
	}
}

// PlainMail returns a mail with no co-sell keywords.
func (b *Builder) PlainMail() sync.RawMail {
	return sync.RawMail{
		ID:         b.next("mail"),
		Subject:    "Lunch",
		From:       b.pick(Senders),
		ReceivedAt: b.At(14),
		Body:       "Are we still on for lunch on Friday?",
	}
}

// Chat returns a co-sell Teams chat message.
func (b *Builder) Chat() sync.RawChat {
	partner, customer := b.pick(Partners), b.pick(Customers)
	return sync.RawChat{
		ID:        b.next("chat"),
		ChatID:    "19:thread",
		Topic:     customer + " deal",
		From:      b.pick(Senders),
		CreatedAt: b.At(14),
		Body:      "<p>" + CoSellBody(partner, customer) + "</p>",
	}
}

// Transcript returns a co-sell meeting transcript.
func (b *Builder) Transcript() sync.RawTranscript {
	partner, customer := b.pick(Partners), b.pick(Customers)
	return sync.RawTranscript{
		ID:        b.next("transcript"),
		MeetingID: b.next("meeting"),
		Subject:   customer + " sync",
		Organizer: b.pick(Senders),
		CreatedAt: b.At(14),
		Content:   "Sam Lee: " + CoSellBody(partner, customer),
	}
}

// Opportunity returns a new detected opportunity with status new and action create.
func (b *Builder) Opportunity() *models.DetectedOpportunity {
	partner, customer := b.pick(Partners), b.pick(Customers)
	occurred := b.At(14)
	p := &models.Entity{Name: partner, Kind: models.EntityPartner, Confidence: 0.5 + float64(b.rng.Intn(50))/100}
	c := &models.Entity{Name: customer, Kind: models.EntityCustomer, Confidence: 0.5 + float64(b.rng.Intn(50))/100}
	keywords := []string{"co-sell", "partner"}[:1+b.rng.Intn(2)]

	bant := &models.BANT{
		Budget:   &models.Budget{Amount: 250000, Currency: "USD", AmountUSD: 250000, Confidence: 0.6},
		Timeline: &models.Timeline{Timeframe: "Q3", Urgency: models.UrgencyMedium, Confidence: 0.5},
	}
	bant.Qualify()

	return &models.DetectedOpportunity{
		ID: uuid.New(),
		Communication: models.Communication{
			ID:         b.next("comm"),
			Type:       models.AllSources[b.rng.Intn(len(models.AllSources))],
			Subject:    fmt.Sprintf("Co-sell: %s x %s", partner, customer),
			From:       b.pick(Senders),
			OccurredAt: occurred,
			Preview:    sync.Preview(CoSellBody(partner, customer)),
			Content:    CoSellBody(partner, customer),
		},
		Partner:         p,
		Customer:        c,
		SolutionArea:    models.SolutionAzureMigration,
		Summary:         fmt.Sprintf("%s and %s discuss a joint migration.", partner, customer),
		MatchedKeywords: keywords,
		Confidence:      models.Score(len(keywords), p, c),
		Status:          models.StatusNew,
		CRMAction:       models.ActionCreate,
		BANT:            bant,
		CreatedAt:       occurred,
		UpdatedAt:       occurred,
	}
}

// Opportunities returns n opportunities.
func (b *Builder) Opportunities(n int) []*models.DetectedOpportunity {
	opps := make([]*models.DetectedOpportunity, n)
	for i := range opps {
		opps[i] = b.Opportunity()
	}
	return opps
}

// Session returns a completed scan session covering opps.
func (b *Builder) Session(opps []*models.DetectedOpportunity) models.ScanSession {
	completed := Epoch.Add(15 * 24 * time.Hour)
	id := fmt.Sprintf("01HSCAN%019d", b.rng.Int63())
	for _, o := range opps {
		o.ScanID = id
	}
	return models.ScanSession{
		ID:              id,
		Name:            "fixture scan",
		Type:            models.ScanTypeManual,
		DateFrom:        Epoch,
		DateTo:          completed,
		Sources:         append([]models.SourceType(nil), models.AllSources...),
		Keywords:        []string{"co-sell", "partner"},
		TotalScanned:    len(opps) * 2,
		Detected:        len(opps),
		Counts:          models.CountByBucket(opps),
		Status:          models.ScanCompleted,
		StartedAt:       completed.Add(-time.Minute),
		CompletedAt:     &completed,
		DurationSeconds: 60,
	}
}
