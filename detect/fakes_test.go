// ABOUTME: Test doubles for source providers, extractors, CRM queries, history, and recorders
// ABOUTME: Each fake records its calls so tests can assert on interactions
package detect

import (
	"context"
	"errors"
	"strings"
	stdsync "sync"
	"time"

	"github.com/harperreed/cosell/models"
	"github.com/harperreed/cosell/sync"
)

type fakeProvider struct {
	mu    stdsync.Mutex
	raws  map[models.SourceType][]sync.RawCommunication
	errs  map[models.SourceType]error
	calls map[models.SourceType][2]time.Time
	hook  func(source models.SourceType)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		raws:  make(map[models.SourceType][]sync.RawCommunication),
		errs:  make(map[models.SourceType]error),
		calls: make(map[models.SourceType][2]time.Time),
	}
}

func (p *fakeProvider) Fetch(ctx context.Context, source models.SourceType, from, to time.Time) ([]sync.RawCommunication, error) {
	p.mu.Lock()
	p.calls[source] = [2]time.Time{from, to}
	hook := p.hook
	p.mu.Unlock()
	if hook != nil {
		hook(source)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// raws set alongside an error model a source that fetched part of its records
	return p.raws[source], p.errs[source]
}

// stubExtractor answers from fixed tables keyed by substrings of the text.
type stubExtractor struct {
	mu        stdsync.Mutex
	partners  map[string]*models.Entity
	customers map[string]*models.Entity
	failOn    string
	texts     []string
	delay     time.Duration
}

func (s *stubExtractor) record(text string) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
}

func (s *stubExtractor) lookup(table map[string]*models.Entity, text string) *models.Entity {
	for k, e := range table {
		if strings.Contains(text, k) {
			cp := *e
			return &cp
		}
	}
	return nil
}

func (s *stubExtractor) ExtractPartner(ctx context.Context, text string) (*models.Entity, error) {
	s.record(text)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.failOn != "" && strings.Contains(text, s.failOn) {
		return nil, errors.New("llm unavailable")
	}
	return s.lookup(s.partners, text), nil
}

func (s *stubExtractor) ExtractCustomer(_ context.Context, text string) (*models.Entity, error) {
	return s.lookup(s.customers, text), nil
}

func (s *stubExtractor) ExtractSolutionArea(context.Context, string) (models.SolutionArea, error) {
	return models.SolutionAzureMigration, nil
}

func (s *stubExtractor) Summarize(_ context.Context, subject, _ string) (string, error) {
	return "summary of " + subject, nil
}

func (s *stubExtractor) calledWith(fragment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.texts {
		if strings.Contains(t, fragment) {
			return true
		}
	}
	return false
}

// outageExtractor fails every call, BANT included, for text containing down,
// and answers like its embedded stub otherwise.
type outageExtractor struct {
	*stubExtractor
	down string
	bant *models.BANT
}

var errLLMDown = errors.New("llm unavailable")

func (o *outageExtractor) ExtractPartner(ctx context.Context, text string) (*models.Entity, error) {
	if strings.Contains(text, o.down) {
		return nil, errLLMDown
	}
	return o.stubExtractor.ExtractPartner(ctx, text)
}

func (o *outageExtractor) ExtractCustomer(ctx context.Context, text string) (*models.Entity, error) {
	if strings.Contains(text, o.down) {
		return nil, errLLMDown
	}
	return o.stubExtractor.ExtractCustomer(ctx, text)
}

func (o *outageExtractor) ExtractSolutionArea(ctx context.Context, text string) (models.SolutionArea, error) {
	if strings.Contains(text, o.down) {
		return "", errLLMDown
	}
	return o.stubExtractor.ExtractSolutionArea(ctx, text)
}

func (o *outageExtractor) Summarize(ctx context.Context, subject, text string) (string, error) {
	if strings.Contains(text, o.down) {
		return "", errLLMDown
	}
	return o.stubExtractor.Summarize(ctx, subject, text)
}

func (o *outageExtractor) ExtractBANT(_ context.Context, _, text string) (*models.BANT, error) {
	if strings.Contains(text, o.down) {
		return nil, errLLMDown
	}
	cp := *o.bant
	return &cp, nil
}

type fakeQuery struct {
	mu        stdsync.Mutex
	open      map[string][]models.CRMOpportunity
	referrals map[string][]models.CRMReferral
	err       error
	oppCalls  int
	refCalls  int
}

func (q *fakeQuery) FindOpenOpportunitiesForCustomer(_ context.Context, customer string) ([]models.CRMOpportunity, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.oppCalls++
	if q.err != nil {
		return nil, q.err
	}
	return q.open[customer], nil
}

func (q *fakeQuery) FindPartnerReferralsForOpportunity(_ context.Context, id string) ([]models.CRMReferral, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.refCalls++
	return q.referrals[id], nil
}

type memHistory struct {
	mu      stdsync.Mutex
	sources map[models.SourceType]time.Time
	full    *time.Time
	writes  int
}

func newMemHistory() *memHistory {
	return &memHistory{sources: make(map[models.SourceType]time.Time)}
}

func (h *memHistory) LastScanDate(source models.SourceType) (*time.Time, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.sources[source]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (h *memHistory) UpdateScanDate(source models.SourceType, t time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writes++
	h.sources[source] = t
	return nil
}

func (h *memHistory) UpdateFullScanDate(t time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writes++
	h.full = &t
	return nil
}

type captureRecorder struct {
	batches []models.ScanBatch
	err     error
	ctxErr  error
}

func (r *captureRecorder) RecordScan(ctx context.Context, batch models.ScanBatch) error {
	r.ctxErr = ctx.Err()
	r.batches = append(r.batches, batch)
	return r.err
}
