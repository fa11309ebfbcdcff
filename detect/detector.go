// ABOUTME: Opportunity detection pipeline: fetch, normalize, keyword filter, extract, score, validate
// ABOUTME: Extraction fans out with a bound; scan history advances only for sources fetched successfully
package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harperreed/cosell/extract"
	"github.com/harperreed/cosell/models"
	"github.com/harperreed/cosell/sync"
)

var (
	ErrInvalidRequest    = errors.New("invalid detect request")
	ErrFetchFailure      = errors.New("source fetch failed")
	ErrExtractionFailure = errors.New("extraction failed")
	ErrCRMQueryFailure   = errors.New("crm query failed")
)

// DefaultKeywords are the co-sell cues scanned for when none are configured.
var DefaultKeywords = []string{
	"co-sell",
	"partner",
	"joint opportunity",
	"collaboration",
	"partnership",
	"referral",
}

// DefaultConcurrency bounds in-flight extractions.
const DefaultConcurrency = 4

// SourceProvider fetches raw records of one source type for a window.
type SourceProvider interface {
	Fetch(ctx context.Context, source models.SourceType, from, to time.Time) ([]sync.RawCommunication, error)
}

// History is the scan-history store the detector reads and advances.
type History interface {
	LastScanDate(source models.SourceType) (*time.Time, error)
	UpdateScanDate(source models.SourceType, t time.Time) error
	UpdateFullScanDate(t time.Time) error
}

// Window is an inclusive time range.
type Window struct {
	From time.Time
	To   time.Time
}

// DetectRequest describes one detection run.
type DetectRequest struct {
	Window      Window
	Sources     []models.SourceType
	Keywords    []string
	Incremental bool
	DryRun      bool // leaves scan history untouched
}

// Validate rejects requests that cannot produce a meaningful scan.
func (r DetectRequest) Validate() error {
	if len(normalizeKeywords(r.Keywords)) == 0 {
		return fmt.Errorf("%w: no keywords", ErrInvalidRequest)
	}
	if len(r.Sources) == 0 {
		return fmt.Errorf("%w: no sources", ErrInvalidRequest)
	}
	if r.Window.From.IsZero() || r.Window.To.IsZero() {
		return fmt.Errorf("%w: window bounds are required", ErrInvalidRequest)
	}
	if r.Window.From.After(r.Window.To) {
		return fmt.Errorf("%w: from is after to", ErrInvalidRequest)
	}
	return nil
}

// SourceFailure records a source whose fetch failed.
type SourceFailure struct {
	Source models.SourceType
	Err    error
}

func (f SourceFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Source, f.Err)
}

// Unwrap lets errors.Is match both ErrFetchFailure and the cause.
func (f SourceFailure) Unwrap() []error {
	return []error{ErrFetchFailure, f.Err}
}

// Result is the outcome of a detection run.
type Result struct {
	Opportunities      []*models.DetectedOpportunity
	Scanned            int
	Skipped            int
	ExtractionFailures int
	SourceFailures     []SourceFailure
	EffectiveStarts    map[models.SourceType]time.Time // fetch start used per source
	Counts             models.ConfidenceCounts
	Validation         ValidationStats
	Started            time.Time
	Finished           time.Time
}

// Options configures a Detector.
type Options struct {
	Sources     map[models.SourceType]SourceProvider
	Extractor   extract.Extractor
	Validator   *Validator // nil skips cross-validation
	History     History    // nil disables incremental starts and history writes
	Clock       func() time.Time
	Concurrency int
	Logger      *zap.Logger
}

// Detector turns communications into detected opportunities.
type Detector struct {
	sources     map[models.SourceType]SourceProvider
	extractor   extract.Extractor
	validator   *Validator
	history     History
	clock       func() time.Time
	concurrency int
	logger      *zap.Logger
}

// New creates a Detector.
func New(opts Options) *Detector {
	d := &Detector{
		sources:     opts.Sources,
		extractor:   opts.Extractor,
		validator:   opts.Validator,
		history:     opts.History,
		clock:       opts.Clock,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	if d.concurrency < 1 {
		d.concurrency = DefaultConcurrency
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.logger = d.logger.Named("detector")
	if d.extractor == nil {
		d.extractor = extract.NewHeuristicExtractor()
	}
	return d
}

// orderSources returns the requested sources in scan order without duplicates.
func orderSources(requested []models.SourceType) []models.SourceType {
	want := make(map[models.SourceType]bool, len(requested))
	for _, s := range requested {
		want[s] = true
	}
	var ordered []models.SourceType
	for _, s := range models.AllSources {
		if want[s] {
			ordered = append(ordered, s)
		}
	}
	return ordered
}

func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		lower := strings.ToLower(k)
		if k == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, k)
	}
	return out
}

// MatchKeywords returns the keywords found in subject, preview, or content,
// compared case-insensitively, in keyword order.
func MatchKeywords(comm models.Communication, keywords []string) []string {
	haystack := strings.ToLower(comm.Subject + "\n" + comm.Preview + "\n" + comm.Content)
	var matched []string
	for _, k := range keywords {
		if strings.Contains(haystack, strings.ToLower(k)) {
			matched = append(matched, k)
		}
	}
	return matched
}

type candidate struct {
	comm    models.Communication
	matched []string
}

// Detect runs one detection pass. On cancellation it returns the context
// error together with the partial result and writes no scan history.
func (d *Detector) Detect(ctx context.Context, req DetectRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	keywords := normalizeKeywords(req.Keywords)
	res := &Result{Started: d.clock(), EffectiveStarts: make(map[models.SourceType]time.Time)}

	d.logger.Info("scan started",
		zap.Time("from", req.Window.From),
		zap.Time("to", req.Window.To),
		zap.Int("keywords", len(keywords)),
		zap.Bool("incremental", req.Incremental))

	var fetched []models.SourceType
	var candidates []candidate

	for _, source := range orderSources(req.Sources) {
		if err := ctx.Err(); err != nil {
			return d.abort(res, err)
		}

		from := d.effectiveStart(source, req)
		if from.After(req.Window.To) {
			d.logger.Debug("source already scanned through window end", zap.String("source", string(source)))
			fetched = append(fetched, source)
			continue
		}

		provider := d.sources[source]
		if provider == nil {
			res.SourceFailures = append(res.SourceFailures, SourceFailure{Source: source, Err: errors.New("no provider configured")})
			continue
		}

		res.EffectiveStarts[source] = from
		raws, err := provider.Fetch(ctx, source, from, req.Window.To)
		if err != nil {
			if ctx.Err() != nil {
				return d.abort(res, ctx.Err())
			}
			// The whole batch fails so the next incremental run refetches it.
			d.logger.Warn("source fetch failed",
				zap.String("source", string(source)),
				zap.Int("discarded", len(raws)),
				zap.Error(err))
			res.SourceFailures = append(res.SourceFailures, SourceFailure{Source: source, Err: err})
			continue
		}
		fetched = append(fetched, source)

		comms, skipped := sync.NormalizeBatch(source, raws)
		res.Scanned += len(raws)
		res.Skipped += skipped
		if skipped > 0 {
			d.logger.Warn("skipped malformed records", zap.String("source", string(source)), zap.Int("skipped", skipped))
		}

		for _, comm := range comms {
			if matched := MatchKeywords(comm, keywords); len(matched) > 0 {
				candidates = append(candidates, candidate{comm: comm, matched: matched})
			}
		}
	}

	opps, err := d.extractAll(ctx, candidates, res)
	res.Opportunities = opps
	if err != nil {
		return d.abort(res, err)
	}

	if d.validator != nil {
		res.Validation = d.validator.Validate(ctx, opps)
	}
	if err := ctx.Err(); err != nil {
		return d.abort(res, err)
	}

	if !req.DryRun {
		d.advanceHistory(fetched)
	}

	res.Counts = models.CountByBucket(res.Opportunities)
	res.Finished = d.clock()

	d.logger.Info("scan finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("detected", len(res.Opportunities)),
		zap.Int("skipped", res.Skipped),
		zap.Int("extraction_failures", res.ExtractionFailures),
		zap.Int("source_failures", len(res.SourceFailures)),
		zap.Duration("elapsed", res.Finished.Sub(res.Started)))

	return res, nil
}

func (d *Detector) abort(res *Result, err error) (*Result, error) {
	res.Counts = models.CountByBucket(res.Opportunities)
	res.Finished = d.clock()
	d.logger.Warn("scan aborted", zap.Error(err), zap.Int("detected", len(res.Opportunities)))
	return res, err
}

func (d *Detector) effectiveStart(source models.SourceType, req DetectRequest) time.Time {
	from := req.Window.From
	if !req.Incremental || d.history == nil {
		return from
	}
	last, err := d.history.LastScanDate(source)
	if err != nil {
		d.logger.Warn("failed to read scan history", zap.String("source", string(source)), zap.Error(err))
		return from
	}
	if last != nil && last.After(from) {
		return *last
	}
	return from
}

func (d *Detector) advanceHistory(fetched []models.SourceType) {
	if d.history == nil || len(fetched) == 0 {
		return
	}
	now := d.clock()
	for _, source := range fetched {
		if err := d.history.UpdateScanDate(source, now); err != nil {
			d.logger.Warn("failed to update scan history", zap.String("source", string(source)), zap.Error(err))
		}
	}
	if err := d.history.UpdateFullScanDate(now); err != nil {
		d.logger.Warn("failed to update full scan date", zap.Error(err))
	}
}

// extractAll extracts every candidate with bounded concurrency, keeping input order.
// On cancellation the opportunities completed so far are returned with the error.
func (d *Detector) extractAll(ctx context.Context, candidates []candidate, res *Result) ([]*models.DetectedOpportunity, error) {
	slots := make([]*models.DetectedOpportunity, len(candidates))
	var mu stdsync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, c := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			opp, failures := d.extractOne(gctx, c)
			mu.Lock()
			slots[i] = opp
			res.ExtractionFailures += failures
			mu.Unlock()
			return nil
		})
	}
	waitErr := g.Wait()

	opps := make([]*models.DetectedOpportunity, 0, len(slots))
	for _, opp := range slots {
		if opp != nil {
			opps = append(opps, opp)
		}
	}

	if err := ctx.Err(); err != nil {
		return opps, err
	}
	return opps, waitErr
}

func (d *Detector) extractOne(ctx context.Context, c candidate) (*models.DetectedOpportunity, int) {
	text := c.comm.Content
	if strings.TrimSpace(text) == "" {
		text = c.comm.Preview
	}
	failures := 0
	fail := func(field string, err error) {
		failures++
		d.logger.Warn("extraction degraded",
			zap.String("communication_id", c.comm.ID),
			zap.String("field", field),
			zap.Error(fmt.Errorf("%w: %w", ErrExtractionFailure, err)))
	}

	partner, err := d.extractor.ExtractPartner(ctx, text)
	if err != nil {
		fail("partner", err)
		partner = nil
	}
	customer, err := d.extractor.ExtractCustomer(ctx, text)
	if err != nil {
		fail("customer", err)
		customer = nil
	}
	area, err := d.extractor.ExtractSolutionArea(ctx, text)
	if err != nil {
		fail("solution_area", err)
		area = ""
	}
	summary, err := d.extractor.Summarize(ctx, c.comm.Subject, text)
	if err != nil {
		fail("summary", err)
	}
	if strings.TrimSpace(summary) == "" {
		summary = extract.FallbackSummary(c.comm.Subject)
	}

	var bant *models.BANT
	if be, ok := d.extractor.(extract.BANTExtractor); ok {
		bant, err = be.ExtractBANT(ctx, c.comm.Subject, text)
		if err != nil {
			fail("bant", err)
			bant = nil
		}
	}

	now := d.clock()
	return &models.DetectedOpportunity{
		ID:              uuid.New(),
		Communication:   c.comm,
		Partner:         partner,
		Customer:        customer,
		SolutionArea:    area,
		Summary:         summary,
		MatchedKeywords: c.matched,
		Confidence:      models.Score(len(c.matched), partner, customer),
		Status:          models.StatusNew,
		CRMAction:       models.ActionCreate,
		BANT:            bant,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, failures
}
