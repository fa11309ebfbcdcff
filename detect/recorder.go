// ABOUTME: Scan session recording: builds the auditable session for a run and hands it to a recorder
// ABOUTME: Cancelled runs are still recorded, with the cancelled status
package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/harperreed/cosell/models"
)

// ScanBatch is what a Recorder persists for one scan.
type ScanBatch = models.ScanBatch

// Recorder persists scan sessions and their opportunities.
type Recorder interface {
	RecordScan(ctx context.Context, batch ScanBatch) error
}

// ScanRequest is a detection run plus its session metadata.
type ScanRequest struct {
	DetectRequest
	Name string
	Type string // defaults to manual, or incremental when Incremental is set
}

// NewScanID returns a time-sortable scan id.
func NewScanID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// BuildSession assembles the session record for a finished or aborted run.
func BuildSession(id string, req ScanRequest, res *Result, runErr error) models.ScanSession {
	scanType := req.Type
	if scanType == "" {
		scanType = models.ScanTypeManual
		if req.Incremental {
			scanType = models.ScanTypeIncremental
		}
	}

	session := models.ScanSession{
		ID:       id,
		Name:     req.Name,
		Type:     scanType,
		DateFrom: earliestStart(req.Window.From, res),
		DateTo:   req.Window.To,
		Sources:  orderSources(req.Sources),
		Keywords: normalizeKeywords(req.Keywords),
		Status:   models.ScanCompleted,
	}
	if session.Name == "" {
		session.Name = fmt.Sprintf("Scan %s", req.Window.To.Format("2006-01-02"))
	}

	if res != nil {
		session.TotalScanned = res.Scanned
		session.Detected = len(res.Opportunities)
		session.Counts = res.Counts
		session.StartedAt = res.Started
		finished := res.Finished
		session.CompletedAt = &finished
		session.DurationSeconds = int(res.Finished.Sub(res.Started).Seconds())
	}

	switch {
	case runErr == nil:
		if res != nil && len(res.SourceFailures) > 0 {
			session.ErrorMessage = errors.Join(sourceErrors(res.SourceFailures)...).Error()
		}
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		session.Status = models.ScanCancelled
		session.ErrorMessage = runErr.Error()
	default:
		session.Status = models.ScanFailed
		session.ErrorMessage = runErr.Error()
	}

	return session
}

// earliestStart is the oldest fetch start actually used, which is later than
// the requested start when every source resumed from scan history.
func earliestStart(from time.Time, res *Result) time.Time {
	if res == nil || len(res.EffectiveStarts) == 0 {
		return from
	}
	var earliest time.Time
	for _, start := range res.EffectiveStarts {
		if earliest.IsZero() || start.Before(earliest) {
			earliest = start
		}
	}
	return earliest
}

func sourceErrors(failures []SourceFailure) []error {
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return errs
}

// Scan runs Detect and records the session unless the request is a dry run
// or rec is nil. A recording failure is returned only when detection succeeded.
func (d *Detector) Scan(ctx context.Context, req ScanRequest, rec Recorder) (*models.ScanSession, *Result, error) {
	started := d.clock()
	res, err := d.Detect(ctx, req.DetectRequest)
	if res == nil {
		return nil, nil, err
	}

	session := BuildSession(NewScanID(started), req, res, err)
	for _, opp := range res.Opportunities {
		opp.ScanID = session.ID
	}

	if rec == nil || req.DryRun {
		return &session, res, err
	}

	recCtx := context.WithoutCancel(ctx)
	if recErr := rec.RecordScan(recCtx, ScanBatch{Session: session, Opportunities: res.Opportunities}); recErr != nil {
		if err == nil {
			return &session, res, fmt.Errorf("failed to record scan: %w", recErr)
		}
		d.logger.Error("failed to record aborted scan", zap.String("scan_id", session.ID), zap.Error(recErr))
	}
	return &session, res, err
}
