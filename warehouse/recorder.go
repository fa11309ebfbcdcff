// ABOUTME: Records scan sessions, detected opportunities, and their created actions in the warehouse
// ABOUTME: One transaction per scan so a failed write leaves no partial session behind
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harperreed/cosell/auth"
	"github.com/harperreed/cosell/models"
)

// Recorder writes scans to the Fabric scan tables.
type Recorder struct {
	db     *sql.DB
	tables Tables
	logger *zap.Logger
}

// NewRecorder creates a recorder over db.
func NewRecorder(db *sql.DB, schema string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{db: db, tables: TablesFor(schema), logger: logger.Named("warehouse")}
}

// RecordScan inserts the session, its opportunities, and a created action per opportunity.
func (r *Recorder) RecordScan(ctx context.Context, batch models.ScanBatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.insertSession(ctx, tx, batch.Session); err != nil {
		return err
	}

	who := auth.Principal(ctx)
	for _, opp := range batch.Opportunities {
		if err := r.insertOpportunity(ctx, tx, batch.Session.ID, opp); err != nil {
			return err
		}
		if err := r.insertCreatedAction(ctx, tx, opp, who); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scan: %w", err)
	}

	r.logger.Info("scan recorded",
		zap.String("scan_id", batch.Session.ID),
		zap.Int("opportunities", len(batch.Opportunities)))
	return nil
}

func (r *Recorder) insertSession(ctx context.Context, tx *sql.Tx, s models.ScanSession) error {
	sources := make([]string, len(s.Sources))
	for i, src := range s.Sources {
		sources[i] = string(src)
	}

	var completed sql.NullTime
	if s.CompletedAt != nil {
		completed = sql.NullTime{Time: *s.CompletedAt, Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			ScanId, ScanName, ScanType, ScanDateRangeStart, ScanDateRangeEnd,
			SourcesScanned, KeywordsUsed, ScannedByUserEmail,
			ScanStatus, TotalCommunicationsScanned, OpportunitiesDetected,
			HighConfidenceCount, MediumConfidenceCount, LowConfidenceCount,
			ScanStartedAt, ScanCompletedAt, ScanDurationSeconds, ErrorMessage
		) VALUES (
			@ScanId, @ScanName, @ScanType, @ScanDateRangeStart, @ScanDateRangeEnd,
			@SourcesScanned, @KeywordsUsed, @ScannedByUserEmail,
			@ScanStatus, @TotalCommunicationsScanned, @OpportunitiesDetected,
			@HighConfidenceCount, @MediumConfidenceCount, @LowConfidenceCount,
			@ScanStartedAt, @ScanCompletedAt, @ScanDurationSeconds, @ErrorMessage
		)`, r.tables.ScanSessions)

	_, err := tx.ExecContext(ctx, query,
		sql.Named("ScanId", s.ID),
		sql.Named("ScanName", s.Name),
		sql.Named("ScanType", s.Type),
		sql.Named("ScanDateRangeStart", s.DateFrom),
		sql.Named("ScanDateRangeEnd", s.DateTo),
		sql.Named("SourcesScanned", strings.Join(sources, ",")),
		sql.Named("KeywordsUsed", strings.Join(s.Keywords, ", ")),
		sql.Named("ScannedByUserEmail", nullString(auth.Principal(ctx))),
		sql.Named("ScanStatus", s.Status),
		sql.Named("TotalCommunicationsScanned", s.TotalScanned),
		sql.Named("OpportunitiesDetected", s.Detected),
		sql.Named("HighConfidenceCount", s.Counts.High),
		sql.Named("MediumConfidenceCount", s.Counts.Medium),
		sql.Named("LowConfidenceCount", s.Counts.Low),
		sql.Named("ScanStartedAt", s.StartedAt),
		sql.Named("ScanCompletedAt", completed),
		sql.Named("ScanDurationSeconds", s.DurationSeconds),
		sql.Named("ErrorMessage", nullString(s.ErrorMessage)),
	)
	if err != nil {
		return fmt.Errorf("failed to insert scan session: %w", err)
	}
	return nil
}

func (r *Recorder) insertOpportunity(ctx context.Context, tx *sql.Tx, scanID string, opp *models.DetectedOpportunity) error {
	var partnerConf, customerConf, dealSize sql.NullFloat64
	if opp.Partner != nil {
		partnerConf = sql.NullFloat64{Float64: opp.Partner.Confidence, Valid: true}
	}
	if opp.Customer != nil {
		customerConf = sql.NullFloat64{Float64: opp.Customer.Confidence, Valid: true}
	}
	var timeline string
	if opp.BANT != nil {
		if opp.BANT.Budget != nil && opp.BANT.Budget.AmountUSD > 0 {
			dealSize = sql.NullFloat64{Float64: opp.BANT.Budget.AmountUSD, Valid: true}
		}
		if opp.BANT.Timeline != nil {
			timeline = opp.BANT.Timeline.Timeframe
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			DetectedOpportunityId, ScanId, CommunicationId, CommunicationType,
			CommunicationSubject, CommunicationFrom, CommunicationDate,
			CommunicationPreview, CommunicationContent,
			PartnerName, PartnerConfidence, CustomerName, CustomerConfidence,
			Summary, DetectedKeywords, OverallConfidence,
			SuggestedCRMAction, LinkedOpportunityId,
			EstimatedDealSize, EstimatedTimeline,
			ReviewStatus, SyncStatus
		) VALUES (
			@DetectedOpportunityId, @ScanId, @CommunicationId, @CommunicationType,
			@CommunicationSubject, @CommunicationFrom, @CommunicationDate,
			@CommunicationPreview, @CommunicationContent,
			@PartnerName, @PartnerConfidence, @CustomerName, @CustomerConfidence,
			@Summary, @DetectedKeywords, @OverallConfidence,
			@SuggestedCRMAction, @LinkedOpportunityId,
			@EstimatedDealSize, @EstimatedTimeline,
			@ReviewStatus, @SyncStatus
		)`, r.tables.DetectedOpportunities)

	_, err := tx.ExecContext(ctx, query,
		sql.Named("DetectedOpportunityId", opp.ID.String()),
		sql.Named("ScanId", scanID),
		sql.Named("CommunicationId", opp.Communication.ID),
		sql.Named("CommunicationType", string(opp.Communication.Type)),
		sql.Named("CommunicationSubject", opp.Communication.Subject),
		sql.Named("CommunicationFrom", opp.Communication.From),
		sql.Named("CommunicationDate", opp.Communication.OccurredAt),
		sql.Named("CommunicationPreview", opp.Communication.Preview),
		sql.Named("CommunicationContent", opp.Communication.Content),
		sql.Named("PartnerName", nullString(opp.PartnerName())),
		sql.Named("PartnerConfidence", partnerConf),
		sql.Named("CustomerName", nullString(opp.CustomerName())),
		sql.Named("CustomerConfidence", customerConf),
		sql.Named("Summary", opp.Summary),
		sql.Named("DetectedKeywords", strings.Join(opp.MatchedKeywords, ", ")),
		sql.Named("OverallConfidence", opp.Confidence),
		sql.Named("SuggestedCRMAction", string(opp.CRMAction)),
		sql.Named("LinkedOpportunityId", nullString(opp.ExistingOpportunityID)),
		sql.Named("EstimatedDealSize", dealSize),
		sql.Named("EstimatedTimeline", nullString(timeline)),
		sql.Named("ReviewStatus", models.ReviewStatusFor(opp.Status)),
		sql.Named("SyncStatus", "not_synced"),
	)
	if err != nil {
		return fmt.Errorf("failed to insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

func (r *Recorder) insertCreatedAction(ctx context.Context, tx *sql.Tx, opp *models.DetectedOpportunity, who string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			ActionId, DetectedOpportunityId, ActionType, ActionDescription,
			PreviousValue, NewValue, ActionByUserEmail
		) VALUES (
			@ActionId, @DetectedOpportunityId, @ActionType, @ActionDescription,
			@PreviousValue, @NewValue, @ActionByUserEmail
		)`, r.tables.OpportunityActions)

	_, err := tx.ExecContext(ctx, query,
		sql.Named("ActionId", uuid.New().String()),
		sql.Named("DetectedOpportunityId", opp.ID.String()),
		sql.Named("ActionType", models.ActionTypeCreated),
		sql.Named("ActionDescription", "Opportunity detected by scan"),
		sql.Named("PreviousValue", sql.NullString{}),
		sql.Named("NewValue", opp.Status),
		sql.Named("ActionByUserEmail", nullString(who)),
	)
	if err != nil {
		return fmt.Errorf("failed to insert action for %s: %w", opp.ID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
