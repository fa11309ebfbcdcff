// ABOUTME: Scan session persistence: records a finished scan with its opportunities in one transaction
// ABOUTME: Also lists and loads past sessions for the history views
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/cosell/models"
)

// Recorder writes scan batches to the local store.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// RecordScan writes the session row, every opportunity, and a created action
// per opportunity. Nothing is written if any insert fails.
func (r *Recorder) RecordScan(ctx context.Context, batch models.ScanBatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertSession(ctx, tx, &batch.Session); err != nil {
		return err
	}

	for _, opp := range batch.Opportunities {
		if opp.ScanID == "" {
			opp.ScanID = batch.Session.ID
		}
		if err := insertOpportunity(ctx, tx, opp); err != nil {
			return err
		}
		action := &models.OpportunityAction{
			OpportunityID: opp.ID,
			Type:          models.ActionTypeCreated,
			NewStatus:     opp.Status,
			Notes:         fmt.Sprintf("detected by scan %s", batch.Session.Name),
			PerformedAt:   opp.CreatedAt,
		}
		if err := insertAction(ctx, tx, action); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scan: %w", err)
	}
	return nil
}

func insertSession(ctx context.Context, tx *sql.Tx, s *models.ScanSession) error {
	sources, err := json.Marshal(s.Sources)
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}
	keywords, err := json.Marshal(s.Keywords)
	if err != nil {
		return fmt.Errorf("failed to encode keywords: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_sessions (
			id, name, scan_type, date_from, date_to, sources, keywords,
			total_scanned, detected, high_count, medium_count, low_count,
			status, error_message, started_at, completed_at, duration_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_scanned = excluded.total_scanned,
			detected = excluded.detected,
			high_count = excluded.high_count,
			medium_count = excluded.medium_count,
			low_count = excluded.low_count,
			status = excluded.status,
			error_message = excluded.error_message,
			completed_at = excluded.completed_at,
			duration_seconds = excluded.duration_seconds
	`,
		s.ID, s.Name, s.Type, s.DateFrom, s.DateTo, string(sources), string(keywords),
		s.TotalScanned, s.Detected, s.Counts.High, s.Counts.Medium, s.Counts.Low,
		s.Status, nullString(s.ErrorMessage), s.StartedAt, s.CompletedAt, s.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scan session: %w", err)
	}
	return nil
}

func insertAction(ctx context.Context, tx *sql.Tx, a *models.OpportunityAction) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.PerformedAt.IsZero() {
		a.PerformedAt = time.Now()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO opportunity_actions (id, opportunity_id, action_type, previous_status, new_status, notes, performed_by, performed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID.String(), a.OpportunityID.String(), a.Type, nullString(a.PreviousStatus), nullString(a.NewStatus),
		nullString(a.Notes), nullString(a.PerformedBy), a.PerformedAt)
	if err != nil {
		return fmt.Errorf("failed to insert opportunity action: %w", err)
	}
	return nil
}

const sessionColumns = `
	id, name, scan_type, date_from, date_to, sources, keywords,
	total_scanned, detected, high_count, medium_count, low_count,
	status, error_message, started_at, completed_at, duration_seconds`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.ScanSession, error) {
	s := &models.ScanSession{}
	var sources, keywords string
	var errMsg sql.NullString
	var completed sql.NullTime

	err := row.Scan(
		&s.ID, &s.Name, &s.Type, &s.DateFrom, &s.DateTo, &sources, &keywords,
		&s.TotalScanned, &s.Detected, &s.Counts.High, &s.Counts.Medium, &s.Counts.Low,
		&s.Status, &errMsg, &s.StartedAt, &completed, &s.DurationSeconds,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(sources), &s.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &s.Keywords); err != nil {
		return nil, fmt.Errorf("failed to decode keywords: %w", err)
	}
	s.ErrorMessage = errMsg.String
	if completed.Valid {
		t := completed.Time
		s.CompletedAt = &t
	}
	return s, nil
}

// GetScanSession returns the session with id, or nil when it does not exist.
func GetScanSession(db *sql.DB, id string) (*models.ScanSession, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM scan_sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan session: %w", err)
	}
	return s, nil
}

// ListScanSessions returns the most recent sessions first.
func ListScanSessions(db *sql.DB, limit int) ([]models.ScanSession, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.Query(`SELECT `+sessionColumns+` FROM scan_sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.ScanSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
