// ABOUTME: Review workflow for detected opportunities: status transitions and the audit log
// ABOUTME: Every accepted transition updates the row and appends an opportunity action
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/cosell/models"
)

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrOpportunityNotFound = errors.New("opportunity not found")
)

var transitions = map[string][]string{
	models.StatusNew:       {models.StatusReview, models.StatusConfirmed, models.StatusRejected},
	models.StatusReview:    {models.StatusConfirmed, models.StatusRejected},
	models.StatusConfirmed: {models.StatusSynced, models.StatusRejected},
	models.StatusRejected:  {models.StatusReview},
}

// CanTransition reports whether an opportunity may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from status.
func NextStatuses(status string) []string {
	return append([]string(nil), transitions[status]...)
}

type statusChange struct {
	id          uuid.UUID
	to          string
	notes       string
	performedBy string
	crmID       string
}

func applyStatusChange(db *sql.DB, change statusChange) (*models.OpportunityAction, error) {
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM detected_opportunities WHERE id = ?`, change.id.String()).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrOpportunityNotFound, change.id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load opportunity status: %w", err)
	}

	if !CanTransition(current, change.to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, change.to)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE detected_opportunities
		SET status = ?,
			notes = COALESCE(?, notes),
			existing_opportunity_id = COALESCE(?, existing_opportunity_id),
			updated_at = ?
		WHERE id = ?
	`, change.to, nullString(change.notes), nullString(change.crmID), now, change.id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to update opportunity status: %w", err)
	}

	action := &models.OpportunityAction{
		OpportunityID:  change.id,
		Type:           models.ActionTypeForStatus(change.to),
		PreviousStatus: current,
		NewStatus:      change.to,
		Notes:          change.notes,
		PerformedBy:    change.performedBy,
		PerformedAt:    now,
	}
	if err := insertAction(ctx, tx, action); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status change: %w", err)
	}
	return action, nil
}

// UpdateOpportunityStatus moves an opportunity to status and logs the action.
// Empty notes keep the existing notes.
func UpdateOpportunityStatus(db *sql.DB, id uuid.UUID, status, notes, performedBy string) (*models.OpportunityAction, error) {
	if !models.IsValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	return applyStatusChange(db, statusChange{id: id, to: status, notes: notes, performedBy: performedBy})
}

// MarkSynced moves a confirmed opportunity to synced and records the CRM record it was written to.
func MarkSynced(db *sql.DB, id uuid.UUID, crmID, performedBy string) (*models.OpportunityAction, error) {
	notes := ""
	if crmID != "" {
		notes = "synced to CRM record " + crmID
	}
	return applyStatusChange(db, statusChange{id: id, to: models.StatusSynced, notes: notes, performedBy: performedBy, crmID: crmID})
}

// RecordExport appends an exported action to each opportunity. Statuses are
// unchanged, so previous and new status are both the current one.
func RecordExport(db *sql.DB, opps []models.DetectedOpportunity, notes, performedBy string) error {
	if len(opps) == 0 {
		return nil
	}
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for i := range opps {
		action := &models.OpportunityAction{
			OpportunityID:  opps[i].ID,
			Type:           models.ActionTypeExported,
			PreviousStatus: opps[i].Status,
			NewStatus:      opps[i].Status,
			Notes:          notes,
			PerformedBy:    performedBy,
			PerformedAt:    now,
		}
		if err := insertAction(ctx, tx, action); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit export actions: %w", err)
	}
	return nil
}

// GetOpportunityActions returns the audit log of an opportunity, oldest first.
func GetOpportunityActions(db *sql.DB, id uuid.UUID) ([]models.OpportunityAction, error) {
	rows, err := db.Query(`
		SELECT id, opportunity_id, action_type, previous_status, new_status, notes, performed_by, performed_at
		FROM opportunity_actions
		WHERE opportunity_id = ?
		ORDER BY performed_at ASC, rowid ASC
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get opportunity actions: %w", err)
	}
	defer rows.Close()

	var actions []models.OpportunityAction
	for rows.Next() {
		var a models.OpportunityAction
		var actionID, oppID string
		var prev, next, notes, by sql.NullString
		if err := rows.Scan(&actionID, &oppID, &a.Type, &prev, &next, &notes, &by, &a.PerformedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}
		if a.ID, err = uuid.Parse(actionID); err != nil {
			return nil, fmt.Errorf("failed to parse action ID: %w", err)
		}
		if a.OpportunityID, err = uuid.Parse(oppID); err != nil {
			return nil, fmt.Errorf("failed to parse opportunity ID: %w", err)
		}
		a.PreviousStatus = prev.String
		a.NewStatus = next.String
		a.Notes = notes.String
		a.PerformedBy = by.String
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
