package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vrsandeep/mvidarr-go/internal/models"
)

const operationColumns = `
	id, user_id, type, name, description, target_ids, params, status,
	total_items, processed_items, successful_items, failed_items,
	is_undoable, is_preview, undo_of, undo_operation_id, undone_at, undone_by, results,
	progress_stage, progress_current_item, progress_message, progress_items_per_second,
	progress_recent_rate, progress_eta_seconds, progress_updated_at,
	created_at, started_at, completed_at`

func scanOperation(row rowScanner) (*models.Operation, error) {
	var (
		op                        models.Operation
		targets, params, results  sql.NullString
		undoOf, undoOpID          sql.NullString
		undoneAt, progressUpdated sql.NullTime
		startedAt, completedAt    sql.NullTime
		undoneBy, currentItem     sql.NullInt64
		eta                       sql.NullFloat64
	)
	err := row.Scan(
		&op.ID, &op.UserID, &op.Type, &op.Name, &op.Description, &targets, &params, &op.Status,
		&op.TotalItems, &op.ProcessedItems, &op.SuccessfulItems, &op.FailedItems,
		&op.IsUndoable, &op.IsPreview, &undoOf, &undoOpID, &undoneAt, &undoneBy, &results,
		&op.Progress.Stage, &currentItem, &op.Progress.Message, &op.Progress.ItemsPerSecond,
		&op.Progress.RecentItemsPerSecond, &eta, &progressUpdated,
		&op.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if targets.Valid {
		if err := json.Unmarshal([]byte(targets.String), &op.TargetIDs); err != nil {
			return nil, fmt.Errorf("decoding target ids of operation %s: %w", op.ID, err)
		}
	}
	if op.TargetIDs == nil {
		op.TargetIDs = []int64{}
	}
	op.Params = rawJSON(params)
	if results.Valid {
		if err := json.Unmarshal([]byte(results.String), &op.Results); err != nil {
			return nil, fmt.Errorf("decoding results of operation %s: %w", op.ID, err)
		}
	}
	op.UndoOf = nullString(undoOf)
	op.UndoOperationID = nullString(undoOpID)
	op.UndoneAt = nullTime(undoneAt)
	op.UndoneBy = nullInt64(undoneBy)
	op.Progress.CurrentItem = nullInt64(currentItem)
	op.Progress.EstimatedSecondsLeft = nullFloat(eta)
	op.Progress.UpdatedAt = nullTime(progressUpdated)
	op.StartedAt = nullTime(startedAt)
	op.CompletedAt = nullTime(completedAt)
	return &op, nil
}

// CreateOperation inserts a new operation row. The caller assigns the id.
func (s *Store) CreateOperation(ctx context.Context, op *models.Operation) error {
	targets, err := json.Marshal(op.TargetIDs)
	if err != nil {
		return fmt.Errorf("encoding target ids: %w", err)
	}
	params := op.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if op.Status == "" {
		op.Status = models.StatusPending
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bulk_operations
		(id, user_id, type, name, description, target_ids, params, status, total_items,
		 is_undoable, is_preview, undo_of, progress_stage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.UserID, op.Type, op.Name, op.Description, string(targets), string(params), op.Status,
		len(op.TargetIDs), op.IsUndoable, op.IsPreview, op.UndoOf, op.Progress.Stage, op.CreatedAt,
	)
	if err != nil {
		return unavailable(fmt.Errorf("creating operation %s: %w", op.ID, err))
	}
	op.TotalItems = len(op.TargetIDs)
	return nil
}

// GetOperation retrieves a single operation by id.
func (s *Store) GetOperation(ctx context.Context, id string) (*models.Operation, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+operationColumns+" FROM bulk_operations WHERE id = ?", id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return op, nil
}

// ListOperationsForUser returns the user's operations, newest first. An empty
// status matches every status.
func (s *Store) ListOperationsForUser(ctx context.Context, userID int64, status models.OperationStatus, limit int) ([]*models.Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + operationColumns + " FROM bulk_operations WHERE user_id = ?"
	args := []any{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	return s.queryOperations(ctx, query, args...)
}

// ListStaleRunning returns RUNNING operations started before the cutoff.
func (s *Store) ListStaleRunning(ctx context.Context, startedBefore time.Time) ([]*models.Operation, error) {
	query := "SELECT " + operationColumns + " FROM bulk_operations WHERE status = ? AND started_at < ? ORDER BY started_at ASC"
	return s.queryOperations(ctx, query, models.StatusRunning, startedBefore)
}

func (s *Store) queryOperations(ctx context.Context, query string, args ...any) ([]*models.Operation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	ops := []*models.Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, unavailable(rows.Err())
}

// TransitionStatus moves an operation to `to` only if its current status is
// one of `from`. RUNNING stamps started_at and terminal states stamp
// completed_at; neither is ever overwritten once set.
// It returns ErrStatusConflict when the guard did not match.
func (s *Store) TransitionStatus(ctx context.Context, id string, from []models.OperationStatus, to models.OperationStatus, at time.Time) error {
	if len(from) == 0 {
		return fmt.Errorf("transition of %s to %s: no source status given", id, to)
	}
	for _, f := range from {
		if !models.CanTransition(f, to) {
			return fmt.Errorf("transition %s -> %s is not allowed", f, to)
		}
	}

	set := []string{"status = ?"}
	args := []any{to}
	if to == models.StatusRunning {
		set = append(set, "started_at = COALESCE(started_at, ?)")
		args = append(args, at)
	}
	if to.IsTerminal() {
		set = append(set, "completed_at = COALESCE(completed_at, ?)", "progress_current_item = NULL")
		args = append(args, at)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	args = append(args, id)
	for _, f := range from {
		args = append(args, f)
	}

	query := fmt.Sprintf("UPDATE bulk_operations SET %s WHERE id = ? AND status IN (%s)", strings.Join(set, ", "), placeholders)
	return s.guardedExec(ctx, s.db, id, query, args...)
}

// FinishOperation moves a RUNNING operation to a terminal state and records
// the results summary in the same statement.
func (s *Store) FinishOperation(ctx context.Context, id string, to models.OperationStatus, results map[string]any, message string, at time.Time) error {
	if !to.IsTerminal() {
		return fmt.Errorf("finish of %s: %s is not a terminal status", id, to)
	}
	var encoded any
	if results != nil {
		b, err := json.Marshal(results)
		if err != nil {
			return fmt.Errorf("encoding results: %w", err)
		}
		encoded = string(b)
	}
	return s.guardedExec(ctx, s.db, id, `
		UPDATE bulk_operations SET
			status = ?, results = ?, completed_at = COALESCE(completed_at, ?),
			progress_stage = ?, progress_message = ?, progress_current_item = NULL,
			progress_eta_seconds = 0, progress_updated_at = ?
		WHERE id = ? AND status = ?`,
		to, encoded, at, strings.ToLower(string(to)), message, at, id, models.StatusRunning)
}

// UpdateProgress overwrites the advisory progress snapshot of a RUNNING operation.
func (s *Store) UpdateProgress(ctx context.Context, id string, p models.Progress) error {
	updated := time.Now().UTC()
	if p.UpdatedAt != nil {
		updated = *p.UpdatedAt
	}
	return s.guardedExec(ctx, s.db, id, `
		UPDATE bulk_operations SET
			progress_stage = ?, progress_current_item = ?, progress_message = ?,
			progress_items_per_second = ?, progress_recent_rate = ?, progress_eta_seconds = ?,
			progress_updated_at = ?
		WHERE id = ? AND status = ?`,
		p.Stage, p.CurrentItem, p.Message, p.ItemsPerSecond, p.RecentItemsPerSecond,
		p.EstimatedSecondsLeft, updated, id, models.StatusRunning)
}

// MarkUndone stamps a COMPLETED operation as undone. It succeeds at most once
// per operation.
func (s *Store) MarkUndone(ctx context.Context, id string, userID int64, undoOperationID string, at time.Time) error {
	return s.guardedExec(ctx, s.db, id, `
		UPDATE bulk_operations SET undone_at = ?, undone_by = ?, undo_operation_id = ?
		WHERE id = ? AND status = ? AND undone_at IS NULL`,
		at, userID, undoOperationID, id, models.StatusCompleted)
}

// ClearUndone removes the undo stamp MarkUndone wrote, but only if it still
// points at undoOperationID.
func (s *Store) ClearUndone(ctx context.Context, id, undoOperationID string) error {
	return s.guardedExec(ctx, s.db, id, `
		UPDATE bulk_operations SET undone_at = NULL, undone_by = NULL, undo_operation_id = NULL
		WHERE id = ? AND undo_operation_id = ?`,
		id, undoOperationID)
}

// AppendOperationError records an error against an operation, or against one
// of its items when itemID is set.
func (s *Store) AppendOperationError(ctx context.Context, id string, itemID *int64, message string) error {
	return appendError(ctx, s.db, id, itemID, message)
}

// ListErrors returns up to limit errors in the order they were recorded.
// A non-positive limit returns all of them.
func (s *Store) ListErrors(ctx context.Context, id string, limit int) ([]models.ErrorEntry, error) {
	query := "SELECT item_id, message, created_at FROM bulk_operation_errors WHERE operation_id = ? ORDER BY id ASC"
	args := []any{id}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	entries := []models.ErrorEntry{}
	for rows.Next() {
		var e models.ErrorEntry
		var itemID sql.NullInt64
		if err := rows.Scan(&itemID, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ItemID = nullInt64(itemID)
		entries = append(entries, e)
	}
	return entries, unavailable(rows.Err())
}

// CountErrors returns the total number of errors recorded for an operation.
func (s *Store) CountErrors(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bulk_operation_errors WHERE operation_id = ?", id).Scan(&n)
	return n, unavailable(err)
}

func appendError(ctx context.Context, q Querier, id string, itemID *int64, message string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO bulk_operation_errors (operation_id, item_id, message, created_at) VALUES (?, ?, ?, ?)",
		id, itemID, message, time.Now().UTC())
	return unavailable(err)
}

// guardedExec runs a compare-and-set update. When it matches no row it
// distinguishes a missing operation from a lost race.
func (s *Store) guardedExec(ctx context.Context, q Querier, id, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return unavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if affected > 0 {
		return nil
	}
	var exists int
	err = q.QueryRowContext(ctx, "SELECT 1 FROM bulk_operations WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return unavailable(err)
	}
	return ErrStatusConflict
}
