package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vrsandeep/mvidarr-go/internal/logger"
	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/store"
)

// Undo creates and submits the inverse of a completed operation. It returns
// the id of the new operation once the scheduler has accepted it.
func (e *Engine) Undo(ctx context.Context, id string, userID int64) (string, error) {
	e.undoMu.Lock()
	defer e.undoMu.Unlock()

	orig, err := e.owned(ctx, id, userID)
	if err != nil {
		return "", err
	}
	if orig.IsUndone() {
		return "", fmt.Errorf("%w: %s", ErrAlreadyUndone, id)
	}
	if orig.Status != models.StatusCompleted || !orig.IsUndoable || orig.IsPreview {
		return "", fmt.Errorf("%w: %s is %s (undoable=%t)", ErrNotUndoable, id, orig.Status, orig.IsUndoable)
	}

	data, err := e.collectUndoData(ctx, orig.ID)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s captured no undo data", ErrNotUndoable, id)
	}
	params, err := json.Marshal(UndoParams{UndoData: data})
	if err != nil {
		return "", fmt.Errorf("encoding undo params: %w", err)
	}

	origID := orig.ID
	inverse := &models.Operation{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        orig.Type,
		Name:        "Undo: " + orig.Name,
		Description: fmt.Sprintf("Reverts operation %s", orig.ID),
		TargetIDs:   orig.TargetIDs,
		Params:      params,
		Status:      models.StatusPending,
		IsUndoable:  false,
		UndoOf:      &origID,
		CreatedAt:   e.now(),
	}
	inverse.Progress.Stage = StageInitializing
	if err := e.store.CreateOperation(ctx, inverse); err != nil {
		return "", fmt.Errorf("creating undo operation: %w", err)
	}

	// Stamp before submitting so a second undo can never race this one.
	if err := e.store.MarkUndone(ctx, orig.ID, userID, inverse.ID, e.now()); err != nil {
		e.abandonUndo(ctx, inverse.ID)
		if errors.Is(err, store.ErrStatusConflict) {
			return "", fmt.Errorf("%w: %s", ErrAlreadyUndone, id)
		}
		return "", fmt.Errorf("stamping %s as undone: %w", id, err)
	}

	if err := e.scheduler.Submit(inverse.ID); err != nil {
		if cerr := e.store.ClearUndone(ctx, orig.ID, inverse.ID); cerr != nil {
			logger.Warn("could not clear undo stamp", "operation_id", orig.ID, "undo_operation_id", inverse.ID, "error", cerr)
		}
		e.abandonUndo(ctx, inverse.ID)
		return "", err
	}
	logger.Info("undo submitted", "operation_id", orig.ID, "undo_operation_id", inverse.ID, "user_id", userID)
	return inverse.ID, nil
}

// abandonUndo closes out an inverse operation that will never run so it
// doesn't linger as PENDING.
func (e *Engine) abandonUndo(ctx context.Context, inverseID string) {
	ctx = context.WithoutCancel(ctx)
	err := e.store.TransitionStatus(ctx, inverseID, []models.OperationStatus{models.StatusPending}, models.StatusCancelled, e.now())
	if err != nil {
		logger.Warn("could not cancel abandoned undo operation", "operation_id", inverseID, "error", err)
	}
}

// collectUndoData returns the captured snapshots of an operation. Items that
// have audit entries but no snapshot are rebuilt from the entries' old
// values.
func (e *Engine) collectUndoData(ctx context.Context, id string) (models.UndoData, error) {
	data, err := e.store.LoadUndoData(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading undo data: %w", err)
	}
	entries, err := e.store.ListAudit(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading audit trail: %w", err)
	}

	rebuilt := map[int64]map[string]json.RawMessage{}
	rows := map[int64]json.RawMessage{}
	// Walk backwards so the earliest old value of a field wins.
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if _, ok := data[entry.ItemID]; ok {
			continue
		}
		switch {
		case entry.Action == models.ActionDelete && len(entry.OldValue) > 0:
			rows[entry.ItemID] = entry.OldValue
		case entry.FieldName != nil:
			fields, ok := rebuilt[entry.ItemID]
			if !ok {
				fields = map[string]json.RawMessage{}
				rebuilt[entry.ItemID] = fields
			}
			old := entry.OldValue
			if len(old) == 0 {
				old = json.RawMessage("null")
			}
			fields[*entry.FieldName] = old
		}
	}
	for itemID, row := range rows {
		data[itemID] = row
	}
	for itemID, fields := range rebuilt {
		if _, ok := data[itemID]; ok {
			continue
		}
		b, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("encoding rebuilt snapshot for item %d: %w", itemID, err)
		}
		data[itemID] = b
	}
	return data, nil
}
