package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vrsandeep/mvidarr-go/internal/models"
)

// ItemTx is one target's unit of work: the handler's mutation, its audit
// entries and its undo snapshot commit together or not at all.
//
// The transaction is deferred, so sqlite's write lock is only taken by the
// first write and released at Commit. A handler that blocks before writing
// holds no lock.
type ItemTx interface {
	// Tx is handed to the handler.
	Tx() *sql.Tx
	AppendAudit(ctx context.Context, entry models.AuditEntry) error
	// MergeUndoSnapshot keeps the first snapshot recorded for an item.
	MergeUndoSnapshot(ctx context.Context, itemID int64, snapshot json.RawMessage) error
	Commit() error
	Rollback() error
}

type itemTx struct {
	tx          *sql.Tx
	operationID string
	done        bool
}

// BeginItem opens the transaction for one target of an operation.
func (s *Store) BeginItem(ctx context.Context, operationID string) (ItemTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(fmt.Errorf("beginning item for %s: %w", operationID, err))
	}
	return &itemTx{tx: tx, operationID: operationID}, nil
}

func (t *itemTx) Tx() *sql.Tx {
	return t.tx
}

func (t *itemTx) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO bulk_operation_audit
		(operation_id, batch_sequence, item_type, item_id, action, field_name, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.operationID, e.BatchSequence, e.ItemType, e.ItemID, e.Action, e.FieldName,
		jsonText(e.OldValue), jsonText(e.NewValue), created)
	return unavailable(err)
}

func (t *itemTx) MergeUndoSnapshot(ctx context.Context, itemID int64, snapshot json.RawMessage) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO bulk_operation_undo_data (operation_id, item_id, snapshot) VALUES (?, ?, ?)
		ON CONFLICT(operation_id, item_id) DO NOTHING`,
		t.operationID, itemID, string(snapshot))
	return unavailable(err)
}

func (t *itemTx) Commit() error {
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return unavailable(fmt.Errorf("committing item for %s: %w", t.operationID, err))
	}
	return nil
}

func (t *itemTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// CommitCounters writes a chunk's absolute counters, but only while the
// operation is still RUNNING. Once a cancel has landed the counters stay at
// the last completed chunk and ErrStatusConflict is returned.
func (s *Store) CommitCounters(ctx context.Context, operationID string, processed, successful, failed int) error {
	return s.guardedExec(ctx, s.db, operationID, `
		UPDATE bulk_operations SET processed_items = ?, successful_items = ?, failed_items = ?
		WHERE id = ? AND status = ?`,
		processed, successful, failed, operationID, models.StatusRunning)
}

// ListAudit returns an operation's audit trail in batch sequence order.
func (s *Store) ListAudit(ctx context.Context, operationID string) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation_id, batch_sequence, item_type, item_id, action, field_name, old_value, new_value, created_at
		FROM bulk_operation_audit WHERE operation_id = ? ORDER BY batch_sequence ASC`, operationID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		var field, oldValue, newValue sql.NullString
		if err := rows.Scan(&e.ID, &e.OperationID, &e.BatchSequence, &e.ItemType, &e.ItemID, &e.Action,
			&field, &oldValue, &newValue, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FieldName = nullString(field)
		e.OldValue = rawJSON(oldValue)
		e.NewValue = rawJSON(newValue)
		entries = append(entries, e)
	}
	return entries, unavailable(rows.Err())
}

// LoadUndoData returns every captured pre-image of an operation.
func (s *Store) LoadUndoData(ctx context.Context, operationID string) (models.UndoData, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT item_id, snapshot FROM bulk_operation_undo_data WHERE operation_id = ? ORDER BY item_id", operationID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	data := models.UndoData{}
	for rows.Next() {
		var itemID int64
		var snapshot string
		if err := rows.Scan(&itemID, &snapshot); err != nil {
			return nil, err
		}
		data[itemID] = json.RawMessage(snapshot)
	}
	return data, unavailable(rows.Err())
}
