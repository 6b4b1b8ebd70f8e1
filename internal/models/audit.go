package models

import (
	"encoding/json"
	"time"
)

// AuditAction is the kind of change an audit entry records.
type AuditAction string

const (
	ActionUpdate AuditAction = "update"
	ActionDelete AuditAction = "delete"
	ActionCreate AuditAction = "create"
)

// AuditEntry is one immutable field change applied to one target.
// BatchSequence is strictly increasing within an operation.
type AuditEntry struct {
	ID            int64           `json:"id"`
	OperationID   string          `json:"operation_id"`
	BatchSequence int64           `json:"batch_sequence"`
	ItemType      string          `json:"item_type"`
	ItemID        int64           `json:"item_id"`
	Action        AuditAction     `json:"action"`
	FieldName     *string         `json:"field_name"`
	OldValue      json.RawMessage `json:"old_value"`
	NewValue      json.RawMessage `json:"new_value"`
	CreatedAt     time.Time       `json:"created_at"`
}
