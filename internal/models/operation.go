package models

import (
	"encoding/json"
	"time"
)

// OperationType selects the mutation handler an operation is dispatched to.
type OperationType string

const (
	TypeStatusUpdate         OperationType = "status_update"
	TypeMetadataUpdate       OperationType = "metadata_update"
	TypeDelete               OperationType = "delete"
	TypeArtistMetadataUpdate OperationType = "artist_metadata_update"
)

// OperationStatus is the lifecycle state of a bulk operation.
type OperationStatus string

const (
	StatusPending   OperationStatus = "PENDING"
	StatusRunning   OperationStatus = "RUNNING"
	StatusCompleted OperationStatus = "COMPLETED"
	StatusFailed    OperationStatus = "FAILED"
	StatusCancelled OperationStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s OperationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s OperationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a forward lifecycle move.
func CanTransition(from, to OperationStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	}
	return false
}

// UndoData maps a target id to the pre-mutation snapshot its handler captured.
type UndoData map[int64]json.RawMessage

// ErrorEntry is one item-level (or operation-level, with no item) failure.
type ErrorEntry struct {
	ItemID    *int64    `json:"item_id"`
	Message   string    `json:"error_message"`
	CreatedAt time.Time `json:"created_at"`
}

// Progress is the advisory live view of a running operation.
type Progress struct {
	Stage                string     `json:"stage"`
	CurrentItem          *int64     `json:"current_item,omitempty"`
	Message              string     `json:"message"`
	ItemsPerSecond       float64    `json:"items_per_second"`
	RecentItemsPerSecond float64    `json:"recent_items_per_second"`
	EstimatedSecondsLeft *float64   `json:"eta_seconds"`
	UpdatedAt            *time.Time `json:"updated_at,omitempty"`
}

// Operation is the durable record of one bulk job.
type Operation struct {
	ID          string          `json:"id"`
	UserID      int64           `json:"user_id"`
	Type        OperationType   `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	TargetIDs   []int64         `json:"target_ids"`
	Params      json.RawMessage `json:"params"`
	Status      OperationStatus `json:"status"`

	TotalItems      int `json:"total_items"`
	ProcessedItems  int `json:"processed_items"`
	SuccessfulItems int `json:"successful_items"`
	FailedItems     int `json:"failed_items"`

	IsUndoable      bool       `json:"is_undoable"`
	IsPreview       bool       `json:"is_preview"`
	UndoOf          *string    `json:"undo_of,omitempty"`
	UndoOperationID *string    `json:"undo_operation_id,omitempty"`
	UndoneAt        *time.Time `json:"undone_at,omitempty"`
	UndoneBy        *int64     `json:"undone_by,omitempty"`

	Results  map[string]any `json:"results,omitempty"`
	Progress Progress       `json:"progress"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ProgressPercent is processed/total*100, or 0 for an empty operation.
func (o *Operation) ProgressPercent() float64 {
	if o.TotalItems <= 0 {
		return 0
	}
	return float64(o.ProcessedItems) / float64(o.TotalItems) * 100
}

// IsUndone reports whether an undo has already been issued against o.
func (o *Operation) IsUndone() bool {
	return o.UndoneAt != nil
}

// OperationView is what status queries return.
type OperationView struct {
	*Operation
	ProgressPercent float64      `json:"progress_percentage"`
	Errors          []ErrorEntry `json:"errors"`
	ErrorCount      int          `json:"error_count"`
}
