package bulk

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/vrsandeep/mvidarr-go/internal/models"
)

// Change is one field-level modification reported by a handler. A nil
// Field marks a whole-row change such as a delete.
type Change struct {
	Action models.AuditAction
	Field  *string
	Old    any
	New    any
}

// Outcome is what a handler reports for one item.
type Outcome struct {
	// Applied is false when the item needed no change.
	Applied  bool
	ItemType string
	Changes  []Change
	// UndoSnapshot holds the pre-mutation fields of the item, keyed the same
	// way as the audit field names. It is only persisted for undoable
	// operations.
	UndoSnapshot any
	// Tally names a counter in the operation's results summary.
	Tally string
}

// Handler is the pluggable mutation logic for one operation type, with P
// its strongly typed parameter struct.
type Handler[P any] interface {
	// Validate checks the decoded parameters once per operation.
	Validate(params P) error
	// Apply mutates one target inside its item transaction.
	Apply(ctx context.Context, tx *sql.Tx, itemID int64, params P) (Outcome, error)
}

// ApplyFunc is a handler bound to one operation's decoded parameters.
type ApplyFunc func(ctx context.Context, tx *sql.Tx, itemID int64) (Outcome, error)

type binder func(raw json.RawMessage) (ApplyFunc, error)

// Registry maps operation types to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.OperationType]binder
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.OperationType]binder)}
}

// Register adds a handler for t. It's called at startup.
func Register[P any](r *Registry, t models.OperationType, h Handler[P]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		// Panic is appropriate here as it's a developer error during setup.
		panic(fmt.Sprintf("handler for operation type '%s' is already registered", t))
	}
	r.handlers[t] = func(raw json.RawMessage) (ApplyFunc, error) {
		var params P
		if len(bytes.TrimSpace(raw)) > 0 {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&params); err != nil {
				return nil, fmt.Errorf("%w: invalid %s parameters: %v", ErrValidation, t, err)
			}
		}
		if err := h.Validate(params); err != nil {
			return nil, err
		}
		return func(ctx context.Context, tx *sql.Tx, itemID int64) (Outcome, error) {
			return h.Apply(ctx, tx, itemID, params)
		}, nil
	}
}

// Bind resolves the handler for t and decodes raw into its parameter type.
func (r *Registry) Bind(t models.OperationType, raw json.RawMessage) (ApplyFunc, error) {
	r.mu.RLock()
	b, ok := r.handlers[t]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownType, t)
	}
	return b(raw)
}

// Has reports whether a handler is registered for t.
func (r *Registry) Has(t models.OperationType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[t]
	return ok
}

// Types returns the registered operation types in sorted order.
func (r *Registry) Types() []models.OperationType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]models.OperationType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// UndoParams is embedded in every parameter struct. An operation whose
// params carry undo data restores those snapshots instead of applying its
// forward mutation.
type UndoParams struct {
	UndoData models.UndoData `json:"undo_data,omitempty"`
}

// IsUndo reports whether these params describe an inverse operation.
func (u UndoParams) IsUndo() bool {
	return len(u.UndoData) > 0
}

// Snapshot decodes the captured pre-image of itemID into dst. It returns
// false when nothing was captured for the item.
func (u UndoParams) Snapshot(itemID int64, dst any) (bool, error) {
	raw, ok := u.UndoData[itemID]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("%w: undo snapshot for item %d: %v", ErrValidation, itemID, err)
	}
	return true, nil
}
