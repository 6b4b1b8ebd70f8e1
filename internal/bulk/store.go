package bulk

import (
	"context"
	"time"

	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/store"
)

// Store is the durable state the engine runs against. *store.Store
// implements it on sqlite.
type Store interface {
	CreateOperation(ctx context.Context, op *models.Operation) error
	GetOperation(ctx context.Context, id string) (*models.Operation, error)
	ListOperationsForUser(ctx context.Context, userID int64, status models.OperationStatus, limit int) ([]*models.Operation, error)

	TransitionStatus(ctx context.Context, id string, from []models.OperationStatus, to models.OperationStatus, at time.Time) error
	FinishOperation(ctx context.Context, id string, to models.OperationStatus, results map[string]any, message string, at time.Time) error
	UpdateProgress(ctx context.Context, id string, p models.Progress) error
	AppendOperationError(ctx context.Context, id string, itemID *int64, message string) error
	BeginItem(ctx context.Context, id string) (store.ItemTx, error)
	CommitCounters(ctx context.Context, id string, processed, successful, failed int) error

	ListErrors(ctx context.Context, id string, limit int) ([]models.ErrorEntry, error)
	CountErrors(ctx context.Context, id string) (int, error)
	ListAudit(ctx context.Context, id string) ([]models.AuditEntry, error)
	LoadUndoData(ctx context.Context, id string) (models.UndoData, error)
	MarkUndone(ctx context.Context, id string, userID int64, undoOperationID string, at time.Time) error
	ClearUndone(ctx context.Context, id, undoOperationID string) error
}

var _ Store = (*store.Store)(nil)
