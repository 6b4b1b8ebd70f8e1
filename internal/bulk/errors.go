package bulk

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/vrsandeep/mvidarr-go/internal/store"
)

// Item-level errors. Handlers wrap these; the executor records them against
// the item and keeps going.
var (
	ErrItemNotFound = errors.New("item not found")
	ErrValidation   = errors.New("validation failed")
)

// Operation-level errors. The operation moves to FAILED.
var (
	ErrUnknownType      = errors.New("no handler registered for operation type")
	ErrStoreUnavailable = store.ErrUnavailable
	ErrShuttingDown     = errors.New("engine is shutting down")
)

// Submission errors, returned synchronously from Start and never recorded
// on the operation.
var (
	ErrAlreadyRunning = errors.New("operation is already running")
	ErrAtCapacity     = errors.New("too many operations running, try again later")
	ErrNotPending     = errors.New("operation is not pending")
)

// Undo errors.
var (
	ErrNotUndoable   = errors.New("operation cannot be undone")
	ErrAlreadyUndone = errors.New("operation has already been undone")
)

// errCancelRequested is the cause the scheduler sets on a job's context
// when the job is cancelled. Any other cause on a cancelled context means
// shutdown.
var errCancelRequested = errors.New("cancellation requested")

func cancelRequested(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errCancelRequested)
}

// ErrNotFound is returned for unknown operations, and for operations that
// belong to another user.
var ErrNotFound = errors.New("operation not found")

// isOperationLevel reports whether err means the run itself cannot go on,
// as opposed to a single bad item.
func isOperationLevel(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrUnknownType) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, sql.ErrTxDone) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
