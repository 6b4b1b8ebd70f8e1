package bulk

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/vrsandeep/mvidarr-go/internal/logger"
	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/store"
)

// DefaultPreviewSecondsPerItem is the per-item cost used for preview estimates.
const DefaultPreviewSecondsPerItem = 0.05

// Preview completes a preview operation without invoking any handler. The
// parameters are still decoded and validated so a preview reports the same
// errors the real run would fail with.
func (e *Executor) Preview(ctx context.Context, op *models.Operation) (models.OperationStatus, error) {
	if _, err := e.registry.Bind(op.Type, op.Params); err != nil {
		return op.Status, err
	}

	at := e.now()
	if err := e.store.TransitionStatus(ctx, op.ID, []models.OperationStatus{models.StatusPending}, models.StatusRunning, at); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return e.currentStatus(ctx, op.ID), nil
		}
		return op.Status, fmt.Errorf("starting preview %s: %w", op.ID, err)
	}

	results := PreviewResults(op.TotalItems, e.chunkSize, e.previewSecondsPerItem)
	message := fmt.Sprintf("Preview: would affect %d items", op.TotalItems)
	if err := e.store.FinishOperation(ctx, op.ID, models.StatusCompleted, results, message, e.now()); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return e.currentStatus(ctx, op.ID), nil
		}
		return models.StatusRunning, fmt.Errorf("completing preview %s: %w", op.ID, err)
	}
	logger.Info("bulk preview completed", "operation_id", op.ID, "type", op.Type, "would_affect", op.TotalItems)
	return models.StatusCompleted, nil
}

// PreviewResults is the results summary of a preview run.
func PreviewResults(total, chunkSize int, secondsPerItem float64) map[string]any {
	if secondsPerItem <= 0 {
		secondsPerItem = DefaultPreviewSecondsPerItem
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return map[string]any{
		"preview":           true,
		"would_affect":      total,
		"estimated_seconds": math.Round(float64(total)*secondsPerItem*100) / 100,
		"chunks":            (total + chunkSize - 1) / chunkSize,
	}
}
