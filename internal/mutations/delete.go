package mutations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vrsandeep/mvidarr-go/internal/bulk"
	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/store"
)

type DeleteParams struct {
	bulk.UndoParams
}

// Delete removes videos from the library. Its inverse re-inserts the
// captured rows with their original ids.
type Delete struct {
	store *store.Store
}

func (h *Delete) Validate(p DeleteParams) error {
	return nil
}

func (h *Delete) Apply(ctx context.Context, tx *sql.Tx, id int64, p DeleteParams) (bulk.Outcome, error) {
	if p.IsUndo() {
		return h.restore(ctx, tx, id, p)
	}

	video, err := h.store.GetVideo(ctx, tx, id)
	if err != nil {
		return bulk.Outcome{}, classify(err)
	}
	if err := h.store.DeleteVideo(ctx, tx, id); err != nil {
		return bulk.Outcome{}, classify(err)
	}
	return bulk.Outcome{
		Applied:      true,
		ItemType:     ItemVideo,
		Changes:      []bulk.Change{{Action: models.ActionDelete, Old: video}},
		UndoSnapshot: video,
		Tally:        "deleted",
	}, nil
}

func (h *Delete) restore(ctx context.Context, tx *sql.Tx, id int64, p DeleteParams) (bulk.Outcome, error) {
	var video models.Video
	ok, err := p.Snapshot(id, &video)
	if err != nil || !ok {
		return bulk.Outcome{ItemType: ItemVideo}, err
	}
	if video.ID != id {
		return bulk.Outcome{}, fmt.Errorf("%w: snapshot for video %d holds id %d", bulk.ErrValidation, id, video.ID)
	}

	// Already back, e.g. re-created by hand after the delete.
	_, err = h.store.GetVideo(ctx, tx, id)
	if err == nil {
		return bulk.Outcome{ItemType: ItemVideo}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return bulk.Outcome{}, classify(err)
	}

	if err := h.store.RestoreVideo(ctx, tx, &video); err != nil {
		return bulk.Outcome{}, classify(err)
	}
	return bulk.Outcome{
		Applied:  true,
		ItemType: ItemVideo,
		Changes:  []bulk.Change{{Action: models.ActionCreate, New: video}},
		Tally:    "restored",
	}, nil
}
