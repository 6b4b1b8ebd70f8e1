package mutations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vrsandeep/mvidarr-go/internal/bulk"
	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/store"
)

type StatusUpdateParams struct {
	bulk.UndoParams
	Status models.VideoStatus `json:"status"`
}

type statusSnapshot struct {
	Status models.VideoStatus `json:"status"`
}

// StatusUpdate moves videos to a new acquisition status.
type StatusUpdate struct {
	store *store.Store
}

func (h *StatusUpdate) Validate(p StatusUpdateParams) error {
	if p.IsUndo() {
		return nil
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: invalid video status %q", bulk.ErrValidation, p.Status)
	}
	return nil
}

func (h *StatusUpdate) Apply(ctx context.Context, tx *sql.Tx, id int64, p StatusUpdateParams) (bulk.Outcome, error) {
	video, err := h.store.GetVideo(ctx, tx, id)
	if err != nil {
		return bulk.Outcome{}, classify(err)
	}

	target := p.Status
	tally := "updated"
	if p.IsUndo() {
		var snap statusSnapshot
		ok, err := p.Snapshot(id, &snap)
		if err != nil || !ok {
			return bulk.Outcome{ItemType: ItemVideo}, err
		}
		if !snap.Status.Valid() {
			return bulk.Outcome{}, fmt.Errorf("%w: snapshot status %q for video %d", bulk.ErrValidation, snap.Status, id)
		}
		target = snap.Status
		tally = "restored"
	}

	if video.Status == target {
		return bulk.Outcome{ItemType: ItemVideo}, nil
	}
	if err := h.store.UpdateVideoStatus(ctx, tx, id, target); err != nil {
		return bulk.Outcome{}, classify(err)
	}
	return bulk.Outcome{
		Applied:      true,
		ItemType:     ItemVideo,
		Changes:      []bulk.Change{update("status", video.Status, target)},
		UndoSnapshot: statusSnapshot{Status: video.Status},
		Tally:        tally,
	}, nil
}
