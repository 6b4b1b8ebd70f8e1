package mutations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vrsandeep/mvidarr-go/internal/bulk"
	"github.com/vrsandeep/mvidarr-go/internal/store"
)

// Fields absent from the params are left alone.
type MetadataUpdateParams struct {
	bulk.UndoParams
	Title    *string `json:"title,omitempty"`
	Year     *int    `json:"year,omitempty"`
	Genre    *string `json:"genre,omitempty"`
	Director *string `json:"director,omitempty"`
}

const (
	minYear = 1900
	maxYear = 2100
)

type videoPatch struct {
	Title    optional[string]
	Year     optional[*int]
	Genre    optional[*string]
	Director optional[*string]
}

func (p MetadataUpdateParams) patch() videoPatch {
	var patch videoPatch
	if p.Title != nil {
		patch.Title = some(*p.Title)
	}
	if p.Year != nil {
		patch.Year = some(p.Year)
	}
	if p.Genre != nil {
		patch.Genre = some(p.Genre)
	}
	if p.Director != nil {
		patch.Director = some(p.Director)
	}
	return patch
}

// MetadataUpdate edits the descriptive fields of videos.
type MetadataUpdate struct {
	store *store.Store
}

func (h *MetadataUpdate) Validate(p MetadataUpdateParams) error {
	if p.IsUndo() {
		return nil
	}
	if p.Title == nil && p.Year == nil && p.Genre == nil && p.Director == nil {
		return fmt.Errorf("%w: no metadata fields given", bulk.ErrValidation)
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title cannot be empty", bulk.ErrValidation)
	}
	if p.Year != nil && (*p.Year < minYear || *p.Year > maxYear) {
		return fmt.Errorf("%w: year %d out of range %d-%d", bulk.ErrValidation, *p.Year, minYear, maxYear)
	}
	return nil
}

func (h *MetadataUpdate) Apply(ctx context.Context, tx *sql.Tx, id int64, p MetadataUpdateParams) (bulk.Outcome, error) {
	video, err := h.store.GetVideo(ctx, tx, id)
	if err != nil {
		return bulk.Outcome{}, classify(err)
	}

	patch := p.patch()
	tally := "updated"
	if p.IsUndo() {
		var snap map[string]json.RawMessage
		ok, err := p.Snapshot(id, &snap)
		if err != nil || !ok {
			return bulk.Outcome{ItemType: ItemVideo}, err
		}
		if patch, err = videoPatchFromSnapshot(snap); err != nil {
			return bulk.Outcome{}, fmt.Errorf("video %d: %w", id, err)
		}
		tally = "restored"
	}

	next := *video
	var changes []bulk.Change
	snapshot := map[string]any{}
	if patch.Title.Set && patch.Title.Value != video.Title {
		changes = append(changes, update("title", video.Title, patch.Title.Value))
		snapshot["title"] = video.Title
		next.Title = patch.Title.Value
	}
	if patch.Year.Set && !equalPtr(patch.Year.Value, video.Year) {
		changes = append(changes, update("year", video.Year, patch.Year.Value))
		snapshot["year"] = video.Year
		next.Year = patch.Year.Value
	}
	if patch.Genre.Set && !equalPtr(patch.Genre.Value, video.Genre) {
		changes = append(changes, update("genre", video.Genre, patch.Genre.Value))
		snapshot["genre"] = video.Genre
		next.Genre = patch.Genre.Value
	}
	if patch.Director.Set && !equalPtr(patch.Director.Value, video.Director) {
		changes = append(changes, update("director", video.Director, patch.Director.Value))
		snapshot["director"] = video.Director
		next.Director = patch.Director.Value
	}
	if len(changes) == 0 {
		return bulk.Outcome{ItemType: ItemVideo}, nil
	}

	if err := h.store.UpdateVideoMetadata(ctx, tx, &next); err != nil {
		return bulk.Outcome{}, classify(err)
	}
	return bulk.Outcome{
		Applied:      true,
		ItemType:     ItemVideo,
		Changes:      changes,
		UndoSnapshot: snapshot,
		Tally:        tally,
	}, nil
}

// videoPatchFromSnapshot turns a captured pre-image back into a patch. A
// JSON null restores a nullable field to NULL.
func videoPatchFromSnapshot(snap map[string]json.RawMessage) (videoPatch, error) {
	var patch videoPatch
	for name, raw := range snap {
		var err error
		switch name {
		case "title":
			patch.Title, err = decodeField[string](raw)
		case "year":
			patch.Year, err = decodeField[*int](raw)
		case "genre":
			patch.Genre, err = decodeField[*string](raw)
		case "director":
			patch.Director, err = decodeField[*string](raw)
		default:
			return patch, fmt.Errorf("%w: unknown snapshot field %q", bulk.ErrValidation, name)
		}
		if err != nil {
			return patch, fmt.Errorf("%w: snapshot field %q: %v", bulk.ErrValidation, name, err)
		}
	}
	return patch, nil
}
