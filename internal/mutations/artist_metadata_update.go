package mutations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vrsandeep/mvidarr-go/internal/bulk"
	"github.com/vrsandeep/mvidarr-go/internal/store"
)

type ArtistMetadataUpdateParams struct {
	bulk.UndoParams
	Genre     *string `json:"genre,omitempty"`
	Country   *string `json:"country,omitempty"`
	Biography *string `json:"biography,omitempty"`
}

type artistPatch struct {
	Genre     optional[*string]
	Country   optional[*string]
	Biography optional[*string]
}

// ArtistMetadataUpdate edits the descriptive fields of artists. Targets are
// artist ids.
type ArtistMetadataUpdate struct {
	store *store.Store
}

func (h *ArtistMetadataUpdate) Validate(p ArtistMetadataUpdateParams) error {
	if p.IsUndo() {
		return nil
	}
	if p.Genre == nil && p.Country == nil && p.Biography == nil {
		return fmt.Errorf("%w: no artist fields given", bulk.ErrValidation)
	}
	if p.Country != nil && len(*p.Country) > 64 {
		return fmt.Errorf("%w: country is too long", bulk.ErrValidation)
	}
	return nil
}

func (h *ArtistMetadataUpdate) Apply(ctx context.Context, tx *sql.Tx, id int64, p ArtistMetadataUpdateParams) (bulk.Outcome, error) {
	artist, err := h.store.GetArtist(ctx, tx, id)
	if err != nil {
		return bulk.Outcome{}, classify(err)
	}

	var patch artistPatch
	tally := "updated"
	if p.IsUndo() {
		var snap map[string]json.RawMessage
		ok, err := p.Snapshot(id, &snap)
		if err != nil || !ok {
			return bulk.Outcome{ItemType: ItemArtist}, err
		}
		if patch, err = artistPatchFromSnapshot(snap); err != nil {
			return bulk.Outcome{}, fmt.Errorf("artist %d: %w", id, err)
		}
		tally = "restored"
	} else {
		if p.Genre != nil {
			patch.Genre = some(p.Genre)
		}
		if p.Country != nil {
			patch.Country = some(p.Country)
		}
		if p.Biography != nil {
			patch.Biography = some(p.Biography)
		}
	}

	next := *artist
	var changes []bulk.Change
	snapshot := map[string]any{}
	apply := func(name string, want optional[*string], cur **string) {
		if !want.Set || equalPtr(want.Value, *cur) {
			return
		}
		changes = append(changes, update(name, *cur, want.Value))
		snapshot[name] = *cur
		*cur = want.Value
	}
	apply("genre", patch.Genre, &next.Genre)
	apply("country", patch.Country, &next.Country)
	apply("biography", patch.Biography, &next.Biography)
	if len(changes) == 0 {
		return bulk.Outcome{ItemType: ItemArtist}, nil
	}

	if err := h.store.UpdateArtistMetadata(ctx, tx, &next); err != nil {
		return bulk.Outcome{}, classify(err)
	}
	return bulk.Outcome{
		Applied:      true,
		ItemType:     ItemArtist,
		Changes:      changes,
		UndoSnapshot: snapshot,
		Tally:        tally,
	}, nil
}

func artistPatchFromSnapshot(snap map[string]json.RawMessage) (artistPatch, error) {
	var patch artistPatch
	for name, raw := range snap {
		var err error
		switch name {
		case "genre":
			patch.Genre, err = decodeField[*string](raw)
		case "country":
			patch.Country, err = decodeField[*string](raw)
		case "biography":
			patch.Biography, err = decodeField[*string](raw)
		default:
			return patch, fmt.Errorf("%w: unknown snapshot field %q", bulk.ErrValidation, name)
		}
		if err != nil {
			return patch, fmt.Errorf("%w: snapshot field %q: %v", bulk.ErrValidation, name, err)
		}
	}
	return patch, nil
}
