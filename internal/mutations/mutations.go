// Package mutations holds the bulk handlers for the music video library.
package mutations

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/vrsandeep/mvidarr-go/internal/bulk"
	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/store"
)

// Item types recorded in audit entries.
const (
	ItemVideo  = "video"
	ItemArtist = "artist"
)

// RegisterAll registers every library handler with the registry.
func RegisterAll(reg *bulk.Registry, st *store.Store) {
	bulk.Register[StatusUpdateParams](reg, models.TypeStatusUpdate, &StatusUpdate{store: st})
	bulk.Register[MetadataUpdateParams](reg, models.TypeMetadataUpdate, &MetadataUpdate{store: st})
	bulk.Register[DeleteParams](reg, models.TypeDelete, &Delete{store: st})
	bulk.Register[ArtistMetadataUpdateParams](reg, models.TypeArtistMetadataUpdate, &ArtistMetadataUpdate{store: st})
}

// classify maps store and driver errors onto the engine's taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", bulk.ErrItemNotFound, err)
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", bulk.ErrValidation, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			// Retried by the executor with a fresh transaction.
			return fmt.Errorf("%w: %w", store.ErrBusy, err)
		case sqlite3.ErrIoErr, sqlite3.ErrFull,
			sqlite3.ErrCorrupt, sqlite3.ErrCantOpen, sqlite3.ErrNotADB:
			return fmt.Errorf("%w: %v", bulk.ErrStoreUnavailable, err)
		}
	}
	return err
}

// optional distinguishes "leave alone" from "set to this value", which may
// itself be nil.
type optional[T any] struct {
	Set   bool
	Value T
}

func some[T any](v T) optional[T] {
	return optional[T]{Set: true, Value: v}
}

func decodeField[T any](raw json.RawMessage) (optional[T], error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return optional[T]{}, err
	}
	return some(v), nil
}

func field(name string) *string {
	return &name
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func update(name string, from, to any) bulk.Change {
	return bulk.Change{Action: models.ActionUpdate, Field: field(name), Old: from, New: to}
}
