package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vrsandeep/mvidarr-go/internal/models"
)

const videoColumns = "id, artist_id, title, year, genre, director, status, created_at, updated_at"

func scanVideo(row rowScanner) (*models.Video, error) {
	var v models.Video
	var year sql.NullInt64
	var genre, director sql.NullString
	if err := row.Scan(&v.ID, &v.ArtistID, &v.Title, &year, &genre, &director, &v.Status, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	if year.Valid {
		y := int(year.Int64)
		v.Year = &y
	}
	v.Genre = nullString(genre)
	v.Director = nullString(director)
	return &v, nil
}

// CreateArtist inserts an artist and returns it with its new id.
func (s *Store) CreateArtist(ctx context.Context, q Querier, name string) (*models.Artist, error) {
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx, "INSERT INTO artists (name, created_at, updated_at) VALUES (?, ?, ?)", name, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Artist{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}, nil
}

// GetArtist retrieves an artist by id.
func (s *Store) GetArtist(ctx context.Context, q Querier, id int64) (*models.Artist, error) {
	var a models.Artist
	var genre, country, bio sql.NullString
	err := q.QueryRowContext(ctx,
		"SELECT id, name, genre, country, biography, created_at, updated_at FROM artists WHERE id = ?", id).
		Scan(&a.ID, &a.Name, &genre, &country, &bio, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Genre = nullString(genre)
	a.Country = nullString(country)
	a.Biography = nullString(bio)
	return &a, nil
}

// UpdateArtistMetadata writes the descriptive fields of an artist.
func (s *Store) UpdateArtistMetadata(ctx context.Context, q Querier, a *models.Artist) error {
	res, err := q.ExecContext(ctx,
		"UPDATE artists SET genre = ?, country = ?, biography = ?, updated_at = ? WHERE id = ?",
		a.Genre, a.Country, a.Biography, time.Now().UTC(), a.ID)
	return expectOne(res, err, "artist", a.ID)
}

// CreateVideo inserts a video and returns its id.
func (s *Store) CreateVideo(ctx context.Context, q Querier, v *models.Video) (int64, error) {
	now := time.Now().UTC()
	if v.Status == "" {
		v.Status = models.VideoWanted
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO videos (artist_id, title, year, genre, director, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ArtistID, v.Title, v.Year, v.Genre, v.Director, v.Status, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetVideo retrieves a video by id.
func (s *Store) GetVideo(ctx context.Context, q Querier, id int64) (*models.Video, error) {
	v, err := scanVideo(q.QueryRowContext(ctx, "SELECT "+videoColumns+" FROM videos WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// UpdateVideoStatus changes a video's acquisition status.
func (s *Store) UpdateVideoStatus(ctx context.Context, q Querier, id int64, status models.VideoStatus) error {
	res, err := q.ExecContext(ctx, "UPDATE videos SET status = ?, updated_at = ? WHERE id = ?", status, time.Now().UTC(), id)
	return expectOne(res, err, "video", id)
}

// UpdateVideoMetadata writes the descriptive fields of a video.
func (s *Store) UpdateVideoMetadata(ctx context.Context, q Querier, v *models.Video) error {
	res, err := q.ExecContext(ctx,
		"UPDATE videos SET title = ?, year = ?, genre = ?, director = ?, updated_at = ? WHERE id = ?",
		v.Title, v.Year, v.Genre, v.Director, time.Now().UTC(), v.ID)
	return expectOne(res, err, "video", v.ID)
}

// DeleteVideo removes a video row.
func (s *Store) DeleteVideo(ctx context.Context, q Querier, id int64) error {
	res, err := q.ExecContext(ctx, "DELETE FROM videos WHERE id = ?", id)
	return expectOne(res, err, "video", id)
}

// RestoreVideo re-inserts a previously deleted video with its original id
// and timestamps.
func (s *Store) RestoreVideo(ctx context.Context, q Querier, v *models.Video) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO videos (id, artist_id, title, year, genre, director, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ArtistID, v.Title, v.Year, v.Genre, v.Director, v.Status, v.CreatedAt, v.UpdatedAt)
	return err
}

func expectOne(res sql.Result, err error, kind string, id int64) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}
