package models

import "time"

// VideoStatus tracks where a music video is in the acquisition pipeline.
type VideoStatus string

const (
	VideoWanted      VideoStatus = "WANTED"
	VideoDownloading VideoStatus = "DOWNLOADING"
	VideoDownloaded  VideoStatus = "DOWNLOADED"
	VideoFailed      VideoStatus = "FAILED"
	VideoIgnored     VideoStatus = "IGNORED"
)

// Valid reports whether s is a known video status.
func (s VideoStatus) Valid() bool {
	switch s {
	case VideoWanted, VideoDownloading, VideoDownloaded, VideoFailed, VideoIgnored:
		return true
	}
	return false
}

type Artist struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Genre     *string   `json:"genre,omitempty"`
	Country   *string   `json:"country,omitempty"`
	Biography *string   `json:"biography,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Video struct {
	ID        int64       `json:"id"`
	ArtistID  int64       `json:"artist_id"`
	Title     string      `json:"title"`
	Year      *int        `json:"year,omitempty"`
	Genre     *string     `json:"genre,omitempty"`
	Director  *string     `json:"director,omitempty"`
	Status    VideoStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
