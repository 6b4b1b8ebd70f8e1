package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/vrsandeep/mvidarr-go/internal/db"
	"github.com/vrsandeep/mvidarr-go/migrations"
)

// SetupTestDB creates a SQLite database in the test's temp dir and applies
// all migrations. A file is used instead of :memory: because the engine
// runs operations on several pooled connections at once.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	if err := db.RunMigrations(database, migrations.FS); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

// SeedArtist inserts an artist and returns its id.
func SeedArtist(t *testing.T, database *sql.DB, name string) int64 {
	t.Helper()
	now := time.Now().UTC()
	res, err := database.Exec("INSERT INTO artists (name, created_at, updated_at) VALUES (?, ?, ?)", name, now, now)
	if err != nil {
		t.Fatalf("Failed to insert artist %q: %v", name, err)
	}
	id, _ := res.LastInsertId()
	return id
}

// SeedVideo inserts a video and returns its id.
func SeedVideo(t *testing.T, database *sql.DB, artistID int64, title, status string) int64 {
	t.Helper()
	now := time.Now().UTC()
	res, err := database.Exec(
		"INSERT INTO videos (artist_id, title, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		artistID, title, status, now, now)
	if err != nil {
		t.Fatalf("Failed to insert video %q: %v", title, err)
	}
	id, _ := res.LastInsertId()
	return id
}

// SeedVideoWithID inserts a video under a fixed id.
func SeedVideoWithID(t *testing.T, database *sql.DB, id, artistID int64, title, status string) {
	t.Helper()
	now := time.Now().UTC()
	_, err := database.Exec(
		"INSERT INTO videos (id, artist_id, title, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, artistID, title, status, now, now)
	if err != nil {
		t.Fatalf("Failed to insert video %d: %v", id, err)
	}
}

// SeedVideos inserts n videos for one artist and returns their ids in
// insertion order.
func SeedVideos(t *testing.T, database *sql.DB, artistID int64, n int, status string) []int64 {
	t.Helper()
	tx, err := database.Begin()
	if err != nil {
		t.Fatalf("Failed to begin seeding: %v", err)
	}
	now := time.Now().UTC()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		res, err := tx.Exec(
			"INSERT INTO videos (artist_id, title, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			artistID, fmt.Sprintf("Video %03d", i+1), status, now, now)
		if err != nil {
			tx.Rollback()
			t.Fatalf("Failed to insert video %d: %v", i+1, err)
		}
		id, _ := res.LastInsertId()
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit seeded videos: %v", err)
	}
	return ids
}

// VideoStatus reads a video's status straight from the table.
func VideoStatus(t *testing.T, database *sql.DB, id int64) string {
	t.Helper()
	var status string
	if err := database.QueryRow("SELECT status FROM videos WHERE id = ?", id).Scan(&status); err != nil {
		t.Fatalf("Failed to read status of video %d: %v", id, err)
	}
	return status
}
