package db_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vrsandeep/mvidarr-go/internal/db"
	"github.com/vrsandeep/mvidarr-go/internal/testutil"
	"github.com/vrsandeep/mvidarr-go/migrations"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "a.db?"+"_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", db.DSN("a.db"))
	assert.Contains(t, db.DSN("file:a.db?mode=rwc"), "mode=rwc&_foreign_keys=on")
}

func TestMigrationsAreIdempotent(t *testing.T) {
	database, err := db.InitDB(filepath.Join(t.TempDir(), "mvidarr.db"))
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, db.RunMigrations(database, migrations.FS))
	// A second run finds nothing to apply.
	require.NoError(t, db.RunMigrations(database, migrations.FS))

	var count int
	err = database.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE 'bulk_operation%'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestForeignKeyCascadeDelete(t *testing.T) {
	database := testutil.SetupTestDB(t)

	var foreignKeysEnabled int
	require.NoError(t, database.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeysEnabled))
	assert.Equal(t, 1, foreignKeysEnabled)

	artistID := testutil.SeedArtist(t, database, "Cascade Artist")
	testutil.SeedVideo(t, database, artistID, "Doomed", "WANTED")

	_, err := database.Exec("DELETE FROM artists WHERE id = ?", artistID)
	require.NoError(t, err)

	var videos int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM videos").Scan(&videos))
	assert.Equal(t, 0, videos, "videos should cascade with their artist")
}

func TestCounterInvariantEnforcedBySchema(t *testing.T) {
	database := testutil.SetupTestDB(t)

	_, err := database.Exec(`INSERT INTO bulk_operations (id, user_id, type, name, target_ids, total_items, processed_items, successful_items, failed_items, created_at)
		VALUES ('bad', 1, 'status_update', 'bad', '[1]', 1, 1, 0, 0, datetime('now'))`)
	assert.Error(t, err, "processed must equal successful + failed")
}
