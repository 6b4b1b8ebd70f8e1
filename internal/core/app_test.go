package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/mvidarr-go/internal/config"
	"github.com/vrsandeep/mvidarr-go/internal/core"
	"github.com/vrsandeep/mvidarr-go/internal/jobs"
	"github.com/vrsandeep/mvidarr-go/internal/models"
	"github.com/vrsandeep/mvidarr-go/internal/testutil"
)

func TestNewWithDBWiresEverything(t *testing.T) {
	cfg := config.Default()
	app := core.NewWithDB(cfg, testutil.SetupTestDB(t))

	assert.Same(t, cfg, app.Settings())
	assert.Same(t, app.Store, app.OperationStore())
	assert.ElementsMatch(t, []models.OperationType{
		models.TypeArtistMetadataUpdate,
		models.TypeDelete,
		models.TypeMetadataUpdate,
		models.TypeStatusUpdate,
	}, app.Registry.Types())

	statuses := app.Jobs.GetStatus()
	require.Len(t, statuses, 1)
	assert.Equal(t, jobs.StaleOperationsJobID, statuses[0].ID)

	assert.False(t, app.IsOperationActive("missing"))
	assert.NoError(t, app.Close(context.Background()))
}
