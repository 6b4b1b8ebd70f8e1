package core

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vrsandeep/mvidarr-go/internal/bulk"
	"github.com/vrsandeep/mvidarr-go/internal/config"
	"github.com/vrsandeep/mvidarr-go/internal/db"
	"github.com/vrsandeep/mvidarr-go/internal/jobs"
	"github.com/vrsandeep/mvidarr-go/internal/logger"
	"github.com/vrsandeep/mvidarr-go/internal/mutations"
	"github.com/vrsandeep/mvidarr-go/internal/store"
	"github.com/vrsandeep/mvidarr-go/migrations"
)

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Store    *store.Store
	Registry *bulk.Registry
	Engine   *bulk.Engine
	Jobs     *jobs.JobManager
	Version  string
}

// New sets up and returns a new App instance. It handles loading the
// configuration, initializing the logger and the database connection, and
// running migrations.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Path)

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database, migrations.FS); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	app := NewWithDB(cfg, database)
	logger.Info("core application setup complete", "database", cfg.Database.Path)
	return app, nil
}

// NewWithDB wires the engine and jobs over an already migrated database.
func NewWithDB(cfg *config.Config, database *sql.DB) *App {
	st := store.New(database)
	registry := bulk.NewRegistry()
	mutations.RegisterAll(registry, st)

	jm := jobs.NewManager()
	jobs.RegisterAll(jm)

	return &App{
		Config:   cfg,
		DB:       database,
		Store:    st,
		Registry: registry,
		Engine:   bulk.NewEngine(st, registry, bulk.OptionsFromConfig(cfg.Bulk)),
		Jobs:     jm,
	}
}

func (a *App) OperationStore() *store.Store { return a.Store }

func (a *App) Settings() *config.Config { return a.Config }

func (a *App) IsOperationActive(id string) bool {
	return a.Engine != nil && a.Engine.IsActive(id)
}

// Close stops the engine's workers and closes the database connection.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.Engine != nil {
		err = a.Engine.Shutdown(ctx)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	logger.Close()
	return err
}
