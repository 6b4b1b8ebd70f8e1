package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vrsandeep/mvidarr-go/internal/api"
	"github.com/vrsandeep/mvidarr-go/internal/core"
	"github.com/vrsandeep/mvidarr-go/internal/jobs"
	"github.com/vrsandeep/mvidarr-go/internal/logger"
)

var version = "dev"

// shutdownTimeout bounds how long running bulk operations get to reach a
// chunk boundary once a signal arrives.
const shutdownTimeout = 30 * time.Second

func main() {
	// Initialize the core application components
	app, err := core.New()
	if err != nil {
		log.Fatalf("Fatal error during application setup: %v", err)
	}
	app.Version = version

	// Start the background job scheduler
	scheduler := jobs.StartJobs(app, app.Jobs)

	// Setup the API server
	server := api.NewServer(app)
	addr := fmt.Sprintf(":%d", app.Config.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		logger.Info("starting web server", "addr", httpServer.Addr, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("could not start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop accepting requests first so no new operation is submitted while
	// the engine drains.
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	scheduler.Stop()
	app.Jobs.Wait()

	if err := app.Close(ctx); err != nil {
		logger.Error("bulk engine did not stop cleanly", "error", err)
	}
	log.Println("Server exiting.")
}
