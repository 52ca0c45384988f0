package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/couchpilot/couchpilot/internal/api"
	"github.com/couchpilot/couchpilot/internal/auth"
	"github.com/couchpilot/couchpilot/internal/backend"
	"github.com/couchpilot/couchpilot/internal/config"
	"github.com/couchpilot/couchpilot/internal/state"
	"github.com/couchpilot/couchpilot/internal/storage"
	couchsync "github.com/couchpilot/couchpilot/internal/sync"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	log.Println("Starting CouchPilot sync daemon...")

	cfg := config.Load()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Device store: JSON file by default, Postgres for shared deployments
	var store storage.Store
	switch cfg.StoreDriver {
	case "postgres":
		db, err := storage.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		pgStore, err := storage.NewPGStore(db)
		if err != nil {
			log.Fatalf("Failed to initialize device store: %v", err)
		}
		store = pgStore
		log.Println("Device store: postgres")
	default:
		fileStore, err := storage.NewFileStore(cfg.DataDir)
		if err != nil {
			log.Fatalf("Failed to open device store: %v", err)
		}
		store = fileStore
		log.Println("Device store: file")
	}

	// Entity stores
	profiles := state.NewProfiles(store)
	addons := state.NewAddons(store)
	plugins := state.NewPlugins(store)
	library := state.NewLibrary(store)
	progress := state.NewProgress(store)
	watched := state.NewWatched(store)

	// Session and backend transport. The client needs the session as its
	// token source and the session needs the client for owner-id lookup, so
	// the procedure caller is wired after construction.
	session := auth.NewSession(store, cfg.BackendURL, cfg.BackendPublicKey)
	client := backend.NewClient(cfg.BackendURL, cfg.BackendPublicKey, session)
	session.SetTransport(client)

	// Sync services in pull order
	profileSvc := couchsync.NewProfileService(client, session, profiles, logger)
	pluginSvc := couchsync.NewPluginService(client, session, profiles, plugins, logger)
	addonSvc := couchsync.NewAddonService(client, session, profiles, addons, logger)
	librarySvc := couchsync.NewLibraryService(client, session, profiles, library, logger)
	watchedSvc := couchsync.NewWatchedService(client, session, profiles, watched, logger)
	progressSvc := couchsync.NewProgressService(client, session, profiles, progress, logger)

	services := []couchsync.Service{
		profileSvc, pluginSvc, addonSvc, librarySvc, watchedSvc, progressSvc,
	}
	engine := couchsync.NewOrchestrator(services, addons.Subscribe, addonSvc, couchsync.OrchestratorConfig{
		Interval:      time.Duration(cfg.SyncIntervalSeconds) * time.Second,
		PushDebounce:  time.Duration(cfg.PushDebounceMillis) * time.Millisecond,
		RetryAttempts: cfg.PullRetryAttempts,
		RetryDelay:    time.Duration(cfg.PullRetryDelaySecond) * time.Second,
	}, logger)

	// The engine follows authentication state: sign-in starts it, sign-out
	// stops it.
	engineCtx, engineCancel := context.WithCancel(context.Background())
	session.Subscribe(func(s auth.State) {
		if s == auth.StateSignedIn {
			engine.Start(engineCtx)
		} else {
			engine.Stop()
		}
	})
	if session.IsAuthenticated() {
		engine.Start(engineCtx)
	}

	handler := api.NewHandler(profiles, addons, plugins, library, progress, watched, session, engine)
	router := api.SetupRoutes(handler)

	log.Println("✓ REST API enabled at /api/v1")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server listening on %s:%d", cfg.Host, cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	engine.Stop()
	engineCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
