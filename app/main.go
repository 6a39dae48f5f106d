package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/mkorzh/listing-sieve/app/api"
	"github.com/mkorzh/listing-sieve/app/cfg"
	"github.com/mkorzh/listing-sieve/app/listing"
	"github.com/mkorzh/listing-sieve/app/rules"
	"github.com/mkorzh/listing-sieve/app/store"
	"github.com/mkorzh/listing-sieve/app/surface"
	"github.com/mkorzh/listing-sieve/app/watch"
)

func main() {
	// Load configuration from environment variables and command-line flags
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	setupLogger(appCfg.Debug)

	slog.Info("Starting Listing Sieve", "version", appCfg.Version)

	// Preference store
	db, err := store.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open preference store", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := store.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Preference store ready", "path", appCfg.DBPath,
		"schema_version", version, "dirty", dirty)

	settingsStore := store.NewStore(db, store.Options{
		Retries:              appCfg.StoreRetries,
		RetryDelay:           time.Duration(appCfg.StoreRetryDelayMs) * time.Millisecond,
		DefaultStrataCeiling: appCfg.StrataCeiling,
	})

	// Preference rule catalog
	catalog, err := rules.NewLoader(appCfg.RulesDir).LoadAll()
	if err != nil {
		slog.Error("Failed to load rule catalog", "dir", appCfg.RulesDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Rule catalog loaded", "rules", len(catalog))

	// Listing classification pipeline
	httpClient := &http.Client{Timeout: 30 * time.Second}
	fetcher := listing.NewFetcher(httpClient, appCfg.UserAgent, appCfg.FetchRetries,
		time.Duration(appCfg.FetchRetryDelayMs)*time.Millisecond)
	classifier := listing.NewClassifier(appCfg.StrictStrataBelow)

	// Surfaces fed by the browser shim
	listSurface := surface.NewRemote(surface.KindList)
	mapSurface := surface.NewRemote(surface.KindMap)
	surfaces := map[surface.Kind]*surface.Remote{
		surface.KindList: listSurface,
		surface.KindMap:  mapSurface,
	}

	// One watcher per surface
	session := watch.NewSession(appCfg.IncludeStudio)
	supervisor := watch.NewSupervisor(
		[]surface.Surface{listSurface, mapSurface},
		settingsStore, fetcher, classifier, session,
		watch.Options{
			Debounce:    time.Duration(appCfg.DebounceMs) * time.Millisecond,
			SiteBaseURL: appCfg.SiteBaseURL,
		})
	supervisor.Start()
	defer supervisor.Stop()

	// HTTP bridge
	handler := api.NewHandler(settingsStore, supervisor, fetcher, surfaces, catalog, appCfg.Version)
	server := api.NewServer(handler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP bridge listening", "port", appCfg.Port,
			"auth", appCfg.APIAccessKey != "")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	// Graceful shutdown
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Supervisor is stopped via defer
	slog.Info("Shutdown complete")
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
	})))
}
