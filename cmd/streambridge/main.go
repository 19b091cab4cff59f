// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/streambridge/streambridge/internal/api"
	"github.com/streambridge/streambridge/internal/api/middleware"
	"github.com/streambridge/streambridge/internal/buildinfo"
	"github.com/streambridge/streambridge/internal/config"
	"github.com/streambridge/streambridge/internal/database"
	"github.com/streambridge/streambridge/internal/domain"
	"github.com/streambridge/streambridge/internal/indexer"
	"github.com/streambridge/streambridge/internal/metrics"
	"github.com/streambridge/streambridge/internal/models"
	"github.com/streambridge/streambridge/internal/scheduler"
	"github.com/streambridge/streambridge/internal/services/icons"
	"github.com/streambridge/streambridge/internal/services/streams"
	"github.com/streambridge/streambridge/internal/userconfig"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "streambridge",
		Short: "Debrid-backed stream discovery addon",
		Long: `streambridge - A self-hosted addon that turns indexer search results
into instantly playable debrid streams for media players.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/streambridge/ or %APPDATA%\\streambridge\\). For backward compatibility, can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable the pprof endpoints under /debug")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath, pprofFlag)
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of streambridge",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/streambridge/config.toml
- Windows: %APPDATA%\streambridge\config.toml

You can specify either a directory path or a direct file path:
- Directory: streambridge generate-config --config-dir /path/to/config/
- File: streambridge generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				defaultDir := config.GetDefaultConfigDir()
				configPath = filepath.Join(defaultDir, "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func (app *Application) runServer() {
	// Initialize configuration
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("STREAMBRIDGE__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("STREAMBRIDGE__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	if app.pprofFlag {
		cfg.Config.PprofEnabled = true
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting streambridge")

	// Initialize database
	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Initialize stores and services
	streamStore := models.NewStreamRecordStore(db)

	indexerClient := indexer.NewClient(cfg.Config.JackettURL, cfg.Config.JackettAPIKey, cfg.Config.JackettTimeout,
		filepath.Join(cfg.GetDataDir(), "tmp"))
	streamService := streams.NewService(indexerClient, streamStore, cfg.Config.MaxFanOut)

	iconService, err := icons.NewService(cfg.GetDataDir(), cfg.Config.IconURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare icon cache")
	}

	codec := userconfig.NewCodec(userconfig.Defaults{
		JackettURL:    cfg.Config.JackettURL,
		JackettAPIKey: cfg.Config.JackettAPIKey,
		AddonHost:     cfg.Config.AddonHost,
	})

	metricsManager := metrics.NewManager()

	rateLimiter := middleware.NewRateLimiter(cfg.Config.RateLimitMaxRequests, cfg.Config.RateLimitWindow())
	cfg.RegisterReloadListener(func(conf *domain.Config) {
		rateLimiter.Update(conf.RateLimitMaxRequests, conf.RateLimitWindow())
	})

	// Background maintenance jobs
	jobs := scheduler.New()
	registerJobs(jobs, cfg, db, streamStore, iconService)

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()
	jobs.Start(schedulerCtx)

	// Start server in goroutine
	httpServer := api.NewServer(&api.Dependencies{
		Config:        cfg,
		Version:       buildinfo.Version,
		Codec:         codec,
		StreamService: streamService,
		IconService:   iconService,
		DB:            db,
		Metrics:       metricsManager,
		RateLimiter:   rateLimiter,
		Indexers:      cfg.Config.Indexers,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	var metricsServer *http.Server
	if cfg.Config.MetricsEnabled {
		metricsServer = metrics.NewServer(cfg.Config.MetricsHost, cfg.Config.MetricsPort, metricsManager)

		go func() {
			log.Info().
				Str("host", cfg.Config.MetricsHost).
				Int("port", cfg.Config.MetricsPort).
				Msg("Starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorChannel <- err
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	// A server fault drains the same way a signal does, but the process must
	// exit non-zero so supervisors can tell the two apart.
	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
		exitCode = 1
	}

	// Drain: stop background jobs, flush the store, then close listeners.
	jobs.Stop()

	checkpointCtx, checkpointCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.Checkpoint(checkpointCtx); err != nil {
		log.Error().Err(err).Msg("Failed to checkpoint database during shutdown")
	}
	checkpointCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")

		os.Exit(1)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("got error during metrics server shutdown")
		}
	}

	os.Exit(exitCode)
}

func registerJobs(jobs *scheduler.Scheduler, cfg *config.AppConfig, db *database.DB, store *models.StreamRecordStore, iconService *icons.Service) {
	if err := jobs.Add("icon-refresh", 6*time.Hour, true, iconService.Refresh); err != nil {
		log.Error().Err(err).Msg("Failed to register icon refresh job")
	}

	if err := jobs.Add("stream-clean", time.Hour, false, func(ctx context.Context) error {
		removed, err := store.Clean(ctx, cfg.Config.StreamRetention())
		if err != nil {
			return err
		}
		if removed > 0 {
			log.Debug().Int64("removed", removed).Msg("Cleaned expired stream records")
		}
		return nil
	}); err != nil {
		log.Error().Err(err).Msg("Failed to register stream clean job")
	}

	if err := jobs.Add("db-checkpoint", cfg.Config.AutosaveInterval(), false, db.Checkpoint); err != nil {
		log.Error().Err(err).Msg("Failed to register checkpoint job")
	}

	if err := jobs.Add("db-vacuum", 7*24*time.Hour, false, db.Vacuum); err != nil {
		log.Error().Err(err).Msg("Failed to register vacuum job")
	}

	if err := jobs.Add("tmp-clean", time.Hour, true, func(ctx context.Context) error {
		return cleanTempFiles(cfg.GetDataDir())
	}); err != nil {
		log.Error().Err(err).Msg("Failed to register temp cleanup job")
	}
}

// cleanTempFiles removes scratch files older than a day from dataDir/tmp.
func cleanTempFiles(dataDir string) error {
	tmpDir := filepath.Join(dataDir, "tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(tmpDir, entry.Name())); err != nil {
				log.Debug().Err(err).Str("file", entry.Name()).Msg("Failed to remove temp file")
			}
		}
	}

	return nil
}
