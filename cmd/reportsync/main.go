// Package main provides the CLI entrypoint for reportsync.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JohanCodinha/reportsync/internal/config"
	"github.com/JohanCodinha/reportsync/internal/connectivity"
	"github.com/JohanCodinha/reportsync/internal/logger"
	"github.com/JohanCodinha/reportsync/internal/platform"
	"github.com/JohanCodinha/reportsync/internal/remote"
	"github.com/JohanCodinha/reportsync/internal/store"
	"github.com/JohanCodinha/reportsync/internal/sync"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	ephemeral  bool
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "reportsync",
		Short: "Queue infrastructure reports offline and sync them when connectivity returns",
		Long: `reportsync keeps infrastructure reports (potholes, broken streetlights,
drainage problems) in a local queue while the device is offline, then
verifies, geocodes and submits them to the issue backend once it is back
online. Each report gets three attempts before it is dropped.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "path to the YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.ephemeral, "ephemeral", false, "keep the queue in memory instead of on disk")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(
		newAddCmd(opts),
		newListCmd(opts),
		newShowCmd(opts),
		newStatusCmd(opts),
		newSyncCmd(opts),
		newRetryCmd(opts),
		newRetryFailedCmd(opts),
		newLinkCmd(opts),
		newClearCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// reportStore is the queue as the CLI uses it.
type reportStore interface {
	sync.Store
	Save(ctx context.Context, report store.NewReport) (string, error)
}

// app is everything a command needs, opened from config.
type app struct {
	cfg      config.Config
	store    reportStore
	sessions *remote.SessionStore
	monitor  *connectivity.Monitor
	engine   *sync.Engine
	closeDB  func() error
}

// loadConfig reads the config file and applies flag overrides. It has no side effects.
func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	return cfg, nil
}

func setupLogging(cfg config.Config) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	logger.SetLevel(level)
	if cfg.LogFile != "" {
		if err := logger.SetLogFile(cfg.LogFile); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}
}

func openStore(cfg config.Config, ephemeral bool) (reportStore, func() error, error) {
	if ephemeral {
		return store.NewMemory(), func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := store.InitDB(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open report queue: %w", err)
	}
	logger.Debug("store: opened %s", db.Path())
	return db, db.Close, nil
}

// openApp wires the store, gateways and engine. p supplies connectivity events.
func openApp(opts *rootOptions, p platform.Platform) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg)
	s, closeDB, err := openStore(cfg, opts.ephemeral)
	if err != nil {
		return nil, err
	}

	sessions := remote.NewSessionStore(remote.Session{
		URL:       cfg.Backend.URL,
		APIKey:    cfg.Backend.APIKey,
		AuthToken: cfg.Backend.AuthToken,
		UserID:    cfg.Backend.UserID,
	})
	client := remote.New(sessions)
	monitor := connectivity.New(p, cfg.Probe.Endpoints, cfg.Probe.Timeout)

	engine := sync.NewEngine(s,
		remote.NewVerifier(client, cfg.Verify.RPS, cfg.Verify.Burst, cfg.Verify.Timeout),
		remote.NewGeocoder(cfg.Geocoding.URL, cfg.Geocoding.APIKey),
		remote.NewSubmitter(client),
		sync.Options{Connectivity: monitor, ArchiveDir: cfg.ArchiveDir},
	)

	return &app{
		cfg:      cfg,
		store:    s,
		sessions: sessions,
		monitor:  monitor,
		engine:   engine,
		closeDB:  closeDB,
	}, nil
}

func (a *app) Close() {
	a.engine.Stop()
	a.monitor.Close()
	if err := a.closeDB(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to close queue: %v\n", err)
	}
	logger.Close()
}

// userOr returns flagValue, or the configured user when the flag is empty.
func (a *app) userOr(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return a.sessions.Current().UserID
}
