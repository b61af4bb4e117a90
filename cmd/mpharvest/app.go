package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/mp-harvester/internal/acquire"
	"github.com/jonathan/mp-harvester/internal/cache"
	"github.com/jonathan/mp-harvester/internal/config"
	"github.com/jonathan/mp-harvester/internal/db"
	"github.com/jonathan/mp-harvester/internal/extract"
	"github.com/jonathan/mp-harvester/internal/fetch"
	"github.com/jonathan/mp-harvester/internal/history"
	"github.com/jonathan/mp-harvester/internal/observability"
	"github.com/jonathan/mp-harvester/internal/session"
)

// memoryEntries bounds the in-process cache tier.
const memoryEntries = 2048

// loadConfig resolves the effective configuration: file, then defaults, then
// environment.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded.MergeWithDefaults(config.Default())
	}

	cfg.ApplyEnv()
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// app is the wired engine with everything it owns.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	sched    *fetch.Scheduler
	sessions *session.Manager
	verifier *acquire.Verifier
	cache    cache.Store
	history  *history.Store
	engine   *acquire.Engine
}

// newApp wires client, scheduler, session manager, cache, history and engine
// from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := observability.NewLogger(cfg.Log, nil)

	client := fetch.NewClient(fetch.Options{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.FetchTimeoutDuration(),
		Logger:    logger.Named("fetch"),
	})
	sched := fetch.NewScheduler(client, fetch.SchedulerOptions{
		MaxWorkers: cfg.MaxWorkers,
		Interval:   schedulerInterval(cfg),
		Timeout:    cfg.FetchTimeoutDuration(),
		Retry:      cfg.RetryPolicy(),
		Logger:     logger.Named("scheduler"),
	})

	endpoints := fetch.DefaultEndpoints()
	verifier := acquire.NewVerifier(sched, endpoints)

	auth := session.NewBrowserAuthenticator(cfg.RetryPolicy(), logger.Named("login"))
	auth.UserAgent = cfg.UserAgent
	sessions := session.NewManager(auth, session.NewFileStore(cfg.CredentialFile), session.Options{
		LoginTimeout: cfg.LoginTimeoutDuration(),
		Verifier:     verifier,
		Logger:       logger.Named("session"),
	})

	store, err := openCache(ctx, cfg, logger.Named("cache"))
	if err != nil {
		sched.Close()
		return nil, err
	}

	hist, err := history.Open(cfg.HistoryDB, cfg.MaxHistory, logger.Named("history"))
	if err != nil {
		sched.Close()
		_ = store.Close()
		return nil, err
	}

	opts := acquire.OptionsFromConfig(cfg)
	opts.Endpoints = endpoints
	opts.Parser = extract.NewParser(extract.DefaultSelectors(), logger.Named("extract"))
	opts.Recorder = hist
	opts.Logger = logger.Named("acquire")

	return &app{
		cfg:      cfg,
		logger:   logger,
		sched:    sched,
		sessions: sessions,
		verifier: verifier,
		cache:    store,
		history:  hist,
		engine:   acquire.New(sessions, sched, store, opts),
	}, nil
}

// Close releases everything newApp opened.
func (a *app) Close() error {
	a.sched.Close()
	err := errors.Join(a.cache.Close(), a.history.Close())
	_ = a.logger.Sync()
	return err
}

// schedulerInterval maps request_interval onto scheduler spacing. The
// scheduler treats zero as "use the default", so no spacing is negative.
func schedulerInterval(cfg *config.Config) time.Duration {
	if d := cfg.RequestIntervalDuration(); d > 0 {
		return d
	}
	return -1
}

// openCache builds the configured cache backend.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Store, error) {
	switch cfg.CacheBackend {
	case "memory":
		return cache.NewMemoryStore(memoryEntries), nil
	case "postgres":
		return openPostgres(ctx, cfg, logger)
	case "layered":
		back, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return cache.NewLayered(cache.NewMemoryStore(memoryEntries), back), nil
	default:
		store, err := cache.OpenBadger(cfg.CacheDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache at %s: %w", cfg.CacheDir, err)
		}
		return store, nil
	}
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*cache.PostgresStore, error) {
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return cache.NewPostgresStore(database, logger), nil
}
