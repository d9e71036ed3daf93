package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"lifelog/internal/config"
	"lifelog/internal/lifecycle"
	"lifelog/internal/migration"
	"lifelog/internal/observer"
	"lifelog/internal/service"
	"lifelog/internal/storage"
	"lifelog/internal/streak"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sql.DB
	store    *storage.Store
	bus      *lifecycle.Bus
	observer *observer.Observer
	posts    *service.PostService
	habits   *service.HabitService
	settings *service.SettingsService
}

// newApp opens the database and wires the services, the bus and the
// observer. Every collection is registered with the observer.
func newApp(cfg *config.Config) (*app, error) {
	logger := slog.Default()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	st, err := storage.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	logger.Info("Database initialized", "path", cfg.DBPath)

	strategy, err := observer.ParseStrategy(cfg.ObserverStrategy)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	bus := lifecycle.NewBus(lifecycle.WithLogger(logger))
	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		store:    st,
		bus:      bus,
		observer: observer.New(bus, observer.WithLogger(logger), observer.WithStrategy(strategy)),
		posts:    service.NewPostService(st),
		habits:   service.NewHabitService(st, streak.Calculator{MaxLookback: cfg.StreakMaxLookbackDays}),
		settings: service.NewSettingsService(st, bus),
	}

	for _, c := range []*service.Collection{a.posts.Collection, a.habits.Collection, a.settings.Collection} {
		if err := a.observer.Register(c.Name(), c); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

// migrator reads the legacy file configured for this app.
func (a *app) migrator() (*migration.Migrator, error) {
	src, err := migration.OpenFileSource(a.cfg.LegacyDataPath)
	if err != nil {
		return nil, err
	}
	return migration.New(a.store, src).WithLogger(a.logger), nil
}

// migrate runs the one-time legacy copy.
func (a *app) migrate(ctx context.Context) (migration.Report, error) {
	m, err := a.migrator()
	if err != nil {
		return migration.Report{}, err
	}
	return m.Migrate(ctx, migration.DefaultMappings(a.habits.NormalizeRecord))
}

func (a *app) close() {
	a.bus.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}
