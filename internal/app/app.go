// Package app assembles the process: one engine instance over one store and
// one catalog, with no ambient global state. Dashboards are thin clients of
// the contracts it exposes.
package app

import (
	"database/sql"

	"go.uber.org/zap"

	"ndjobi/internal/catalog"
	"ndjobi/internal/config"
	"ndjobi/internal/db"
	"ndjobi/internal/engine"
	"ndjobi/internal/engine/auth"
	"ndjobi/internal/hub"
	"ndjobi/internal/migrate"
)

type Options struct {
	Workspace  string
	ConfigPath string
	Logger     *zap.Logger
}

type App struct {
	DB      *sql.DB
	Config  *config.Config
	Catalog *catalog.Catalog
	Hub     *hub.Hub
	Engine  engine.Engine
	Auth    auth.Service
	Logger  *zap.Logger
}

// New opens the workspace store, applies migrations, loads (or defaults) the
// catalog config, and wires the engine. Config problems surface here, at
// load time, never inside a request.
func New(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg := config.Default()
	if opts.ConfigPath != "" {
		cfg, err = config.Load(opts.ConfigPath)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}
	cat, err := catalog.New(cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	h := hub.New(logger)
	eng := engine.New(conn, cat, h)
	return &App{
		DB:      conn,
		Config:  cfg,
		Catalog: cat,
		Hub:     h,
		Engine:  eng,
		Auth:    auth.New(cfg),
		Logger:  logger,
	}, nil
}

// Close releases the hub and the store.
func (a *App) Close() error {
	a.Hub.Close()
	return a.DB.Close()
}
