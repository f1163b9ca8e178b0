package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tengjizhang/feedsync/internal/config"
	"github.com/tengjizhang/feedsync/internal/manager"
	"github.com/tengjizhang/feedsync/internal/newsblur"
	"github.com/tengjizhang/feedsync/internal/store"
)

type App struct {
	cfg     config.Config
	db      *sql.DB
	store   *store.Store
	manager *manager.Manager
	logger  *slog.Logger
	// account is the --account selector, empty for "the only one".
	account string
}

func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger, accountRef string) (*App, error) {
	db, err := store.OpenDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	s := store.NewStore(db)
	m, err := manager.New(ctx, s, cfg, manager.Options{Logger: logger})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &App{
		cfg:     cfg,
		db:      db,
		store:   s,
		manager: m,
		logger:  logger,
		account: accountRef,
	}, nil
}

// delegate resolves the --account selector.
func (a *App) delegate() (*newsblur.Delegate, error) {
	return a.manager.Delegate(a.account)
}

func (a *App) Close() error {
	if a.manager != nil {
		a.manager.Suspend()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func requireApp(getApp func() *App) (*App, error) {
	app := getApp()
	if app == nil {
		return nil, errors.New("app not initialized")
	}
	return app, nil
}

func requireDelegate(getApp func() *App) (*App, *newsblur.Delegate, error) {
	app, err := requireApp(getApp)
	if err != nil {
		return nil, nil, err
	}
	d, err := app.delegate()
	if err != nil {
		return nil, nil, fmt.Errorf("select account: %w", err)
	}
	return app, d, nil
}
