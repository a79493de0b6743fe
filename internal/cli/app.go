package cli

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	"github.com/doridoridoriand/keepitup/internal/alarm"
	"github.com/doridoridoriand/keepitup/internal/config"
	"github.com/doridoridoriand/keepitup/internal/database"
	"github.com/doridoridoriand/keepitup/internal/log"
	"github.com/doridoridoriand/keepitup/internal/registry"
	"github.com/doridoridoriand/keepitup/internal/tsdb"
)

// App holds the stores shared by every command.
type App struct {
	Config   *config.Config
	Logger   *log.Logger
	DB       *gorm.DB
	Registry registry.Registry
	Store    tsdb.Store
	Ledger   alarm.Ledger
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.Config) *log.Logger {
	return log.New(log.Options{
		Level:      log.ParseLevel(cfg.Log.Level),
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	})
}

// NewApp opens the database, the node registry and the time-series store.
func NewApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	// The ledger and the gorm registry migrate their own tables.
	db, err := database.Open(database.Options{
		Driver:  cfg.Database.Driver,
		DSN:     cfg.Database.DSN,
		Verbose: cfg.Database.Verbose,
	}, logger.Zap())
	if err != nil {
		return nil, err
	}
	app.DB = db

	ledger, err := alarm.NewGormLedger(db)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Ledger = ledger

	switch cfg.Registry.Backend {
	case config.RegistryBackendFile:
		app.Registry = registry.NewFileRegistry(cfg.Registry.File)
	default:
		reg, err := registry.NewGormRegistry(db)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Registry = reg
	}

	switch cfg.Timeseries.Backend {
	case config.TimeseriesBackendMemory:
		app.Store = tsdb.NewMemoryStore()
	default:
		store, err := tsdb.NewRedisStore(ctx, tsdb.RedisOptions{
			Addrs:      cfg.Timeseries.Addrs,
			MasterName: cfg.Timeseries.MasterName,
			Username:   cfg.Timeseries.Username,
			Password:   cfg.Timeseries.Password,
			DB:         cfg.Timeseries.DB,
			KeyPrefix:  cfg.Timeseries.KeyPrefix,
			Retention:  cfg.Timeseries.Retention,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("connect time series store: %w", err)
		}
		app.Store = store
	}

	return app, nil
}

// Close releases every connection the app holds.
func (a *App) Close() error {
	var errs *multierror.Error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs.ErrorOrNil()
}
