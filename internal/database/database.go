// Package database opens the relational store shared by the node registry
// and the alarm ledger.
package database

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"moul.io/zapgorm2"
)

const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Options selects the driver and connection string.
type Options struct {
	Driver string
	DSN    string
	// Verbose logs every statement at info level.
	Verbose bool
}

// Open connects to the configured database and runs the given migrations.
func Open(opts Options, logger *zap.Logger, models ...interface{}) (*gorm.DB, error) {
	if opts.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}

	var dialector gorm.Dialector
	switch opts.Driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(opts.DSN)
	case DriverMySQL:
		dialector = mysql.Open(opts.DSN)
	case DriverPostgres:
		dialector = postgres.New(postgres.Config{DSN: opts.DSN})
	default:
		return nil, fmt.Errorf("unknown database driver: %q", opts.Driver)
	}

	logLevel := gormlogger.Info
	if !opts.Verbose {
		logLevel = gormlogger.Warn
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	gormLogger := zapgorm2.New(logger).LogMode(logLevel)

	db, err := gorm.Open(dialector, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", opts.Driver, err)
	}

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return db, nil
}
