package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const defaultSQLitePath = "chabi.db"

// DB wraps gorm.DB with the resolved driver name.
type DB struct {
	*gorm.DB
	Driver string
}

// Open resolves the driver from the configured url, sqlite path and override,
// opens the database and migrates the link table.
func Open(dbURL, sqlitePath, driverOverride string) (*DB, error) {
	driver, dsn, err := resolveDriver(dbURL, sqlitePath, driverOverride)
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		// gorm hands back the pool even when its initial ping fails
		if db != nil {
			if sqlDB, derr := db.DB(); derr == nil {
				_ = sqlDB.Close()
			}
		}
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if driver == DriverSQLite {
		// sqlite takes one writer at a time
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&Link{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{DB: db, Driver: driver}, nil
}

func resolveDriver(dbURL, sqlitePath, driverOverride string) (string, string, error) {
	if sqlitePath == "" {
		sqlitePath = defaultSQLitePath
	}
	switch strings.ToLower(strings.TrimSpace(driverOverride)) {
	case "", "default":
		if dbURL != "" {
			return DriverPostgres, dbURL, nil
		}
		return DriverSQLite, sqlitePath, nil
	case "postgres", "pgx":
		if dbURL == "" {
			return "", "", fmt.Errorf("database_url required for %s driver", driverOverride)
		}
		return DriverPostgres, dbURL, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, sqlitePath, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", driverOverride)
	}
}

func (db *DB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
