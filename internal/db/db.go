package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const defaultDBName = "reportline.db"

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

type Config struct {
	Driver Driver
	// DSN overrides the workspace database for either driver.
	DSN       string
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".reportline", defaultDBName)
}

// EnsureWorkspace creates the .reportline directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".reportline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open connects to the configured database and pings it. SQLite runs with
// foreign keys on and a busy timeout so concurrent writers queue.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	var drvName, dsn string
	switch cfg.Driver {
	case "", DriverSQLite:
		drvName = "sqlite"
		dsn = cfg.DSN
		if dsn == "" {
			if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
				return nil, err
			}
			dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath(cfg.Workspace))
		}
	case DriverPostgres:
		drvName = "pgx"
		dsn = cfg.DSN
		if dsn == "" {
			dsn = "postgres://localhost:5432/reportline?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	conn, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return conn, nil
}

// Path returns the SQLite file path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
