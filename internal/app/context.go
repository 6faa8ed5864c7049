package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"reportline/internal/config"
	"reportline/internal/db"
	"reportline/internal/engine"
	"reportline/internal/identity"
	"reportline/internal/logger"
	"reportline/internal/migrate"
	"reportline/internal/summary"
)

// Options are the command-line overrides applied on top of reportline.yml.
type Options struct {
	Workspace  string
	ConfigPath string
	Driver     string
	DSN        string
	LogMode    string
	LogLevel   string
	// UserID pins the acting user. Empty means it comes from the request
	// context, as it does behind the HTTP API.
	UserID string
}

// Runtime is an opened workspace: config, logger, migrated database and the
// engine over it.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Log       *logger.Logger
}

// LoadConfig resolves the config file and applies the overrides. A missing
// workspace config falls back to the defaults; an explicit path must exist.
func LoadConfig(opts Options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.FromFile(opts.ConfigPath)
	} else {
		cfg, err = config.LoadOptional(opts.Workspace)
	}
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(opts.Driver); v != "" {
		cfg.Database.Driver = v
	}
	if v := strings.TrimSpace(opts.DSN); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(opts.LogMode); v != "" {
		cfg.Log.Mode = v
	}
	if v := strings.TrimSpace(opts.LogLevel); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Open loads config, connects and migrates the database and builds the
// engine. Callers must Close the runtime.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	driver := db.Driver(cfg.Database.Driver)
	conn, err := db.Open(ctx, db.Config{Driver: driver, DSN: cfg.Database.DSN, Workspace: opts.Workspace})
	if err != nil {
		log.Sync()
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn, driver); err != nil {
		conn.Close()
		log.Sync()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg, log)
	if opts.UserID != "" {
		e.Identity = identity.Static(opts.UserID)
	}
	log.Debug("workspace opened", "workspace", opts.Workspace, "driver", driver)
	return &Runtime{
		Workspace: opts.Workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    e,
		Log:       log,
	}, nil
}

func (r *Runtime) Close() error {
	r.Log.Sync()
	return r.DB.Close()
}

// SummaryService wires the OpenAI generator from config. The API key is read
// from the environment variable the config names.
func (r *Runtime) SummaryService() (*summary.Service, error) {
	keyEnv := r.Config.Summary.APIKeyEnv
	if keyEnv == "" {
		return nil, errors.New("summary.api_key_env is not set")
	}
	gen, err := summary.NewOpenAIGenerator(summary.OpenAIConfig{
		APIKey:      os.Getenv(keyEnv),
		BaseURL:     r.Config.Summary.BaseURL,
		Model:       r.Config.Summary.Model,
		MaxTokens:   r.Config.Summary.MaxTokens,
		Temperature: r.Config.Summary.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keyEnv, err)
	}
	return &summary.Service{
		Source:    r.Engine,
		Generator: gen,
		Timeout:   r.Config.SummaryTimeout(),
		Log:       r.Log.With("component", "summary"),
	}, nil
}
