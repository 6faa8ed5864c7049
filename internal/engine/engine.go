package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"reportline/internal/config"
	"reportline/internal/events"
	"reportline/internal/identity"
	"reportline/internal/logger"
	"reportline/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Identity identity.Provider
	Log      *logger.Logger
	Now      func() time.Time
}

// New wires an engine over an open, migrated database. The acting user comes
// from the request context unless Identity is replaced.
func New(db *sql.DB, cfg *config.Config, log *logger.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Nop()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{},
		Config:   cfg,
		Identity: identity.FromContext{},
		Log:      log,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// actor resolves the acting user; every write needs one.
func (e Engine) actor(ctx context.Context) (string, error) {
	if e.Identity == nil {
		return "", identity.ErrUnauthenticated
	}
	id, err := e.Identity.CurrentUserID(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", identity.ErrUnauthenticated
	}
	return id, nil
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (e Engine) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		e.Log.Debug("transaction rolled back", "op", op, "error", err)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}
