package storage

import (
	"context"
	"fmt"
	"strings"

	"deskmate/internal/reminder"
	logx "deskmate/pkg/logx"
)

// Open initializes the configured store. An empty driver means sqlite.
func Open(ctx context.Context, cfg Config, log logx.Logger) (reminder.EventStore, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("driver", driver))

	var (
		st  reminder.EventStore
		err error
	)
	switch driver {
	case "", "sqlite", "sqlite3":
		st, err = asStore(openSQLite(ctx, cfg, log))
	case "file":
		st, err = asStore(openFile(cfg, log))
	case "memory":
		st = NewMemory()
	case "postgres", "pgx":
		st, err = asStore(openPostgres(ctx, cfg, log))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
	if err != nil {
		return nil, err
	}
	log.Info("event store opened")
	return st, nil
}

// asStore avoids returning a typed nil inside a non-nil interface.
func asStore[S reminder.EventStore](s S, err error) (reminder.EventStore, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
