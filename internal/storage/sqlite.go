package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"deskmate/internal/reminder"
	logx "deskmate/pkg/logx"
)

//go:embed migrations.sql
var sqliteMigrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, persistErr("open", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, persistErr("open", err)
	}
	// One connection: SQLite serializes writers anyway and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(ctx, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, persistErr("migrate", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Create(ctx context.Context, e reminder.Event) (reminder.Event, error) {
	e = prepareCreate(e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id, channel_id, display_time, due_at, content, delivered) VALUES(?,?,?,?,?,0)`,
		e.ID, e.ChannelID, e.DisplayTime, e.DueAt, e.Content,
	)
	if err != nil {
		return reminder.Event{}, persistErr("create", err)
	}
	return e, nil
}

func (s *sqliteStore) List(ctx context.Context, f reminder.Filter) ([]reminder.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.ChannelID != "" {
		where = append(where, "channel_id = ?")
		args = append(args, f.ChannelID)
	}
	if f.Delivered != nil {
		where = append(where, "delivered = ?")
		args = append(args, boolInt(*f.Delivered))
	}
	q := `SELECT id, channel_id, display_time, due_at, content, delivered FROM events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY due_at ASC, rowid ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, persistErr("list", err)
	}
	defer rows.Close()

	out := []reminder.Event{}
	for rows.Next() {
		var (
			e         reminder.Event
			delivered int
		)
		if err := rows.Scan(&e.ID, &e.ChannelID, &e.DisplayTime, &e.DueAt, &e.Content, &delivered); err != nil {
			return nil, persistErr("list", err)
		}
		e.Delivered = delivered != 0
		out = append(out, e)
	}
	return out, persistErr("list", rows.Err())
}

func (s *sqliteStore) Update(ctx context.Context, id string, p reminder.Patch) error {
	if p.Delivered == nil {
		return nil
	}
	var delivered int
	err := s.db.QueryRowContext(ctx, `SELECT delivered FROM events WHERE id = ?`, id).Scan(&delivered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return persistErr("update", err)
	}
	if err := reminder.CheckPatch(reminder.Event{ID: id, Delivered: delivered != 0}, p); err != nil {
		return err
	}
	if !*p.Delivered || delivered != 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `UPDATE events SET delivered = 1 WHERE id = ? AND delivered = 0`, id)
	return persistErr("update", err)
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return persistErr("close", s.db.Close())
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
