package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deskmate/internal/reminder"
	logx "deskmate/pkg/logx"
)

const pgEventsTable = "deskmate_events"

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (*postgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, persistErr("open", errors.New("storage.dsn is required for the postgres driver"))
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, persistErr("open", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, persistErr("open", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, persistErr("open", err)
	}
	st := &postgresStore{pool: pool, log: log}
	if err := st.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

func (s *postgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + pgEventsTable + ` (
    seq          BIGSERIAL,
    id           TEXT PRIMARY KEY,
    channel_id   TEXT NOT NULL DEFAULT '',
    display_time TEXT NOT NULL,
    due_at       BIGINT NOT NULL,
    content      TEXT NOT NULL,
    delivered    BOOLEAN NOT NULL DEFAULT FALSE
)`,
		`CREATE INDEX IF NOT EXISTS idx_` + pgEventsTable + `_pending ON ` + pgEventsTable + ` (delivered, due_at)`,
		`CREATE INDEX IF NOT EXISTS idx_` + pgEventsTable + `_channel ON ` + pgEventsTable + ` (channel_id, due_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return persistErr("migrate", err)
		}
	}
	return nil
}

func (s *postgresStore) Create(ctx context.Context, e reminder.Event) (reminder.Event, error) {
	e = prepareCreate(e)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgEventsTable+` (id, channel_id, display_time, due_at, content, delivered)
VALUES ($1, $2, $3, $4, $5, FALSE)`,
		e.ID, e.ChannelID, e.DisplayTime, e.DueAt, e.Content,
	)
	if err != nil {
		return reminder.Event{}, persistErr("create", err)
	}
	return e, nil
}

func (s *postgresStore) List(ctx context.Context, f reminder.Filter) ([]reminder.Event, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, channel_id, display_time, due_at, content, delivered
FROM `+pgEventsTable+`
WHERE ($1 = '' OR channel_id = $1)
  AND ($2::boolean IS NULL OR delivered = $2)
ORDER BY due_at ASC, seq ASC`, f.ChannelID, f.Delivered)
	if err != nil {
		return nil, persistErr("list", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (reminder.Event, error) {
		var e reminder.Event
		err := row.Scan(&e.ID, &e.ChannelID, &e.DisplayTime, &e.DueAt, &e.Content, &e.Delivered)
		return e, err
	})
	if err != nil {
		return nil, persistErr("list", err)
	}
	if out == nil {
		out = []reminder.Event{}
	}
	return out, nil
}

func (s *postgresStore) Update(ctx context.Context, id string, p reminder.Patch) error {
	if p.Delivered == nil {
		return nil
	}
	var delivered bool
	err := s.pool.QueryRow(ctx, `SELECT delivered FROM `+pgEventsTable+` WHERE id = $1`, id).Scan(&delivered)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return persistErr("update", err)
	}
	if err := reminder.CheckPatch(reminder.Event{ID: id, Delivered: delivered}, p); err != nil {
		return err
	}
	if !*p.Delivered || delivered {
		return nil
	}
	_, err = s.pool.Exec(ctx, `UPDATE `+pgEventsTable+` SET delivered = TRUE WHERE id = $1 AND NOT delivered`, id)
	return persistErr("update", err)
}

func (s *postgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}
