// Package callstore persists call records and a tool-invocation audit
// trail to Postgres. The store is optional: with no DSN configured the
// bridge runs fully in-memory and nothing here is constructed.
package callstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const writeTimeout = 5 * time.Second

type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Open connects, runs pending migrations, and returns the store.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := migrate(dsn); err != nil {
		return nil, fmt.Errorf("migrate call store: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect call store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping call store: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

// migrate runs goose over a short-lived database/sql handle; pgxpool
// serves the steady-state queries.
func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// CallStarted and the other recorder methods run on session event
// loops, so the writes happen off-thread; a failed insert costs an
// audit row, never a call.
func (s *Store) CallStarted(_ context.Context, streamSid, callSid, agentName string) {
	s.async(func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO calls (stream_sid, call_sid, agent) VALUES ($1, $2, $3)
			 ON CONFLICT (stream_sid) DO UPDATE SET call_sid = $2, agent = $3`,
			streamSid, callSid, agentName)
		return err
	})
}

func (s *Store) CallEnded(_ context.Context, streamSid, disposition string, duration time.Duration) {
	s.async(func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`UPDATE calls SET ended_at = now(), disposition = $2, duration_ms = $3
			 WHERE stream_sid = $1`,
			streamSid, disposition, duration.Milliseconds())
		return err
	})
}

func (s *Store) ToolInvoked(_ context.Context, streamSid, tool string, failed bool) {
	s.async(func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO tool_invocations (stream_sid, tool, failed) VALUES ($1, $2, $3)`,
			streamSid, tool, failed)
		return err
	})
}

func (s *Store) async(fn func(ctx context.Context) error) {
	if s == nil || s.pool == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Warn("call store write failed", "err", err)
		}
	}()
}
