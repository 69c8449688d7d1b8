// Package sqlstore implements store.Store on PostgreSQL (lib/pq) or SQLite
// (go-sqlite3) through sqlx.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	appLog "churchcal/internal/log"
	"churchcal/internal/store"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds connection parameters.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the SQL-backed store.Store.
type Store struct {
	queries
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// Open connects, pings and creates the schema if needed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New("sqlstore: dsn is empty")
	}

	appLog.Info("initializing database", "driver", cfg.Driver)

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		appLog.Error("failed to connect to database", err, "driver", cfg.Driver)
		return nil, fmt.Errorf("sqlstore: connect: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// A single connection keeps :memory: databases and transactions
		// on the same handle.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	s := &Store{queries: queries{x: db}, db: db}
	if err := s.initSchema(ctx, cfg.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: schema: %w", err)
	}

	appLog.Info("database initialized", "driver", cfg.Driver)
	return s, nil
}

// WithTx runs fn inside a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				appLog.Error("sqlstore: rollback failed", rbErr)
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("sqlstore: commit: %w", cErr)
		}
	}()
	return fn(&queries{x: tx})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// queries implements store.Reader and store.Writer on either the pool or a
// transaction.
type queries struct {
	x sqlx.ExtContext
}

var _ store.Tx = (*queries)(nil)

func (q *queries) rebind(query string) string {
	return q.x.Rebind(query)
}

// isUniqueViolation recognizes unique/primary key errors of both drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (s *Store) initSchema(ctx context.Context, driver string) error {
	ts := "TIMESTAMPTZ"
	if driver == DriverSQLite {
		ts = "TIMESTAMP"
	}
	for _, stmt := range strings.Split(strings.ReplaceAll(schema, "{{ts}}", ts), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %s", err, firstLine(stmt))
		}
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	slug                 TEXT NOT NULL UNIQUE,
	color                TEXT NOT NULL,
	type                 TEXT NOT NULL,
	parent_id            TEXT REFERENCES rooms(id) ON DELETE SET NULL,
	group_label          TEXT NOT NULL,
	block_parent_cascade BOOLEAN NOT NULL,
	invite_code          TEXT NOT NULL UNIQUE,
	created_at           {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rooms_parent ON rooms(parent_id);

CREATE TABLE IF NOT EXISTS members (
	user_id TEXT NOT NULL,
	room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	role    TEXT NOT NULL,
	PRIMARY KEY (user_id, room_id)
);

CREATE TABLE IF NOT EXISTS followers (
	user_id    TEXT NOT NULL,
	room_id    TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	created_at {{ts}} NOT NULL,
	PRIMARY KEY (user_id, room_id)
);

CREATE TABLE IF NOT EXISTS categories (
	id      TEXT PRIMARY KEY,
	room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	name    TEXT NOT NULL,
	color   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id                TEXT PRIMARY KEY,
	room_id           TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL,
	category_id       TEXT REFERENCES categories(id) ON DELETE SET NULL,
	start_at          {{ts}} NOT NULL,
	end_at            {{ts}} NOT NULL,
	all_day           BOOLEAN NOT NULL,
	rrule             TEXT NOT NULL,
	is_recurring      BOOLEAN NOT NULL,
	cascades          BOOLEAN NOT NULL,
	visible_to_parent BOOLEAN NOT NULL,
	original_event_id TEXT REFERENCES events(id) ON DELETE SET NULL,
	created_at        {{ts}} NOT NULL,
	updated_at        {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_room ON events(room_id);

CREATE TABLE IF NOT EXISTS event_exceptions (
	event_id       TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	exception_date {{ts}} NOT NULL,
	PRIMARY KEY (event_id, exception_date)
);

CREATE TABLE IF NOT EXISTS event_targets (
	event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	room_id  TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	PRIMARY KEY (event_id, room_id)
);

CREATE INDEX IF NOT EXISTS idx_event_targets_room ON event_targets(room_id)
`
