// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package eventstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/agentforge/corehub/pkg/metrics"
)

//go:embed migrations
var migrationsFS embed.FS

// sqliteStore is the durable backend: one `events` table whose rowid
// AUTOINCREMENT column doubles as the per-store global cursor (spec.md
// §3: the cursor is per-store, not per-session, so one shared table gives
// it to us for free instead of a separate counter row).
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed Store at path,
// in WAL mode with a 5s busy_timeout, and applies embedded migrations.
func NewSQLiteStore(path string) (Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer assumption per spec.md §5
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventstore: ping sqlite: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: "eventstore_migrations"})
	if err != nil {
		return fmt.Errorf("eventstore: migrate driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("eventstore: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("eventstore: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("eventstore: apply migrations: %w", err)
	}
	return src.Close()
}

func (s *sqliteStore) CreateSession(ctx context.Context, id string, label string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, label, created_at) VALUES (?, ?, ?)`,
		id, label, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("eventstore: create session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Label, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventstore: get session: %w", err)
	}
	sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("eventstore: parse created_at: %w", err)
	}
	return &sess, nil
}

func (s *sqliteStore) Append(ctx context.Context, sessionID string, kind Kind, envelope []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("eventstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInvariantViolation
	} else if err != nil {
		return 0, fmt.Errorf("eventstore: check session: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (session_id, kind, ts, envelope) VALUES (?, ?, ?, ?)`,
		sessionID, string(kind), time.Now().UTC().Format(time.RFC3339Nano), envelope)
	if err != nil {
		return 0, fmt.Errorf("eventstore: insert event: %w", err)
	}
	cursor, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("eventstore: last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("eventstore: commit: %w", err)
	}
	metrics.EventAppendTotal.WithLabelValues(string(kind)).Inc()
	metrics.EventStoreCursor.Set(float64(cursor))
	return cursor, nil
}

func (s *sqliteStore) EventsAfter(ctx context.Context, sessionID string, afterCursor int64, limit int) ([]Event, error) {
	limit = clampLimit(limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT cursor, session_id, kind, ts, envelope FROM events
		 WHERE session_id = ? AND cursor > ? ORDER BY cursor ASC LIMIT ?`,
		sessionID, afterCursor, limit)
	if err != nil {
		return nil, fmt.Errorf("eventstore: events after: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var kind, ts string
		if err := rows.Scan(&ev.Cursor, &ev.SessionID, &kind, &ts, &ev.Envelope); err != nil {
			return nil, fmt.Errorf("eventstore: scan event: %w", err)
		}
		ev.Kind = Kind(kind)
		ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("eventstore: parse ts: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LatestCursor(ctx context.Context, sessionID string) (int64, error) {
	var cursor sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(cursor) FROM events WHERE session_id = ?`, sessionID,
	).Scan(&cursor)
	if err != nil {
		return 0, fmt.Errorf("eventstore: latest cursor: %w", err)
	}
	if !cursor.Valid {
		return 0, nil
	}
	return cursor.Int64, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
