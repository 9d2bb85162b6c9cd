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

package queue

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agentforge/corehub/pkg/corerr"
	"github.com/agentforge/corehub/pkg/metrics"
)

//go:embed migrations
var migrationsFS embed.FS

// OpenSQLite opens (creating if needed) the shared queue_items database at
// path, WAL mode, 5s busy_timeout, and applies embedded migrations. Every
// queue instantiation (Requests/Jobs/Completions/MergeJobs) created against
// the returned *sql.DB shares the same table, discriminated by queueName —
// this is the "one generic engine, four instantiations" design of spec.md
// §4.2 carried down to the storage layer.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("queue: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: ping sqlite: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: "queue_migrations"})
	if err != nil {
		return fmt.Errorf("queue: migrate driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("queue: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("queue: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("queue: apply migrations: %w", err)
	}
	return src.Close()
}

// sqliteEngine is the durable Engine implementation; db is shared across
// every queue instantiation opened against the same file.
type sqliteEngine[T any] struct {
	db                 *sql.DB
	queueName          string
	policy             ClaimPolicy[T]
	singleton          Singleton
	defaultMaxAttempts int
	etaFunc            ETAFunc[T]
	// ownsDB is true when this engine opened db itself and should close it;
	// false when db is shared with sibling instantiations.
	ownsDB bool
}

// NewSQLiteEngine creates a durable Engine bound to queueName over db
// (typically shared across the four instantiations via OpenSQLite).
func NewSQLiteEngine[T any](db *sql.DB, queueName string, policy ClaimPolicy[T], singleton Singleton, defaultMaxAttempts int, eta ETAFunc[T]) Engine[T] {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 1
	}
	return &sqliteEngine[T]{
		db: db, queueName: queueName, policy: policy, singleton: singleton,
		defaultMaxAttempts: defaultMaxAttempts, etaFunc: eta,
	}
}

type row[T any] struct {
	seq                                                                                   int64
	id, sessionID, status, ownerID                                                        string
	payload                                                                                []byte
	errMessage, errDetail                                                                  string
	enqueuedAt                                                                              string
	claimedAt, startedAt, firstActivityAt, completedAt, failedAt                            sql.NullString
	durationMs                                                                              int64
	attempts, maxAttempts                                                                   int
	priority                                                                                int
	queueClass, targetOwner                                                                 string
	requiredCapabilities                                                                    string
	queueWaitBudgetMs, executionBudgetMs, finalizationBudgetMs                              int64
	taskID, kind, tenantID, idempotencyKey, uniqueKey                                       string
	cancelRequestedAt                                                                      sql.NullString
}

const rowColumns = `seq, id, session_id, status, owner_id, payload, error_message, error_detail,
	enqueued_at, claimed_at, started_at, first_activity_at, completed_at, failed_at, duration_ms,
	attempts, max_attempts, priority, queue_class, target_owner, required_capabilities,
	queue_wait_budget_ms, execution_budget_ms, finalization_budget_ms, task_id, kind, tenant_id,
	idempotency_key, unique_key, cancel_requested_at`

func scanRow[T any](sc interface {
	Scan(dest ...any) error
}) (row[T], error) {
	var r row[T]
	err := sc.Scan(&r.seq, &r.id, &r.sessionID, &r.status, &r.ownerID, &r.payload, &r.errMessage, &r.errDetail,
		&r.enqueuedAt, &r.claimedAt, &r.startedAt, &r.firstActivityAt, &r.completedAt, &r.failedAt, &r.durationMs,
		&r.attempts, &r.maxAttempts, &r.priority, &r.queueClass, &r.targetOwner, &r.requiredCapabilities,
		&r.queueWaitBudgetMs, &r.executionBudgetMs, &r.finalizationBudgetMs, &r.taskID, &r.kind, &r.tenantID,
		&r.idempotencyKey, &r.uniqueKey, &r.cancelRequestedAt)
	return r, err
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func timePtrStr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (r row[T]) toItem() (*Item[T], error) {
	var payload T
	if len(r.payload) > 0 {
		if err := json.Unmarshal(r.payload, &payload); err != nil {
			return nil, fmt.Errorf("queue: unmarshal payload: %w", err)
		}
	}
	var caps []string
	if r.requiredCapabilities != "" {
		_ = json.Unmarshal([]byte(r.requiredCapabilities), &caps)
	}
	it := &Item[T]{
		ID: r.id, SessionID: r.sessionID, Status: Status(r.status), OwnerID: r.ownerID, Payload: payload,
		EnqueuedAt: parseTime(r.enqueuedAt), ClaimedAt: parseTimePtr(r.claimedAt), StartedAt: parseTimePtr(r.startedAt),
		FirstActivityAt: parseTimePtr(r.firstActivityAt), CompletedAt: parseTimePtr(r.completedAt), FailedAt: parseTimePtr(r.failedAt),
		DurationMs: r.durationMs, Attempts: r.attempts, MaxAttempts: r.maxAttempts, Priority: Priority(r.priority),
		QueueClass: r.queueClass, TargetOwner: r.targetOwner, RequiredCapabilities: caps,
		QueueWaitBudgetMs: r.queueWaitBudgetMs, ExecutionBudgetMs: r.executionBudgetMs, FinalizationBudgetMs: r.finalizationBudgetMs,
		TaskID: r.taskID, Kind: r.kind, TenantID: r.tenantID, IdempotencyKey: r.idempotencyKey, UniqueKey: r.uniqueKey,
		CancelRequestedAt: parseTimePtr(r.cancelRequestedAt),
		seq:               r.seq,
	}
	if r.errMessage != "" {
		it.Error = &corerr.Blob{Message: r.errMessage, Detail: r.errDetail}
	}
	return it, nil
}

func (e *sqliteEngine[T]) Enqueue(ctx context.Context, item *Item[T]) (EnqueueResult, error) {
	cp := item.Clone()
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.Status = StatusPending
	cp.EnqueuedAt = time.Now().UTC()
	cp.Attempts = 0
	if cp.MaxAttempts <= 0 {
		cp.MaxAttempts = e.defaultMaxAttempts
	}

	payload, err := json.Marshal(cp.Payload)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queue: marshal payload: %w", err)
	}
	caps, _ := json.Marshal(cp.RequiredCapabilities)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queue: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if cp.UniqueKey != "" {
		var existingID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM queue_items WHERE queue_name = ? AND unique_key = ?`, e.queueName, cp.UniqueKey,
		).Scan(&existingID)
		if err == nil {
			return EnqueueResult{ID: existingID, Created: false}, tx.Commit()
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return EnqueueResult{}, fmt.Errorf("queue: check unique key: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO queue_items (
		id, queue_name, session_id, status, owner_id, payload, enqueued_at,
		attempts, max_attempts, priority, queue_class, target_owner, required_capabilities,
		queue_wait_budget_ms, execution_budget_ms, finalization_budget_ms, task_id, kind,
		tenant_id, idempotency_key, unique_key
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		cp.ID, e.queueName, cp.SessionID, StatusPending, cp.OwnerID, payload, cp.EnqueuedAt.Format(time.RFC3339Nano),
		0, cp.MaxAttempts, int(cp.Priority), cp.QueueClass, cp.TargetOwner, string(caps),
		cp.QueueWaitBudgetMs, cp.ExecutionBudgetMs, cp.FinalizationBudgetMs, cp.TaskID, cp.Kind,
		cp.TenantID, cp.IdempotencyKey, cp.UniqueKey,
	)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queue: insert item: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queue: last insert id: %w", err)
	}
	cp.seq = seq

	var pendingCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items WHERE queue_name = ? AND status = ?`, e.queueName, StatusPending).Scan(&pendingCount); err != nil {
		return EnqueueResult{}, fmt.Errorf("queue: count pending: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return EnqueueResult{}, fmt.Errorf("queue: commit: %w", err)
	}

	var eta int64
	if e.etaFunc != nil {
		eta = e.etaFunc(pendingCount, cp)
	}
	e.refreshDepthMetrics(ctx)
	return EnqueueResult{ID: cp.ID, QueuePosition: pendingCount, ETAMs: eta, Created: true}, nil
}

// claimCandidateLimit bounds how many pending rows are pulled into Go for
// policy evaluation per claim attempt; generous enough that a queue with a
// reasonable backlog never mis-schedules, small enough to keep claim O(1)-ish.
const claimCandidateLimit = 500

func (e *sqliteEngine[T]) Claim(ctx context.Context, ownerID string, opts ClaimOptions) (*Item[T], error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var conflict string
	var singletonQuery string
	var args []any
	if e.singleton == SingletonGlobal {
		singletonQuery = `SELECT id FROM queue_items WHERE queue_name = ? AND status = ? LIMIT 1`
		args = []any{e.queueName, StatusClaimed}
	} else {
		singletonQuery = `SELECT id FROM queue_items WHERE queue_name = ? AND status = ? AND owner_id = ? LIMIT 1`
		args = []any{e.queueName, StatusClaimed, ownerID}
	}
	err = tx.QueryRowContext(ctx, singletonQuery, args...).Scan(&conflict)
	if err == nil {
		metrics.ClaimTotal.WithLabelValues(e.queueName, "empty").Inc()
		return nil, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("queue: singleton check: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+rowColumns+` FROM queue_items WHERE queue_name = ? AND status = ? ORDER BY seq ASC LIMIT ?`,
		e.queueName, StatusPending, claimCandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("queue: select candidates: %w", err)
	}
	var candidates []*Item[T]
	for rows.Next() {
		r, err := scanRow[T](rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("queue: scan candidate: %w", err)
		}
		if opts.TenantID != "" && r.tenantID != "" && r.tenantID != opts.TenantID {
			continue
		}
		it, err := r.toItem()
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterate candidates: %w", err)
	}

	best := e.policy(candidates, ownerID, opts)
	if best == nil {
		metrics.ClaimTotal.WithLabelValues(e.queueName, "empty").Inc()
		return nil, tx.Commit()
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, owner_id = ?, claimed_at = ?, started_at = ?, attempts = attempts + 1
		 WHERE id = ? AND status = ?`,
		StatusClaimed, ownerID, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), best.ID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("queue: claim update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// lost a race within the same process; caller may retry.
		metrics.ClaimTotal.WithLabelValues(e.queueName, "empty").Inc()
		return nil, tx.Commit()
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue: commit claim: %w", err)
	}
	best.Status = StatusClaimed
	best.OwnerID = ownerID
	best.ClaimedAt = &now
	best.StartedAt = &now
	best.Attempts++
	metrics.ClaimTotal.WithLabelValues(e.queueName, "hit").Inc()
	e.refreshDepthMetrics(ctx)
	return best, nil
}

func (e *sqliteEngine[T]) Complete(ctx context.Context, id string, result Result) error {
	return e.finishTerminal(ctx, id, StatusCompleted, nil)
}

func (e *sqliteEngine[T]) Fail(ctx context.Context, id string, errBlob ErrorBlob) error {
	return e.finishTerminal(ctx, id, StatusFailed, &errBlob)
}

func (e *sqliteEngine[T]) Skip(ctx context.Context, id string, errBlob ErrorBlob) error {
	return e.finishTerminal(ctx, id, StatusSkipped, &errBlob)
}

func (e *sqliteEngine[T]) finishTerminal(ctx context.Context, id string, status Status, errBlob *ErrorBlob) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentStatus, claimedAt string
	err = tx.QueryRowContext(ctx, `SELECT status, COALESCE(claimed_at, '') FROM queue_items WHERE id = ?`, id).Scan(&currentStatus, &claimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return corerr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("queue: lookup item: %w", err)
	}
	if Status(currentStatus) != StatusClaimed {
		return corerr.ErrNotClaimed
	}
	now := time.Now().UTC()
	var duration int64
	if t, perr := time.Parse(time.RFC3339Nano, claimedAt); perr == nil {
		duration = now.Sub(t).Milliseconds()
	}
	var msg, detail string
	timeCol := "completed_at"
	if errBlob != nil {
		msg, detail = errBlob.Message, errBlob.Detail
		timeCol = "failed_at"
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE queue_items SET status = ?, %s = ?, duration_ms = ?, error_message = ?, error_detail = ? WHERE id = ?`, timeCol),
		status, now.Format(time.RFC3339Nano), duration, msg, detail, id)
	if err != nil {
		return fmt.Errorf("queue: finish update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("queue: commit: %w", err)
	}
	e.refreshDepthMetrics(ctx)
	return nil
}

func (e *sqliteEngine[T]) Requeue(ctx context.Context, id string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentStatus string
	err = tx.QueryRowContext(ctx, `SELECT status FROM queue_items WHERE id = ?`, id).Scan(&currentStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return corerr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("queue: lookup item: %w", err)
	}
	if Status(currentStatus) != StatusFailed && Status(currentStatus) != StatusSkipped {
		return corerr.New(corerr.KindValidation, "queue: requeue requires failed or skipped status")
	}
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, claimed_at = NULL, started_at = NULL, first_activity_at = NULL,
		 completed_at = NULL, failed_at = NULL, error_message = '', error_detail = '', cancel_requested_at = NULL,
		 enqueued_at = ? WHERE id = ?`,
		StatusPending, now.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("queue: requeue update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("queue: commit: %w", err)
	}
	e.refreshDepthMetrics(ctx)
	return nil
}

func (e *sqliteEngine[T]) RequestCancel(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := e.db.ExecContext(ctx,
		`UPDATE queue_items SET cancel_requested_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("queue: request cancel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return corerr.ErrNotFound
	}
	return nil
}

func (e *sqliteEngine[T]) RecoverStale(ctx context.Context, ttl time.Duration, limit int) ([]*Item[T], error) {
	if limit <= 0 {
		limit = 500
	}
	claimed, err := e.ListClaimed(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var recovered []*Item[T]
	for _, it := range claimed {
		if len(recovered) >= limit {
			break
		}
		last := it.ClaimedAt
		if it.FirstActivityAt != nil && it.FirstActivityAt.After(*last) {
			last = it.FirstActivityAt
		}
		if last == nil || now.Sub(*last) < ttl {
			continue
		}
		blob := corerr.ToBlob(corerr.New(corerr.KindBudgetExhausted, "auto-failed after stale worker claim").WithDetailf("ttl=%s last_activity=%s", ttl, last.Format(time.RFC3339)))
		if err := e.Fail(ctx, it.ID, blob); err != nil {
			continue
		}
		metrics.StaleRecoveredTotal.WithLabelValues(e.queueName).Inc()
		recovered = append(recovered, it)
	}
	return recovered, nil
}

func (e *sqliteEngine[T]) MarkActivity(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := e.db.ExecContext(ctx,
		`UPDATE queue_items SET first_activity_at = ? WHERE id = ? AND first_activity_at IS NULL`,
		now.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("queue: mark activity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := e.db.QueryRowContext(ctx, `SELECT 1 FROM queue_items WHERE id = ?`, id).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
			return corerr.ErrNotFound
		}
	}
	return nil
}

func (e *sqliteEngine[T]) ListClaimed(ctx context.Context) ([]*Item[T], error) {
	rows, err := e.db.QueryContext(ctx, `SELECT `+rowColumns+` FROM queue_items WHERE queue_name = ? AND status = ?`, e.queueName, StatusClaimed)
	if err != nil {
		return nil, fmt.Errorf("queue: list claimed: %w", err)
	}
	defer rows.Close()
	var out []*Item[T]
	for rows.Next() {
		r, err := scanRow[T](rows)
		if err != nil {
			return nil, fmt.Errorf("queue: scan claimed: %w", err)
		}
		it, err := r.toItem()
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (e *sqliteEngine[T]) Get(ctx context.Context, id string) (*Item[T], error) {
	row := e.db.QueryRowContext(ctx, `SELECT `+rowColumns+` FROM queue_items WHERE id = ?`, id)
	r, err := scanRow[T](row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: get item: %w", err)
	}
	return r.toItem()
}

func (e *sqliteEngine[T]) CountsByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_items WHERE queue_name = ? GROUP BY status`, e.queueName)
	if err != nil {
		return nil, fmt.Errorf("queue: counts by status: %w", err)
	}
	defer rows.Close()
	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

func (e *sqliteEngine[T]) refreshDepthMetrics(ctx context.Context) {
	counts, err := e.CountsByStatus(ctx)
	if err != nil {
		return
	}
	for status, n := range counts {
		metrics.QueueDepth.WithLabelValues(e.queueName, string(status)).Set(float64(n))
	}
}

func (e *sqliteEngine[T]) ListTerminal(ctx context.Context, since time.Time, limit int) ([]*Item[T], error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := e.db.QueryContext(ctx,
		`SELECT `+rowColumns+` FROM queue_items WHERE queue_name = ? AND status IN (?, ?, ?)
		 AND (completed_at >= ? OR failed_at >= ?) ORDER BY seq DESC LIMIT ?`,
		e.queueName, StatusCompleted, StatusFailed, StatusSkipped,
		since.UTC().Format(time.RFC3339Nano), since.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("queue: list terminal: %w", err)
	}
	defer rows.Close()
	var out []*Item[T]
	for rows.Next() {
		r, err := scanRow[T](rows)
		if err != nil {
			return nil, fmt.Errorf("queue: scan terminal: %w", err)
		}
		it, err := r.toItem()
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (e *sqliteEngine[T]) Close() error {
	if e.ownsDB {
		return e.db.Close()
	}
	return nil
}
