// Package sqlstore is the database/sql job store for MySQL and SQLite.
// Timestamps are stored as unix nanoseconds.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"agent-queue/internal/entity"
	"agent-queue/internal/service"
)

type Store struct {
	db *sql.DB
	d  dialect
}

// Open connects with driver ("mysql", "sqlite" or "sqlite3") and applies
// the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, ok := dialectFor(driver)
	if !ok {
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	if d.driver == "sqlite3" {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, err
	}
	d.prepare(db)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, d: d}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.d.driver, err)
		}
	}
	return nil
}

func (s *Store) storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return entity.ErrNotFound
	case s.d.duplicate(err):
		return entity.ErrDuplicateJob
	case s.d.noParent(err):
		return entity.ErrNotFound
	default:
		return entity.Unavailable(err)
	}
}

const jobColumns = `id, type, queue_name, status, priority, payload, target_runtime,
	attempt_count, max_attempts, claimed_by, lease_expires_at, next_attempt_at,
	result, error, cancel_reason, started_at, finished_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func strPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func nullText(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func scanJob(row scanner) (*entity.Job, error) {
	var (
		job                       entity.Job
		id, status, runtime       string
		payload, result, errBytes []byte
		claimedBy, cancelReason   sql.NullString
		leaseAt, nextAt           sql.NullInt64
		startedAt, finishedAt     sql.NullInt64
		createdAt, updatedAt      int64
	)
	if err := row.Scan(
		&id,
		&job.Type,
		&job.QueueName,
		&status,
		&job.Priority,
		&payload,
		&runtime,
		&job.AttemptCount,
		&job.MaxAttempts,
		&claimedBy,
		&leaseAt,
		&nextAt,
		&result,
		&errBytes,
		&cancelReason,
		&startedAt,
		&finishedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	job.ID = parsed
	job.Status = entity.JobStatus(status)
	job.TargetRuntime = entity.Runtime(runtime)
	job.Payload = json.RawMessage(payload)
	if result != nil {
		job.Result = json.RawMessage(result)
	}
	if errBytes != nil {
		var je entity.JobError
		if err := json.Unmarshal(errBytes, &je); err != nil {
			return nil, err
		}
		job.Error = &je
	}
	job.ClaimedBy = strPtr(claimedBy)
	job.CancelReason = strPtr(cancelReason)
	job.LeaseExpiresAt = timePtr(leaseAt)
	job.NextAttemptAt = timePtr(nextAt)
	job.StartedAt = timePtr(startedAt)
	job.FinishedAt = timePtr(finishedAt)
	job.CreatedAt = fromNanos(createdAt)
	job.UpdatedAt = fromNanos(updatedAt)
	return &job, nil
}

func errorText(e *entity.JobError) (any, error) {
	if e == nil {
		return nil, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *Store) Enqueue(ctx context.Context, job *entity.Job) error {
	errJSON, err := errorText(job.Error)
	if err != nil {
		return err
	}
	const q = `INSERT INTO jobs (` + jobColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		job.ID.String(), job.Type, job.QueueName, string(job.Status), job.Priority,
		string(job.Payload), string(job.TargetRuntime),
		job.AttemptCount, job.MaxAttempts, job.ClaimedBy, nullNanos(job.LeaseExpiresAt), nullNanos(job.NextAttemptAt),
		nullText(job.Result), errJSON, job.CancelReason, nullNanos(job.StartedAt), nullNanos(job.FinishedAt),
		nanos(job.CreatedAt), nanos(job.UpdatedAt),
	)
	return s.storeErr(err)
}

func (s *Store) save(ctx context.Context, tx *sql.Tx, job *entity.Job) error {
	errJSON, err := errorText(job.Error)
	if err != nil {
		return err
	}
	const q = `UPDATE jobs SET
	status = ?,
	attempt_count = ?,
	claimed_by = ?,
	lease_expires_at = ?,
	next_attempt_at = ?,
	result = ?,
	error = ?,
	cancel_reason = ?,
	started_at = ?,
	finished_at = ?,
	updated_at = ?
WHERE id = ?`
	_, err = tx.ExecContext(ctx, q,
		string(job.Status), job.AttemptCount, job.ClaimedBy,
		nullNanos(job.LeaseExpiresAt), nullNanos(job.NextAttemptAt),
		nullText(job.Result), errJSON, job.CancelReason,
		nullNanos(job.StartedAt), nullNanos(job.FinishedAt), nanos(job.UpdatedAt),
		job.ID.String(),
	)
	return s.storeErr(err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *Store) claimQuery(req service.ClaimRequest) (string, []any) {
	clauses := []string{
		"queue_name = ?",
		"attempt_count < max_attempts",
		"(status = 'pending' OR (status = 'retrying' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)))",
	}
	args := []any{req.Queue, nanos(req.Now)}

	if len(req.JobTypes) > 0 {
		clauses = append(clauses, "type IN ("+placeholders(len(req.JobTypes))+")")
		for _, t := range req.JobTypes {
			args = append(args, t)
		}
	}
	if names := req.RuntimeNames(); len(names) > 0 {
		clauses = append(clauses, "(target_runtime = '' OR target_runtime IN ("+placeholders(len(names))+"))")
		for _, n := range names {
			args = append(args, n)
		}
	} else {
		clauses = append(clauses, "target_runtime = ''")
	}

	q := fmt.Sprintf("SELECT %s FROM jobs WHERE %s ORDER BY priority DESC, created_at ASC, id ASC LIMIT 1%s",
		jobColumns, strings.Join(clauses, " AND "), s.d.lock)
	return q, args
}

func (s *Store) ClaimNext(ctx context.Context, req service.ClaimRequest) (*entity.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.storeErr(err)
	}
	defer tx.Rollback()

	q, args := s.claimQuery(req)
	job, err := scanJob(tx.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, s.storeErr(err)
	}
	if err := job.Claim(req.WorkerID, req.Now.Add(req.LeaseDuration), req.Now); err != nil {
		return nil, err
	}
	if err := s.save(ctx, tx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, s.storeErr(err)
	}
	return job, nil
}

func (s *Store) mutate(ctx context.Context, id uuid.UUID, fn func(j *entity.Job) error) (*entity.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.storeErr(err)
	}
	defer tx.Rollback()

	lock := ""
	if s.d.lock != "" {
		lock = " FOR UPDATE"
	}
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?` + lock
	job, err := scanJob(tx.QueryRowContext(ctx, q, id.String()))
	if err != nil {
		return nil, s.storeErr(err)
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	if err := s.save(ctx, tx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, s.storeErr(err)
	}
	return job, nil
}

func (s *Store) Heartbeat(ctx context.Context, id uuid.UUID, workerID string, leaseUntil, now time.Time) (bool, error) {
	_, err := s.mutate(ctx, id, func(j *entity.Job) error {
		return j.Heartbeat(workerID, leaseUntil, now)
	})
	if errors.Is(err, entity.ErrOwnershipLost) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Complete(ctx context.Context, id uuid.UUID, workerID string, result json.RawMessage, now time.Time) (*entity.Job, error) {
	return s.mutate(ctx, id, func(j *entity.Job) error {
		return j.Complete(workerID, result, now)
	})
}

func (s *Store) Fail(ctx context.Context, id uuid.UUID, workerID string, req service.FailRequest) (*entity.Job, error) {
	return s.mutate(ctx, id, func(j *entity.Job) error {
		return j.Fail(workerID, req.Error, req.Retryable, req.NextAttemptAt(j.AttemptCount), req.Now)
	})
}

func (s *Store) Cancel(ctx context.Context, id uuid.UUID, reason string, now time.Time) (*entity.Job, error) {
	return s.mutate(ctx, id, func(j *entity.Job) error {
		return j.Cancel(reason, now)
	})
}

func (s *Store) SweepExpired(ctx context.Context, queue string, now time.Time) ([]entity.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.storeErr(err)
	}
	defer tx.Rollback()

	q := `SELECT ` + jobColumns + ` FROM jobs
WHERE status = 'running' AND lease_expires_at < ? AND (? = '' OR queue_name = ?)
ORDER BY priority DESC, created_at ASC, id ASC` + s.d.lock
	rows, err := tx.QueryContext(ctx, q, nanos(now), queue, queue)
	if err != nil {
		return nil, s.storeErr(err)
	}
	var expired []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, s.storeErr(err)
		}
		expired = append(expired, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, s.storeErr(err)
	}

	moved := make([]entity.Job, 0, len(expired))
	for _, job := range expired {
		if err := job.ExpireLease(now); err != nil {
			continue
		}
		if err := s.save(ctx, tx, job); err != nil {
			return nil, err
		}
		moved = append(moved, *job)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.storeErr(err)
	}
	return moved, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	job, err := scanJob(s.db.QueryRowContext(ctx, q, id.String()))
	if err != nil {
		return nil, s.storeErr(err)
	}
	return job, nil
}

func (s *Store) List(ctx context.Context, f service.ListFilter) ([]entity.Job, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, f.Type)
	}
	if f.Queue != "" {
		clauses = append(clauses, "queue_name = ?")
		args = append(args, f.Queue)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, f.EffectiveLimit())
	q := fmt.Sprintf("SELECT %s FROM jobs%s ORDER BY created_at DESC, id DESC LIMIT ?", jobColumns, where)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.storeErr(err)
	}
	defer rows.Close()

	out := make([]entity.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, s.storeErr(err)
		}
		out = append(out, *job)
	}
	return out, s.storeErr(rows.Err())
}

func (s *Store) AppendEvent(ctx context.Context, ev entity.JobEvent) error {
	const q = `INSERT INTO job_events (id, job_id, level, message, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		ev.ID.String(), ev.JobID.String(), string(ev.Level), ev.Message, nullText(ev.Payload), nanos(ev.CreatedAt))
	return s.storeErr(err)
}

func (s *Store) ListEvents(ctx context.Context, jobID uuid.UUID, after time.Time, limit int) ([]entity.JobEvent, error) {
	if limit <= 0 {
		limit = service.DefaultListLimit
	}
	cursor := int64(math.MinInt64)
	if !after.IsZero() {
		cursor = nanos(after)
	}
	const q = `SELECT id, job_id, level, message, payload, created_at
FROM job_events
WHERE job_id = ? AND created_at > ?
ORDER BY created_at ASC, id ASC
LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, jobID.String(), cursor, limit)
	if err != nil {
		return nil, s.storeErr(err)
	}
	defer rows.Close()

	out := make([]entity.JobEvent, 0)
	for rows.Next() {
		var (
			ev           entity.JobEvent
			id, jid, lvl string
			payload      []byte
			createdAt    int64
		)
		if err := rows.Scan(&id, &jid, &lvl, &ev.Message, &payload, &createdAt); err != nil {
			return nil, s.storeErr(err)
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if ev.JobID, err = uuid.Parse(jid); err != nil {
			return nil, err
		}
		ev.Level = entity.EventLevel(lvl)
		if payload != nil {
			ev.Payload = json.RawMessage(payload)
		}
		ev.CreatedAt = fromNanos(createdAt)
		out = append(out, ev)
	}
	return out, s.storeErr(rows.Err())
}
