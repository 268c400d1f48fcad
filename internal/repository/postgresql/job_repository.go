package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"agent-queue/internal/entity"
	"agent-queue/internal/service"
)

// JobRepository is the Postgres job store. Every mutation locks the row,
// applies the entity transition in Go and writes the row back inside one
// transaction.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `id, type, queue_name, status, priority, payload, target_runtime,
	attempt_count, max_attempts, claimed_by, lease_expires_at, next_attempt_at,
	result, error, cancel_reason, started_at, finished_at, created_at, updated_at`

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job        entity.Job
		statusText string
		runtime    string
		payload    []byte
		result     []byte
		errBytes   []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Type,
		&job.QueueName,
		&statusText,
		&job.Priority,
		&payload,
		&runtime,
		&job.AttemptCount,
		&job.MaxAttempts,
		&job.ClaimedBy,
		&job.LeaseExpiresAt,
		&job.NextAttemptAt,
		&result,   // NULL => nil
		&errBytes, // NULL => nil
		&job.CancelReason,
		&job.StartedAt,
		&job.FinishedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	job.Status = entity.JobStatus(statusText)
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
	return &job, nil
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

func errorJSON(e *entity.JobError) (any, error) {
	if e == nil {
		return nil, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// storeErr maps driver failures to the store contract.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return entity.ErrDuplicateJob
		case "23503":
			return entity.ErrNotFound
		}
	}
	return entity.Unavailable(err)
}

func (r *JobRepository) Enqueue(ctx context.Context, job *entity.Job) error {
	errJSON, err := errorJSON(job.Error)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19);
`
	_, err = r.pool.Exec(ctx, q,
		job.ID, job.Type, job.QueueName, string(job.Status), job.Priority,
		[]byte(job.Payload), string(job.TargetRuntime),
		job.AttemptCount, job.MaxAttempts, job.ClaimedBy, job.LeaseExpiresAt, job.NextAttemptAt,
		nullJSON(job.Result), errJSON, job.CancelReason, job.StartedAt, job.FinishedAt,
		job.CreatedAt, job.UpdatedAt,
	)
	return storeErr(err)
}

// save writes every mutable column of job.
func save(ctx context.Context, tx pgx.Tx, job *entity.Job) error {
	errJSON, err := errorJSON(job.Error)
	if err != nil {
		return err
	}
	const q = `
UPDATE jobs SET
	status = $2,
	attempt_count = $3,
	claimed_by = $4,
	lease_expires_at = $5,
	next_attempt_at = $6,
	result = $7,
	error = $8,
	cancel_reason = $9,
	started_at = $10,
	finished_at = $11,
	updated_at = $12
WHERE id = $1;
`
	tag, err := tx.Exec(ctx, q,
		job.ID, string(job.Status), job.AttemptCount, job.ClaimedBy, job.LeaseExpiresAt, job.NextAttemptAt,
		nullJSON(job.Result), errJSON, job.CancelReason, job.StartedAt, job.FinishedAt, job.UpdatedAt,
	)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrNotFound
	}
	return nil
}

func (r *JobRepository) ClaimNext(ctx context.Context, req service.ClaimRequest) (*entity.Job, error) {
	types := req.JobTypes
	if types == nil {
		types = []string{}
	}
	const q = `
SELECT ` + jobColumns + `
FROM jobs
WHERE queue_name = $1
  AND attempt_count < max_attempts
  AND (status = 'pending' OR (status = 'retrying' AND (next_attempt_at IS NULL OR next_attempt_at <= $2)))
  AND (cardinality($3::text[]) = 0 OR type = ANY($3::text[]))
  AND (target_runtime = '' OR target_runtime = ANY($4::text[]))
ORDER BY priority DESC, created_at ASC, id ASC
LIMIT 1
FOR UPDATE SKIP LOCKED;
`
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx, q, req.Queue, req.Now, types, req.RuntimeNames()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	if err := job.Claim(req.WorkerID, req.Now.Add(req.LeaseDuration), req.Now); err != nil {
		return nil, err
	}
	if err := save(ctx, tx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr(err)
	}
	return job, nil
}

// mutate locks one row, applies fn and writes the result back.
func (r *JobRepository) mutate(ctx context.Context, id uuid.UUID, fn func(j *entity.Job) error) (*entity.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	defer tx.Rollback(ctx)

	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE;`
	job, err := scanJob(tx.QueryRow(ctx, q, id))
	if err != nil {
		return nil, storeErr(err)
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	if err := save(ctx, tx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr(err)
	}
	return job, nil
}

func (r *JobRepository) Heartbeat(ctx context.Context, id uuid.UUID, workerID string, leaseUntil, now time.Time) (bool, error) {
	_, err := r.mutate(ctx, id, func(j *entity.Job) error {
		return j.Heartbeat(workerID, leaseUntil, now)
	})
	if errors.Is(err, entity.ErrOwnershipLost) {
		return false, nil
	}
	return err == nil, err
}

func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, workerID string, result json.RawMessage, now time.Time) (*entity.Job, error) {
	return r.mutate(ctx, id, func(j *entity.Job) error {
		return j.Complete(workerID, result, now)
	})
}

func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, workerID string, req service.FailRequest) (*entity.Job, error) {
	return r.mutate(ctx, id, func(j *entity.Job) error {
		return j.Fail(workerID, req.Error, req.Retryable, req.NextAttemptAt(j.AttemptCount), req.Now)
	})
}

func (r *JobRepository) Cancel(ctx context.Context, id uuid.UUID, reason string, now time.Time) (*entity.Job, error) {
	return r.mutate(ctx, id, func(j *entity.Job) error {
		return j.Cancel(reason, now)
	})
}

func (r *JobRepository) SweepExpired(ctx context.Context, queue string, now time.Time) ([]entity.Job, error) {
	const q = `
SELECT ` + jobColumns + `
FROM jobs
WHERE status = 'running'
  AND lease_expires_at < $1
  AND ($2::text = '' OR queue_name = $2::text)
ORDER BY priority DESC, created_at ASC, id ASC
FOR UPDATE SKIP LOCKED;
`
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, q, now, queue)
	if err != nil {
		return nil, storeErr(err)
	}
	var expired []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, storeErr(err)
		}
		expired = append(expired, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}

	moved := make([]entity.Job, 0, len(expired))
	for _, job := range expired {
		if err := job.ExpireLease(now); err != nil {
			continue
		}
		if err := save(ctx, tx, job); err != nil {
			return nil, err
		}
		moved = append(moved, *job)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr(err)
	}
	return moved, nil
}

func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, storeErr(err)
	}
	return job, nil
}

func (r *JobRepository) List(ctx context.Context, f service.ListFilter) ([]entity.Job, error) {
	const q = `
SELECT ` + jobColumns + `
FROM jobs
WHERE ($1::text = '' OR status = $1::text)
  AND ($2::text = '' OR type = $2::text)
  AND ($3::text = '' OR queue_name = $3::text)
ORDER BY created_at DESC, id DESC
LIMIT $4;
`
	rows, err := r.pool.Query(ctx, q, string(f.Status), f.Type, f.Queue, f.EffectiveLimit())
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	out := make([]entity.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, *job)
	}
	return out, storeErr(rows.Err())
}

func (r *JobRepository) AppendEvent(ctx context.Context, ev entity.JobEvent) error {
	const q = `
INSERT INTO job_events (id, job_id, level, message, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, q, ev.ID, ev.JobID, string(ev.Level), ev.Message, nullJSON(ev.Payload), ev.CreatedAt)
	return storeErr(err)
}

func (r *JobRepository) ListEvents(ctx context.Context, jobID uuid.UUID, after time.Time, limit int) ([]entity.JobEvent, error) {
	if limit <= 0 {
		limit = service.DefaultListLimit
	}
	const q = `
SELECT id, job_id, level, message, payload, created_at
FROM job_events
WHERE job_id = $1 AND created_at > $2
ORDER BY created_at ASC, id ASC
LIMIT $3;
`
	rows, err := r.pool.Query(ctx, q, jobID, after, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	out := make([]entity.JobEvent, 0)
	for rows.Next() {
		var (
			ev      entity.JobEvent
			level   string
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.JobID, &level, &ev.Message, &payload, &ev.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		ev.Level = entity.EventLevel(level)
		if payload != nil {
			ev.Payload = json.RawMessage(payload)
		}
		out = append(out, ev)
	}
	return out, storeErr(rows.Err())
}
