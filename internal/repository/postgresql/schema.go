package postgresql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id               UUID PRIMARY KEY,
	type             TEXT        NOT NULL,
	queue_name       TEXT        NOT NULL,
	status           TEXT        NOT NULL CHECK (status IN ('pending','running','retrying','succeeded','failed','cancelled')),
	priority         INTEGER     NOT NULL DEFAULT 0,
	payload          JSONB       NOT NULL DEFAULT '{}'::jsonb,
	target_runtime   TEXT        NOT NULL DEFAULT '',
	attempt_count    INTEGER     NOT NULL DEFAULT 0,
	max_attempts     INTEGER     NOT NULL CHECK (max_attempts >= 1),
	claimed_by       TEXT,
	lease_expires_at TIMESTAMPTZ,
	next_attempt_at  TIMESTAMPTZ,
	result           JSONB,
	error            JSONB,
	cancel_reason    TEXT,
	started_at       TIMESTAMPTZ,
	finished_at      TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	CHECK ((status = 'running') = (claimed_by IS NOT NULL AND lease_expires_at IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS jobs_claim_idx
	ON jobs (queue_name, priority DESC, created_at, id)
	WHERE status IN ('pending', 'retrying');

CREATE INDEX IF NOT EXISTS jobs_lease_idx
	ON jobs (lease_expires_at)
	WHERE status = 'running';

CREATE TABLE IF NOT EXISTS job_events (
	id         UUID PRIMARY KEY,
	job_id     UUID        NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	level      TEXT        NOT NULL,
	message    TEXT        NOT NULL,
	payload    JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS job_events_job_idx ON job_events (job_id, created_at);
`

// Migrate creates the jobs and job_events tables when missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// NewPool opens and pings a pgx pool.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
