package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"agent-queue/internal/entity"
)

// JobStore is the durable job port (implementations: repository/postgresql,
// repository/sqlstore, repository/memory). Implementations never retry and
// report backend failures as entity.ErrStoreUnavailable.
type JobStore interface {
	Enqueue(ctx context.Context, job *entity.Job) error
	// ClaimNext returns nil, nil when no job is eligible.
	ClaimNext(ctx context.Context, req ClaimRequest) (*entity.Job, error)
	// Heartbeat returns false when workerID no longer owns the job.
	Heartbeat(ctx context.Context, id uuid.UUID, workerID string, leaseUntil, now time.Time) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, workerID string, result json.RawMessage, now time.Time) (*entity.Job, error)
	Fail(ctx context.Context, id uuid.UUID, workerID string, req FailRequest) (*entity.Job, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string, now time.Time) (*entity.Job, error)
	// SweepExpired moves running jobs whose lease ended before now. An empty
	// queue sweeps every queue.
	SweepExpired(ctx context.Context, queue string, now time.Time) ([]entity.Job, error)

	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	List(ctx context.Context, f ListFilter) ([]entity.Job, error)
	AppendEvent(ctx context.Context, ev entity.JobEvent) error
	ListEvents(ctx context.Context, jobID uuid.UUID, after time.Time, limit int) ([]entity.JobEvent, error)
}

type ClaimRequest struct {
	Queue    string
	WorkerID string
	// JobTypes restricts candidates; empty accepts any type.
	JobTypes []string
	// Runtimes lists what the worker can execute. Jobs without a target
	// runtime are always acceptable.
	Runtimes      []entity.Runtime
	LeaseDuration time.Duration
	Now           time.Time
}

// Accepts applies the capability filter to one candidate.
func (r ClaimRequest) Accepts(j *entity.Job) bool {
	if len(r.JobTypes) > 0 && !contains(r.JobTypes, j.Type) {
		return false
	}
	if j.TargetRuntime == "" {
		return true
	}
	for _, rt := range r.Runtimes {
		if rt == j.TargetRuntime {
			return true
		}
	}
	return false
}

func (r ClaimRequest) RuntimeNames() []string {
	out := make([]string, 0, len(r.Runtimes))
	for _, rt := range r.Runtimes {
		out = append(out, string(rt))
	}
	return out
}

type FailRequest struct {
	Error     entity.JobError
	Retryable bool
	// RetryDelay maps the attempt count to the wait before the next claim.
	RetryDelay func(attempt int) time.Duration
	Now        time.Time
}

// NextAttemptAt resolves when a retrying job becomes eligible.
func (r FailRequest) NextAttemptAt(attempt int) time.Time {
	if r.RetryDelay == nil {
		return r.Now
	}
	return r.Now.Add(r.RetryDelay(attempt))
}

type ListFilter struct {
	Status entity.JobStatus
	Type   string
	Queue  string
	Limit  int
}

const DefaultListLimit = 50

func (f ListFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	if f.Limit > 500 {
		return 500
	}
	return f.Limit
}

// Doorbell wakes idle workers bound to queue. Delivery is best effort; the
// store stays the source of truth.
type Doorbell interface {
	Ring(ctx context.Context, queue string) error
}

type nopDoorbell struct{}

func (nopDoorbell) Ring(context.Context, string) error { return nil }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
