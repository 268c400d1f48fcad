package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"agent-queue/internal/entity"
	"agent-queue/internal/lease"
)

// WorkerContext identifies the caller of every worker-side operation. One
// process may run several of them.
type WorkerContext struct {
	ID           string
	Runtime      entity.Runtime
	Capabilities []entity.Runtime
	// JobTypes narrows which job types the worker accepts; empty means any.
	JobTypes []string
}

// Outcome is the result of a worker report. Stale means the claim was
// superseded: the worker must drop the job without treating it as an error.
type Outcome struct {
	Job   *entity.Job
	Stale bool
}

type SubmitRequest struct {
	Type        string
	Priority    int
	MaxAttempts int
	Payload     json.RawMessage
}

type FailReport struct {
	Message   string
	Details   json.RawMessage
	Retryable bool
}

type Options struct {
	Policy       lease.Policy
	Retry        lease.RetryPolicy
	Router       *Router
	Doorbell     Doorbell
	StoreTimeout time.Duration
	Now          func() time.Time
}

type QueueService struct {
	store        JobStore
	policy       lease.Policy
	retry        lease.RetryPolicy
	router       *Router
	doorbell     Doorbell
	storeTimeout time.Duration
	now          func() time.Time
}

func NewQueueService(store JobStore, opts Options) *QueueService {
	s := &QueueService{
		store:        store,
		policy:       opts.Policy,
		retry:        opts.Retry,
		router:       opts.Router,
		doorbell:     opts.Doorbell,
		storeTimeout: opts.StoreTimeout,
		now:          opts.Now,
	}
	if s.policy == (lease.Policy{}) {
		s.policy = lease.DefaultPolicy()
	}
	if s.retry == nil {
		cfg := lease.DefaultRetryConfig()
		s.retry = lease.ExponentialBackoff{Base: cfg.Base, Max: cfg.Max}
	}
	if s.router == nil {
		s.router = NewRouter(DefaultRoutingConfig())
	}
	if s.doorbell == nil {
		s.doorbell = nopDoorbell{}
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = 5 * time.Second
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *QueueService) Policy() lease.Policy { return s.policy }

func (s *QueueService) Router() *Router { return s.router }

func (s *QueueService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// storeErr makes a timed-out store call surface as ErrStoreUnavailable.
func storeErr(err error) error {
	if err == nil || errors.Is(err, entity.ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return entity.Unavailable(err)
	}
	return err
}

// Submit validates the payload, resolves the queue and enqueues a pending job.
func (s *QueueService) Submit(ctx context.Context, req SubmitRequest) (*entity.Job, error) {
	jobType, legacy, ok := s.router.CanonicalType(req.Type)
	if !ok {
		if strings.TrimSpace(req.Type) == "" {
			return nil, entity.InvalidPayload("type is required")
		}
		return nil, entity.InvalidPayload("type must be one of: %s", strings.Join(s.router.JobTypes(), ", "))
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.policy.MaxAttempts
	}
	if maxAttempts < 1 {
		return nil, entity.InvalidPayload("max_attempts must be >= 1")
	}

	payload, err := NormalizePayload(req.Payload, s.router.Route(jobType))
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, entity.InvalidPayload("payload cannot be encoded: %v", err)
	}

	queue := s.router.Resolve(jobType, payload.Task.TargetRuntime)
	now := s.now()
	job := entity.NewJob(uuid.MustParse(payload.JobID), jobType, queue, req.Priority, maxAttempts, raw, payload.Task.TargetRuntime, now)

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.Enqueue(sctx, job); err != nil {
		if errors.Is(err, entity.ErrDuplicateJob) {
			return nil, entity.InvalidPayload("job_id %s already exists", job.ID)
		}
		return nil, storeErr(err)
	}

	s.event(ctx, job.ID, entity.LevelInfo, "Job queued", map[string]any{
		"type":  jobType,
		"queue": queue,
	})
	if legacy {
		s.event(ctx, job.ID, entity.LevelWarn, "Legacy job type submitted", map[string]any{
			"job_type":         req.Type,
			"recommended_type": jobType,
		})
		log.Printf("[queue] job_id=%s legacy_type=%s canonical=%s", job.ID, req.Type, jobType)
	}
	s.ring(ctx, queue)

	log.Printf("[queue] job_id=%s type=%s queue=%s target_runtime=%s status=pending", job.ID, jobType, queue, job.TargetRuntime)
	return job, nil
}

// Claim assigns the next eligible job on queue to w, filtered by the
// capabilities w advertises. It returns nil, nil when nothing is eligible.
func (s *QueueService) Claim(ctx context.Context, w WorkerContext, queue string) (*entity.Job, error) {
	if strings.TrimSpace(w.ID) == "" {
		return nil, entity.InvalidPayload("worker id is required")
	}
	if strings.TrimSpace(queue) == "" {
		return nil, entity.InvalidPayload("queue is required")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	job, err := s.store.ClaimNext(sctx, ClaimRequest{
		Queue:         queue,
		WorkerID:      w.ID,
		JobTypes:      w.JobTypes,
		Runtimes:      w.Capabilities,
		LeaseDuration: s.policy.LeaseDuration,
		Now:           s.now(),
	})
	if err != nil {
		return nil, storeErr(err)
	}
	if job == nil {
		return nil, nil
	}

	s.event(ctx, job.ID, entity.LevelInfo, "Job claimed", map[string]any{
		"worker_id": w.ID,
		"attempt":   job.AttemptCount,
	})
	log.Printf("[queue] job_id=%s worker_id=%s queue=%s attempt=%d/%d status=running",
		job.ID, w.ID, queue, job.AttemptCount, job.MaxAttempts,
	)
	return job, nil
}

func (s *QueueService) Heartbeat(ctx context.Context, w WorkerContext, id uuid.UUID) (Outcome, error) {
	now := s.now()

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	ok, err := s.store.Heartbeat(sctx, id, w.ID, s.policy.LeaseUntil(now), now)
	if err != nil {
		return Outcome{}, storeErr(err)
	}
	if !ok {
		log.Printf("[queue] job_id=%s worker_id=%s heartbeat=stale", id, w.ID)
		return Outcome{Stale: true}, nil
	}
	return Outcome{}, nil
}

func (s *QueueService) Complete(ctx context.Context, w WorkerContext, id uuid.UUID, result json.RawMessage) (Outcome, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	job, err := s.store.Complete(sctx, id, w.ID, result, s.now())
	if err != nil {
		return s.staleOr(id, w, "complete", err)
	}

	s.event(ctx, id, entity.LevelInfo, "Job succeeded", map[string]any{"worker_id": w.ID})
	log.Printf("[queue] job_id=%s worker_id=%s status=succeeded", id, w.ID)
	return Outcome{Job: job}, nil
}

func (s *QueueService) Fail(ctx context.Context, w WorkerContext, id uuid.UUID, report FailReport) (Outcome, error) {
	now := s.now()

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	job, err := s.store.Fail(sctx, id, w.ID, FailRequest{
		Error: entity.JobError{
			Message: strings.TrimSpace(report.Message),
			Details: report.Details,
		},
		Retryable:  report.Retryable,
		RetryDelay: s.retry.Delay,
		Now:        now,
	})
	if err != nil {
		return s.staleOr(id, w, "fail", err)
	}

	switch {
	case job.Status == entity.StatusRetrying:
		s.event(ctx, id, entity.LevelWarn, "Job failed; retry scheduled", map[string]any{
			"worker_id":       w.ID,
			"attempt":         job.AttemptCount,
			"next_attempt_at": job.NextAttemptAt,
			"error":           job.Error,
		})
		log.Printf("[queue] job_id=%s worker_id=%s status=retrying attempt=%d/%d next_attempt_at=%s",
			id, w.ID, job.AttemptCount, job.MaxAttempts, job.NextAttemptAt.Format(time.RFC3339),
		)
	case errors.Is(job.Err(), entity.ErrAttemptBudgetExhausted):
		s.event(ctx, id, entity.LevelError, "Job failed; attempt budget exhausted", map[string]any{
			"worker_id": w.ID,
			"error":     job.Error,
		})
		log.Printf("[queue] job_id=%s worker_id=%s status=failed reason=%s attempts=%d error=%q",
			id, w.ID, entity.ReasonBudgetExhausted, job.AttemptCount, job.Error.Message,
		)
	default:
		s.event(ctx, id, entity.LevelError, "Job failed", map[string]any{
			"worker_id": w.ID,
			"error":     job.Error,
		})
		log.Printf("[queue] job_id=%s worker_id=%s status=failed error=%q", id, w.ID, job.Error.Message)
	}
	if job.Status == entity.StatusRetrying {
		s.ring(ctx, job.QueueName)
	}
	return Outcome{Job: job}, nil
}

func (s *QueueService) staleOr(id uuid.UUID, w WorkerContext, op string, err error) (Outcome, error) {
	if errors.Is(err, entity.ErrOwnershipLost) {
		log.Printf("[queue] job_id=%s worker_id=%s %s=stale", id, w.ID, op)
		return Outcome{Stale: true}, nil
	}
	return Outcome{}, storeErr(err)
}

// Cancel stops a job before any worker claims it. Running jobs are rejected
// with ErrInvalidTransition.
func (s *QueueService) Cancel(ctx context.Context, id uuid.UUID, reason string) (*entity.Job, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	job, err := s.store.Cancel(sctx, id, strings.TrimSpace(reason), s.now())
	if err != nil {
		return nil, storeErr(err)
	}

	s.event(ctx, id, entity.LevelInfo, "Job cancelled", map[string]any{"reason": reason})
	log.Printf("[queue] job_id=%s status=cancelled", id)
	return job, nil
}

// SweepExpired reclaims abandoned jobs on queue (every queue when empty).
func (s *QueueService) SweepExpired(ctx context.Context, queue string) ([]entity.Job, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	jobs, err := s.store.SweepExpired(sctx, queue, s.now())
	if err != nil {
		return nil, storeErr(err)
	}

	rung := map[string]bool{}
	for _, j := range jobs {
		if j.Status == entity.StatusFailed {
			s.event(ctx, j.ID, entity.LevelError, "Lease expired; attempt budget exhausted", map[string]any{
				"attempt": j.AttemptCount,
				"error":   j.Error,
			})
			continue
		}
		s.event(ctx, j.ID, entity.LevelWarn, "Lease expired; job requeued", map[string]any{
			"attempt": j.AttemptCount,
		})
		if !rung[j.QueueName] {
			rung[j.QueueName] = true
			s.ring(ctx, j.QueueName)
		}
	}
	return jobs, nil
}

func (s *QueueService) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	job, err := s.store.Get(sctx, id)
	return job, storeErr(err)
}

func (s *QueueService) ListJobs(ctx context.Context, f ListFilter) ([]entity.Job, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, entity.InvalidPayload("unknown status %q", f.Status)
	}
	f.Limit = f.EffectiveLimit()

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	jobs, err := s.store.List(sctx, f)
	return jobs, storeErr(err)
}

func (s *QueueService) ListEvents(ctx context.Context, id uuid.UUID, after time.Time, limit int) ([]entity.JobEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if _, err := s.store.Get(sctx, id); err != nil {
		return nil, storeErr(err)
	}
	events, err := s.store.ListEvents(sctx, id, after, limit)
	return events, storeErr(err)
}

// event appends a lifecycle record. Failures are logged, never returned:
// the state change already committed.
func (s *QueueService) event(ctx context.Context, id uuid.UUID, level entity.EventLevel, msg string, payload map[string]any) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err == nil {
			raw = b
		}
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	err := s.store.AppendEvent(sctx, entity.JobEvent{
		ID:        uuid.New(),
		JobID:     id,
		Level:     level,
		Message:   msg,
		Payload:   raw,
		CreatedAt: s.now(),
	})
	if err != nil {
		log.Printf("[queue] job_id=%s append_event=%q error=%v", id, msg, err)
	}
}

func (s *QueueService) ring(ctx context.Context, queue string) {
	if err := s.doorbell.Ring(ctx, queue); err != nil {
		log.Printf("[queue] queue=%s doorbell_error=%v", queue, err)
	}
}
