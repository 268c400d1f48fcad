package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"agent-queue/internal/entity"
	"agent-queue/internal/service"
)

// Queue is the part of the Queue Service a worker drives.
type Queue interface {
	Claim(ctx context.Context, w service.WorkerContext, queue string) (*entity.Job, error)
	Heartbeat(ctx context.Context, w service.WorkerContext, id uuid.UUID) (service.Outcome, error)
	Complete(ctx context.Context, w service.WorkerContext, id uuid.UUID, result json.RawMessage) (service.Outcome, error)
	Fail(ctx context.Context, w service.WorkerContext, id uuid.UUID, report service.FailReport) (service.Outcome, error)
}

// Executor runs one claimed job. Returning a Permanent error fails the job
// without a retry.
type Executor interface {
	Execute(ctx context.Context, job *entity.Job) (json.RawMessage, error)
}

type Processor struct {
	queue     Queue
	exec      Executor
	heartbeat time.Duration
	// reportTimeout bounds the final report when the worker is shutting down.
	reportTimeout time.Duration
}

func NewProcessor(queue Queue, exec Executor, heartbeat time.Duration) *Processor {
	if heartbeat <= 0 {
		heartbeat = 20 * time.Second
	}
	return &Processor{queue: queue, exec: exec, heartbeat: heartbeat, reportTimeout: 5 * time.Second}
}

// Process executes job for w while heartbeating its lease, then reports
// the outcome. A stale heartbeat cancels execution and the job is dropped
// without a report.
func (p *Processor) Process(ctx context.Context, w service.WorkerContext, job *entity.Job) error {
	start := time.Now()
	log.Printf("[worker] worker_id=%s job_id=%s type=%s attempt=%d/%d status=running",
		w.ID, job.ID, job.Type, job.AttemptCount, job.MaxAttempts,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stale atomic.Bool
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		p.heartbeatLoop(runCtx, w, job.ID, func() {
			stale.Store(true)
			cancel()
		})
	}()

	out, execErr := p.exec.Execute(runCtx, job)
	cancel()
	<-hbDone

	if stale.Load() {
		log.Printf("[worker] worker_id=%s job_id=%s status=abandoned reason=ownership_lost duration_ms=%d",
			w.ID, job.ID, time.Since(start).Milliseconds(),
		)
		return nil
	}

	// On shutdown the outcome is still reported: a finished job completes,
	// an interrupted one fails retryable.
	reportCtx := ctx
	if ctx.Err() != nil {
		var rcancel context.CancelFunc
		reportCtx, rcancel = context.WithTimeout(context.WithoutCancel(ctx), p.reportTimeout)
		defer rcancel()
		if execErr != nil && !IsPermanent(execErr) {
			execErr = fmt.Errorf("worker shutting down: %w", execErr)
		}
	}

	if execErr != nil {
		return p.reportFailure(reportCtx, w, job, execErr, time.Since(start))
	}

	outcome, err := p.queue.Complete(reportCtx, w, job.ID, out)
	if err != nil {
		log.Printf("[worker] worker_id=%s job_id=%s complete error=%v", w.ID, job.ID, err)
		return err
	}
	if outcome.Stale {
		log.Printf("[worker] worker_id=%s job_id=%s complete=stale", w.ID, job.ID)
		return nil
	}
	log.Printf("[worker] worker_id=%s job_id=%s type=%s status=succeeded duration_ms=%d",
		w.ID, job.ID, job.Type, time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *Processor) reportFailure(ctx context.Context, w service.WorkerContext, job *entity.Job, execErr error, took time.Duration) error {
	report := service.FailReport{
		Message:   execErr.Error(),
		Details:   errorDetails(execErr),
		Retryable: !IsPermanent(execErr),
	}
	outcome, err := p.queue.Fail(ctx, w, job.ID, report)
	if err != nil {
		log.Printf("[worker] worker_id=%s job_id=%s fail error=%v", w.ID, job.ID, err)
		return err
	}
	if outcome.Stale {
		log.Printf("[worker] worker_id=%s job_id=%s fail=stale", w.ID, job.ID)
		return nil
	}
	log.Printf("[worker] worker_id=%s job_id=%s type=%s status=%s retryable=%t duration_ms=%d error=%q",
		w.ID, job.ID, job.Type, outcome.Job.Status, report.Retryable, took.Milliseconds(), report.Message,
	)
	return nil
}

// heartbeatLoop extends the lease every interval until ctx ends. A failed
// call is retried on the next tick; the lease covers two missed beats.
func (p *Processor) heartbeatLoop(ctx context.Context, w service.WorkerContext, id uuid.UUID, onStale func()) {
	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcome, err := p.queue.Heartbeat(ctx, w, id)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("[worker] worker_id=%s job_id=%s heartbeat error=%v", w.ID, id, err)
				}
				continue
			}
			if outcome.Stale {
				log.Printf("[worker] worker_id=%s job_id=%s heartbeat=stale", w.ID, id)
				onStale()
				return
			}
		}
	}
}
