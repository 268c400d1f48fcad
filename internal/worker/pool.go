package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-queue/internal/entity"
	"agent-queue/internal/service"
)

// Waiter blocks until work may be available on one of queues or timeout
// passes. notify.RedisDoorbell and notify.LocalDoorbell implement it.
type Waiter interface {
	Wait(ctx context.Context, queues []string, timeout time.Duration) (bool, error)
}

type sleepWaiter struct{}

func (sleepWaiter) Wait(ctx context.Context, _ []string, timeout time.Duration) (bool, error) {
	select {
	case <-time.After(timeout):
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

type Config struct {
	Host         string
	Runtime      entity.Runtime
	Capabilities []entity.Runtime
	JobTypes     []string
	Queues       []string
	Slots        int
	// IdleWait bounds one doorbell wait when no job was claimable.
	IdleWait time.Duration
	// ErrorBackoff is the pause after a failed claim call.
	ErrorBackoff time.Duration
}

type Pool struct {
	queue     Queue
	processor *Processor
	waiter    Waiter
	cfg       Config
	// instance tells apart processes sharing a host and runtime.
	instance string
}

func NewPool(queue Queue, processor *Processor, waiter Waiter, cfg Config) *Pool {
	if cfg.Slots <= 0 {
		cfg.Slots = 4
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 2 * time.Second
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "worker"
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{service.DefaultQueue}
	}
	if waiter == nil {
		waiter = sleepWaiter{}
	}
	return &Pool{queue: queue, processor: processor, waiter: waiter, cfg: cfg, instance: uuid.NewString()[:8]}
}

// Contexts returns the identity of every slot, <host>-<runtime>-<instance>-<n>.
// No two slots share one, within a process or across processes.
func (p *Pool) Contexts() []service.WorkerContext {
	out := make([]service.WorkerContext, p.cfg.Slots)
	for i := range out {
		out[i] = service.WorkerContext{
			ID:           fmt.Sprintf("%s-%s-%s-%d", p.cfg.Host, p.cfg.Runtime, p.instance, i+1),
			Runtime:      p.cfg.Runtime,
			Capabilities: p.cfg.Capabilities,
			JobTypes:     p.cfg.JobTypes,
		}
	}
	return out
}

// Run blocks until ctx is cancelled and every slot has returned.
func (p *Pool) Run(ctx context.Context) {
	log.Printf("[worker] pool started: slots=%d runtime=%s queues=%s", p.cfg.Slots, p.cfg.Runtime, strings.Join(p.cfg.Queues, ","))

	var wg sync.WaitGroup
	for _, w := range p.Contexts() {
		wg.Add(1)
		go func(w service.WorkerContext) {
			defer wg.Done()
			p.slot(ctx, w)
		}(w)
	}
	wg.Wait()

	log.Println("[worker] pool stopped")
}

func (p *Pool) slot(ctx context.Context, w service.WorkerContext) {
	for ctx.Err() == nil {
		job, err := p.claimAny(ctx, w)
		if err != nil {
			log.Printf("[worker] worker_id=%s claim error=%v", w.ID, err)
			select {
			case <-time.After(p.cfg.ErrorBackoff):
			case <-ctx.Done():
			}
			continue
		}
		if job == nil {
			if _, err := p.waiter.Wait(ctx, p.cfg.Queues, p.cfg.IdleWait); err != nil && ctx.Err() == nil {
				log.Printf("[worker] worker_id=%s doorbell error=%v", w.ID, err)
				select {
				case <-time.After(p.cfg.ErrorBackoff):
				case <-ctx.Done():
				}
			}
			continue
		}
		if err := p.processor.Process(ctx, w, job); err != nil {
			log.Printf("[worker] worker_id=%s job_id=%s process error=%v", w.ID, job.ID, err)
		}
	}
}

// claimAny tries the bound queues in order and returns the first job.
func (p *Pool) claimAny(ctx context.Context, w service.WorkerContext) (*entity.Job, error) {
	var firstErr error
	for _, q := range p.cfg.Queues {
		job, err := p.queue.Claim(ctx, w, q)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, firstErr
}
