package lease

import (
	"context"
	"log"
	"time"

	"agent-queue/internal/entity"
)

// Reclaimer moves expired running jobs on queue back to pending or failed.
// An empty queue means every queue.
type Reclaimer interface {
	SweepExpired(ctx context.Context, queue string) ([]entity.Job, error)
}

// Sweeper drives Reclaimer on a fixed interval. It holds no worker state, so
// any number of replicas may run it.
type Sweeper struct {
	reclaimer Reclaimer
	queues    []string
	interval  time.Duration
}

func NewSweeper(r Reclaimer, interval time.Duration, queues ...string) *Sweeper {
	if interval <= 0 {
		interval = DefaultPolicy().SweepInterval
	}
	if len(queues) == 0 {
		queues = []string{""}
	}
	return &Sweeper{reclaimer: r, queues: queues, interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("[sweeper] started interval=%s queues=%v", s.interval, s.queues)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[sweeper] stopped")
			return
		case <-ticker.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one pass over every queue and returns how many jobs moved.
// A failing queue does not stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	var (
		moved    int
		firstErr error
	)
	for _, q := range s.queues {
		jobs, err := s.reclaimer.SweepExpired(ctx, q)
		if err != nil {
			log.Printf("[sweeper] queue=%q error=%v", q, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(jobs) == 0 {
			continue
		}
		requeued, failed := 0, 0
		for _, j := range jobs {
			if j.Status == entity.StatusFailed {
				failed++
			} else {
				requeued++
			}
		}
		moved += len(jobs)
		log.Printf("[sweeper] queue=%q requeued=%d failed=%d", q, requeued, failed)
	}
	return moved, firstErr
}
