package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-queue/internal/entity"
	"agent-queue/internal/lease"
	"agent-queue/internal/service"
)

// Store is a mutex-protected in-process job index. Claim exclusivity comes
// from holding the mutex across select and mark.
type Store struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*entity.Job
	events map[uuid.UUID][]entity.JobEvent
}

func New() *Store {
	return &Store{
		jobs:   map[uuid.UUID]*entity.Job{},
		events: map[uuid.UUID][]entity.JobEvent{},
	}
}

func alive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return entity.Unavailable(err)
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, job *entity.Job) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return entity.ErrDuplicateJob
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *Store) ClaimNext(ctx context.Context, req service.ClaimRequest) (*entity.Job, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *entity.Job
	for _, j := range s.jobs {
		if j.QueueName != req.Queue || !j.Eligible(req.Now) || !req.Accepts(j) {
			continue
		}
		if best == nil || before(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	next := best.Clone()
	if err := next.Claim(req.WorkerID, req.Now.Add(req.LeaseDuration), req.Now); err != nil {
		return nil, err
	}
	s.jobs[next.ID] = next
	return next.Clone(), nil
}

// before orders claim candidates: priority desc, created_at asc, id asc.
func before(a, b *entity.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// mutate applies fn to a copy of the job and stores it only on success.
func (s *Store) mutate(ctx context.Context, id uuid.UUID, fn func(j *entity.Job) error) (*entity.Job, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.jobs[id] = next
	return next.Clone(), nil
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
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var moved []entity.Job
	for id, j := range s.jobs {
		if queue != "" && j.QueueName != queue {
			continue
		}
		if !lease.IsExpired(j, now) {
			continue
		}
		next := j.Clone()
		if err := next.ExpireLease(now); err != nil {
			continue
		}
		s.jobs[id] = next
		moved = append(moved, *next.Clone())
	}
	sort.Slice(moved, func(a, b int) bool { return before(&moved[a], &moved[b]) })
	return moved, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *Store) List(ctx context.Context, f service.ListFilter) ([]entity.Job, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entity.Job, 0)
	for _, j := range s.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Type != "" && j.Type != f.Type {
			continue
		}
		if f.Queue != "" && j.QueueName != f.Queue {
			continue
		}
		out = append(out, *j.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID.String() > out[b].ID.String()
	})
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev entity.JobEvent) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[ev.JobID]; !ok {
		return entity.ErrNotFound
	}
	s.events[ev.JobID] = append(s.events[ev.JobID], ev)
	return nil
}

func (s *Store) ListEvents(ctx context.Context, jobID uuid.UUID, after time.Time, limit int) ([]entity.JobEvent, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entity.JobEvent, 0)
	for _, ev := range s.events[jobID] {
		if !after.IsZero() && !ev.CreatedAt.After(after) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
