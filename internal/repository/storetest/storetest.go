// Package storetest holds the behaviour every service.JobStore must show.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"agent-queue/internal/entity"
	"agent-queue/internal/service"
)

// Factory returns a store for one subtest. Stores may be shared between
// subtests: every subtest works on its own queue.
type Factory func(t *testing.T) service.JobStore

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s service.JobStore, queue string)
	}{
		{"EnqueueAndGet", testEnqueueAndGet},
		{"ClaimOrder", testClaimOrder},
		{"ClaimEmptyQueue", testClaimEmptyQueue},
		{"ConcurrentClaimsAreExclusive", testConcurrentClaims},
		{"CapabilityFilter", testCapabilityFilter},
		{"JobTypeFilter", testJobTypeFilter},
		{"CompleteRoundTrip", testCompleteRoundTrip},
		{"HeartbeatOwnership", testHeartbeatOwnership},
		{"FailRetryableWaitsForDelay", testFailRetryable},
		{"FailFatal", testFailFatal},
		{"SweepRequeuesThenFails", testSweepRequeuesThenFails},
		{"FailAfterReclaimIsStale", testFailAfterReclaim},
		{"SweepIsIdempotent", testSweepIdempotent},
		{"CancelOnlyBeforeClaim", testCancel},
		{"ListAndEvents", testListAndEvents},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			tc.fn(t, s, "q-"+uuid.NewString()[:8])
		})
	}
}

func newJob(queue string, offset time.Duration, maxAttempts int) *entity.Job {
	return entity.NewJob(uuid.New(), "task", queue, 0, maxAttempts, json.RawMessage(`{"task":{"goal":"fix bug"}}`), "", base.Add(offset))
}

func mustEnqueue(t *testing.T, s service.JobStore, j *entity.Job) {
	t.Helper()
	if err := s.Enqueue(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func claim(t *testing.T, s service.JobStore, queue, worker string, now time.Time) *entity.Job {
	t.Helper()
	j, err := s.ClaimNext(context.Background(), service.ClaimRequest{
		Queue:         queue,
		WorkerID:      worker,
		LeaseDuration: time.Minute,
		Now:           now,
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return j
}

func testEnqueueAndGet(t *testing.T, s service.JobStore, queue string) {
	ctx := context.Background()
	j := newJob(queue, 0, 3)
	j.Priority = 2
	j.TargetRuntime = entity.RuntimeCodex
	mustEnqueue(t, s, j)

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != entity.StatusPending || got.AttemptCount != 0 || got.MaxAttempts != 3 {
		t.Fatalf("unexpected stored job: %#v", got)
	}
	if got.QueueName != queue || got.Type != "task" || got.Priority != 2 || got.TargetRuntime != entity.RuntimeCodex {
		t.Fatalf("fields not persisted: %#v", got)
	}
	if got.ClaimedBy != nil || got.LeaseExpiresAt != nil {
		t.Fatalf("pending job must not carry a lease")
	}

	if err := s.Enqueue(ctx, j); !errors.Is(err, entity.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
	if _, err := s.Get(ctx, uuid.New()); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testClaimOrder(t *testing.T, s service.JobStore, queue string) {
	old := newJob(queue, 0, 3)
	newer := newJob(queue, time.Second, 3)
	urgent := newJob(queue, 2*time.Second, 3)
	urgent.Priority = 5
	mustEnqueue(t, s, newer)
	mustEnqueue(t, s, old)
	mustEnqueue(t, s, urgent)

	now := base.Add(time.Minute)
	want := []uuid.UUID{urgent.ID, old.ID, newer.ID}
	for i, id := range want {
		got := claim(t, s, queue, "w", now)
		if got == nil || got.ID != id {
			t.Fatalf("claim %d: expected %s, got %#v", i, id, got)
		}
		if got.Status != entity.StatusRunning || got.AttemptCount != 1 || got.ClaimedBy == nil || *got.ClaimedBy != "w" {
			t.Fatalf("claim %d: unexpected claimed job %#v", i, got)
		}
		if got.LeaseExpiresAt == nil || !got.LeaseExpiresAt.Equal(now.Add(time.Minute)) {
			t.Fatalf("claim %d: unexpected lease %v", i, got.LeaseExpiresAt)
		}
	}
}

func testClaimEmptyQueue(t *testing.T, s service.JobStore, queue string) {
	mustEnqueue(t, s, newJob("other-"+queue, 0, 3))
	if got := claim(t, s, queue, "w", base.Add(time.Minute)); got != nil {
		t.Fatalf("expected nil claim on empty queue, got %#v", got)
	}
}

func testConcurrentClaims(t *testing.T, s service.JobStore, queue string) {
	const jobs, claimers = 5, 20
	for i := 0; i < jobs; i++ {
		mustEnqueue(t, s, newJob(queue, time.Duration(i)*time.Millisecond, 3))
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		claimed = map[uuid.UUID]string{}
		dupes   []uuid.UUID
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			worker := "w-" + uuid.NewString()[:6]
			j, err := s.ClaimNext(context.Background(), service.ClaimRequest{
				Queue:         queue,
				WorkerID:      worker,
				LeaseDuration: time.Minute,
				Now:           base.Add(time.Minute),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if j == nil {
				return
			}
			if _, ok := claimed[j.ID]; ok {
				dupes = append(dupes, j.ID)
			}
			claimed[j.ID] = worker
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("claim errors: %v", errs)
	}
	if len(dupes) > 0 {
		t.Fatalf("jobs claimed twice: %v", dupes)
	}
	if len(claimed) != jobs {
		t.Fatalf("expected %d claimed jobs, got %d", jobs, len(claimed))
	}
	for id, worker := range claimed {
		got, err := s.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.ClaimedBy == nil || *got.ClaimedBy != worker {
			t.Fatalf("job %s owned by %v, claimer was %s", id, got.ClaimedBy, worker)
		}
	}
}

func testCapabilityFilter(t *testing.T, s service.JobStore, queue string) {
	gem := newJob(queue, 0, 3)
	gem.TargetRuntime = entity.RuntimeGemini
	mustEnqueue(t, s, gem)

	req := service.ClaimRequest{
		Queue:         queue,
		WorkerID:      "codex-1",
		Runtimes:      []entity.Runtime{entity.RuntimeCodex},
		LeaseDuration: time.Minute,
		Now:           base.Add(time.Minute),
	}
	got, err := s.ClaimNext(context.Background(), req)
	if err != nil || got != nil {
		t.Fatalf("codex worker must not receive gemini job, got %#v err=%v", got, err)
	}

	neutral := newJob(queue, time.Second, 3)
	mustEnqueue(t, s, neutral)
	got, err = s.ClaimNext(context.Background(), req)
	if err != nil || got == nil || got.ID != neutral.ID {
		t.Fatalf("codex worker should get the runtime-neutral job, got %#v err=%v", got, err)
	}

	req.WorkerID = "gemini-1"
	req.Runtimes = []entity.Runtime{entity.RuntimeGemini}
	got, err = s.ClaimNext(context.Background(), req)
	if err != nil || got == nil || got.ID != gem.ID {
		t.Fatalf("gemini worker should get the gemini job, got %#v err=%v", got, err)
	}
}

func testJobTypeFilter(t *testing.T, s service.JobStore, queue string) {
	embed := newJob(queue, 0, 3)
	embed.Type = "embedding"
	mustEnqueue(t, s, embed)

	got, err := s.ClaimNext(context.Background(), service.ClaimRequest{
		Queue:         queue,
		WorkerID:      "w",
		JobTypes:      []string{"task"},
		LeaseDuration: time.Minute,
		Now:           base.Add(time.Minute),
	})
	if err != nil || got != nil {
		t.Fatalf("task-only worker must not receive embedding job, got %#v err=%v", got, err)
	}
}

func testCompleteRoundTrip(t *testing.T, s service.JobStore, queue string) {
	ctx := context.Background()
	j := newJob(queue, 0, 3)
	mustEnqueue(t, s, j)
	now := base.Add(time.Minute)
	claim(t, s, queue, "w1", now)

	if _, err := s.Complete(ctx, j.ID, "w2", nil, now); !errors.Is(err, entity.ErrOwnershipLost) {
		t.Fatalf("expected ErrOwnershipLost for foreign worker, got %v", err)
	}
	done, err := s.Complete(ctx, j.ID, "w1", json.RawMessage(`{"artifact":"patch.diff"}`), now.Add(time.Second))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != entity.StatusSucceeded || done.ClaimedBy != nil || done.LeaseExpiresAt != nil {
		t.Fatalf("unexpected completed job: %#v", done)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var res map[string]string
	if err := json.Unmarshal(got.Result, &res); err != nil || res["artifact"] != "patch.diff" {
		t.Fatalf("result not persisted: %s (%v)", got.Result, err)
	}
	if got.Status != entity.StatusSucceeded || got.ClaimedBy != nil || got.FinishedAt == nil {
		t.Fatalf("completion not persisted: %#v", got)
	}

	if _, err := s.Complete(ctx, j.ID, "w1", nil, now); !errors.Is(err, entity.ErrOwnershipLost) {
		t.Fatalf("second completion must report ownership lost, got %v", err)
	}
}

func testHeartbeatOwnership(t *testing.T, s service.JobStore, queue string) {
	ctx := context.Background()
	j := newJob(queue, 0, 3)
	mustEnqueue(t, s, j)
	now := base.Add(time.Minute)
	claim(t, s, queue, "w1", now)

	ok, err := s.Heartbeat(ctx, j.ID, "w1", now.Add(2*time.Minute), now.Add(30*time.Second))
	if err != nil || !ok {
		t.Fatalf("owner heartbeat must succeed, got %v %v", ok, err)
	}
	got, _ := s.Get(ctx, j.ID)
	if got.LeaseExpiresAt == nil || !got.LeaseExpiresAt.Equal(now.Add(2*time.Minute)) {
		t.Fatalf("lease not extended: %v", got.LeaseExpiresAt)
	}

	ok, err = s.Heartbeat(ctx, j.ID, "w2", now.Add(5*time.Minute), now)
	if err != nil || ok {
		t.Fatalf("foreign heartbeat must be a no-op false, got %v %v", ok, err)
	}
	got, _ = s.Get(ctx, j.ID)
	if !got.LeaseExpiresAt.Equal(now.Add(2 * time.Minute)) {
		t.Fatalf("foreign heartbeat changed the lease: %v", got.LeaseExpiresAt)
	}
}

func testFailRetryable(t *testing.T, s service.JobStore, queue string) {
	ctx := context.Background()
	j := newJob(queue, 0, 3)
	mustEnqueue(t, s, j)
	now := base.Add(time.Minute)
	claim(t, s, queue, "w1", now)

	failed, err := s.Fail(ctx, j.ID, "w1", service.FailRequest{
		Error:      entity.JobError{Message: "tests failed"},
		Retryable:  true,
		RetryDelay: func(attempt int) time.Duration { return time.Duration(attempt) * 10 * time.Second },
		Now:        now,
	})
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Status != entity.StatusRetrying || failed.ClaimedBy != nil || failed.LeaseExpiresAt != nil {
		t.Fatalf("unexpected retrying job: %#v", failed)
	}
	if failed.Error == nil || failed.Error.Message != "tests failed" || failed.Error.Attempt != 1 {
		t.Fatalf("unexpected error detail: %#v", failed.Error)
	}

	if got := claim(t, s, queue, "w2", now.Add(5*time.Second)); got != nil {
		t.Fatalf("retrying job claimed before its delay elapsed")
	}
	got := claim(t, s, queue, "w2", now.Add(10*time.Second))
	if got == nil || got.ID != j.ID || got.AttemptCount != 2 {
		t.Fatalf("expected second attempt after delay, got %#v", got)
	}

	if _, err := s.Fail(ctx, j.ID, "w1", service.FailRequest{Now: now}); !errors.Is(err, entity.ErrOwnershipLost) {
		t.Fatalf("stale worker fail must report ownership lost, got %v", err)
	}
}

func testFailFatal(t *testing.T, s service.JobStore, queue string) {
	ctx := context.Background()
	j := newJob(queue, 0, 3)
	mustEnqueue(t, s, j)
	now := base.Add(time.Minute)
	claim(t, s, queue, "w1", now)

	failed, err := s.Fail(ctx, j.ID, "w1", service.FailRequest{
		Error: entity.JobError{Message: "bad repo", Details: json.RawMessage(`{"exit_code":128}`)},
		Now:   now,
	})
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := s.Get(ctx, failed.ID)
	if got.Status != entity.StatusFailed || got.Error == nil || got.Error.Reason != entity.ReasonWorkerFailure {
		t.Fatalf("unexpected failed job: %#v", got)
	}
	var details map[string]int
	if err := json.Unmarshal(got.Error.Details, &details); err != nil || details["exit_code"] != 128 {
		t.Fatalf("error details not persisted: %s", got.Error.Details)
	}
}

func testSweepRequeuesThenFails(t *testing.T, s service.JobStore, queue string) {
	ctx := context.Background()
	j := newJob(queue, 0, 2)
	mustEnqueue(t, s, j)

	now := base.Add(time.Minute)
	claim(t, s, queue, "w1", now) // lease ends at now+60s

	moved, err := s.SweepExpired(ctx, queue, now.Add(59*time.Second))
	if err != nil || len(moved) != 0 {
		t.Fatalf("live lease must not be swept, got %v %v", moved, err)
	}

	moved, err = s.SweepExpired(ctx, queue, now.Add(61*time.Second))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(moved) != 1 || moved[0].ID != j.ID || moved[0].Status != entity.StatusPending || moved[0].AttemptCount != 1 {
		t.Fatalf("expected job requeued to pending, got %#v", moved)
	}
	if moved[0].ClaimedBy != nil || moved[0].LeaseExpiresAt != nil {
		t.Fatalf("requeued job must not carry a lease")
	}

	if ok, _ := s.Heartbeat(ctx, j.ID, "w1", now.Add(3*time.Minute), now.Add(62*time.Second)); ok {
		t.Fatalf("stale worker heartbeat must return false")
	}

	second := claim(t, s, queue, "w2", now.Add(62*time.Second))
	if second == nil || second.ID != j.ID || second.AttemptCount != 2 {
		t.Fatalf("expected W2 to claim the requeued job, got %#v", second)
	}
	if _, err := s.Complete(ctx, j.ID, "w1", nil, now.Add(63*time.Second)); !errors.Is(err, entity.ErrOwnershipLost) {
		t.Fatalf("stale worker complete must report ownership lost, got %v", err)
	}

	moved, err = s.SweepExpired(ctx, queue, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(moved) != 1 || moved[0].Status != entity.StatusFailed {
		t.Fatalf("expected budget-exhausted failure, got %#v", moved)
	}
	got, _ := s.Get(ctx, j.ID)
	if got.Status != entity.StatusFailed || got.Error == nil || got.Error.Reason != entity.ReasonBudgetExhausted {
		t.Fatalf("expected structured budget error, got %#v", got.Error)
	}
	if got := claim(t, s, queue, "w3", now.Add(6*time.Minute)); got != nil {
		t.Fatalf("failed job must never be claimed again")
	}
}

func testFailAfterReclaim(t *testing.T, s service.JobStore, queue string) {
	ctx := context.Background()
	j := newJob(queue, 0, 3)
	mustEnqueue(t, s, j)

	now := base.Add(time.Minute)
	claim(t, s, queue, "w1", now)
	if _, err := s.SweepExpired(ctx, queue, now.Add(61*time.Second)); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if second := claim(t, s, queue, "w2", now.Add(62*time.Second)); second == nil || second.ID != j.ID {
		t.Fatalf("expected w2 to claim the requeued job, got %#v", second)
	}
	before, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	_, err = s.Fail(ctx, j.ID, "w1", service.FailRequest{
		Error:      entity.JobError{Message: "late failure"},
		Retryable:  false,
		RetryDelay: func(int) time.Duration { return time.Minute },
		Now:        now.Add(63 * time.Second),
	})
	if !errors.Is(err, entity.ErrOwnershipLost) {
		t.Fatalf("stale worker fail must report ownership lost, got %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != entity.StatusRunning || got.ClaimedBy == nil || *got.ClaimedBy != "w2" {
		t.Fatalf("new owner's claim must survive, got %#v", got)
	}
	if got.AttemptCount != before.AttemptCount || got.AttemptCount != 2 {
		t.Fatalf("stale fail changed the attempt count: %d", got.AttemptCount)
	}
	if before.Error == nil || got.Error == nil || got.Error.Message != before.Error.Message || got.Error.Reason != entity.ReasonLeaseExpired {
		t.Fatalf("stale fail overwrote the recorded error: %#v", got.Error)
	}
}

func testSweepIdempotent(t *testing.T, s service.JobStore, queue string) {
	ctx := context.Background()
	mustEnqueue(t, s, newJob(queue, 0, 3))
	now := base.Add(time.Minute)
	claim(t, s, queue, "w1", now)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			moved, err := s.SweepExpired(ctx, queue, now.Add(2*time.Minute))
			if err != nil {
				t.Errorf("sweep: %v", err)
				return
			}
			mu.Lock()
			total += len(moved)
			mu.Unlock()
		}()
	}
	wg.Wait()
	if total != 1 {
		t.Fatalf("expired job must be moved exactly once, moved %d times", total)
	}
}

func testCancel(t *testing.T, s service.JobStore, queue string) {
	ctx := context.Background()
	pending := newJob(queue, 0, 3)
	running := newJob(queue, time.Second, 3)
	mustEnqueue(t, s, pending)
	mustEnqueue(t, s, running)

	now := base.Add(time.Minute)
	cancelled, err := s.Cancel(ctx, pending.ID, "user request", now)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != entity.StatusCancelled || cancelled.CancelReason == nil || *cancelled.CancelReason != "user request" {
		t.Fatalf("unexpected cancelled job: %#v", cancelled)
	}

	got := claim(t, s, queue, "w1", now)
	if got == nil || got.ID != running.ID {
		t.Fatalf("cancelled job must not be claimed, got %#v", got)
	}
	if _, err := s.Cancel(ctx, running.ID, "", now); !errors.Is(err, entity.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for running job, got %v", err)
	}
	after, _ := s.Get(ctx, running.ID)
	if after.Status != entity.StatusRunning {
		t.Fatalf("rejected cancel changed status to %s", after.Status)
	}
	if _, err := s.Cancel(ctx, uuid.New(), "", now); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testListAndEvents(t *testing.T, s service.JobStore, queue string) {
	ctx := context.Background()
	first := newJob(queue, 0, 3)
	second := newJob(queue, time.Second, 3)
	mustEnqueue(t, s, first)
	mustEnqueue(t, s, second)
	claim(t, s, queue, "w1", base.Add(time.Minute))

	jobs, err := s.List(ctx, service.ListFilter{Queue: queue})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != second.ID {
		t.Fatalf("expected newest first, got %#v", jobs)
	}

	running, err := s.List(ctx, service.ListFilter{Queue: queue, Status: entity.StatusRunning})
	if err != nil || len(running) != 1 || running[0].ID != first.ID {
		t.Fatalf("status filter failed: %#v %v", running, err)
	}

	for i, msg := range []string{"Job queued", "Job claimed"} {
		err := s.AppendEvent(ctx, entity.JobEvent{
			ID:        uuid.New(),
			JobID:     first.ID,
			Level:     entity.LevelInfo,
			Message:   msg,
			Payload:   json.RawMessage(`{"n":1}`),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	events, err := s.ListEvents(ctx, first.ID, time.Time{}, 10)
	if err != nil || len(events) != 2 || events[0].Message != "Job queued" {
		t.Fatalf("unexpected events: %#v %v", events, err)
	}
	events, err = s.ListEvents(ctx, first.ID, base, 10)
	if err != nil || len(events) != 1 || events[0].Message != "Job claimed" {
		t.Fatalf("after cursor not applied: %#v %v", events, err)
	}
}
