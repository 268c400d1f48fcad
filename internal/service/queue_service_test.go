package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"agent-queue/internal/entity"
	"agent-queue/internal/lease"
	"agent-queue/internal/repository/memory"
	"agent-queue/internal/service"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDoorbell struct {
	mu    sync.Mutex
	rings []string
}

func (d *fakeDoorbell) Ring(ctx context.Context, queue string) error {
	d.mu.Lock()
	d.rings = append(d.rings, queue)
	d.mu.Unlock()
	return nil
}

func (d *fakeDoorbell) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rings)
}

type harness struct {
	svc   *service.QueueService
	store *memory.Store
	clock *fakeClock
	bell  *fakeDoorbell
}

func newHarness(t *testing.T, mod func(o *service.Options)) *harness {
	t.Helper()
	h := &harness{store: memory.New(), clock: newClock(), bell: &fakeDoorbell{}}
	opts := service.Options{
		Policy:   lease.DefaultPolicy(),
		Retry:    lease.FixedDelay{Wait: 30 * time.Second},
		Doorbell: h.bell,
		Now:      h.clock.Now,
	}
	if mod != nil {
		mod(&opts)
	}
	h.svc = service.NewQueueService(h.store, opts)
	return h
}

func taskPayload(extra string) json.RawMessage {
	return json.RawMessage(`{"repo":{"url":"MoonLadderStudios/MoonMind"},"task":{"goal":"fix the flaky test"` + extra + `}}`)
}

func (h *harness) submit(t *testing.T, req service.SubmitRequest) *entity.Job {
	t.Helper()
	if req.Type == "" {
		req.Type = "task"
	}
	if req.Payload == nil {
		req.Payload = taskPayload("")
	}
	job, err := h.svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return job
}

var (
	codexWorker  = service.WorkerContext{ID: "host-codex-1", Runtime: entity.RuntimeCodex, Capabilities: []entity.Runtime{entity.RuntimeCodex}}
	codexWorker2 = service.WorkerContext{ID: "host-codex-2", Runtime: entity.RuntimeCodex, Capabilities: []entity.Runtime{entity.RuntimeCodex}}
	geminiWorker = service.WorkerContext{ID: "host-gemini-1", Runtime: entity.RuntimeGemini, Capabilities: []entity.Runtime{entity.RuntimeGemini}}
)

func TestQueueService_SubmitQueuesPendingJob(t *testing.T) {
	h := newHarness(t, nil)
	job := h.submit(t, service.SubmitRequest{Priority: 3})

	if job.Status != entity.StatusPending || job.QueueName != service.DefaultQueue || job.Priority != 3 {
		t.Fatalf("unexpected job: %#v", job)
	}
	if job.MaxAttempts != lease.DefaultPolicy().MaxAttempts || job.AttemptCount != 0 {
		t.Fatalf("unexpected attempt budget: %d/%d", job.AttemptCount, job.MaxAttempts)
	}

	var p entity.TaskPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.JobID != job.ID.String() {
		t.Fatalf("payload job_id %q does not match job id %s", p.JobID, job.ID)
	}

	events, err := h.svc.ListEvents(context.Background(), job.ID, time.Time{}, 0)
	if err != nil || len(events) != 1 || events[0].Message != "Job queued" {
		t.Fatalf("unexpected events: %#v %v", events, err)
	}
	if h.bell.count() != 1 {
		t.Fatalf("expected one doorbell ring, got %d", h.bell.count())
	}
}

func TestQueueService_SubmitKeepsCallerJobID(t *testing.T) {
	h := newHarness(t, nil)
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	job := h.submit(t, service.SubmitRequest{Payload: json.RawMessage(
		`{"job_id":"` + id.String() + `","repo":{"url":"https://github.com/o/r"},"task":{"goal":"x"}}`,
	)})
	if job.ID != id {
		t.Fatalf("expected id %s, got %s", id, job.ID)
	}

	_, err := h.svc.Submit(context.Background(), service.SubmitRequest{Type: "task", Payload: job.Payload})
	if !errors.Is(err, entity.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for duplicate job_id, got %v", err)
	}
}

func TestQueueService_SubmitRejectsInvalidPayload(t *testing.T) {
	cases := []struct {
		name    string
		typ     string
		payload string
	}{
		{"missing goal", "task", `{"repo":{"url":"o/r"},"task":{}}`},
		{"not an object", "task", `["goal"]`},
		{"unknown runtime", "task", `{"repo":{"url":"o/r"},"task":{"goal":"x","target_runtime":"cobol"}}`},
		{"missing repo", "task", `{"task":{"goal":"x"}}`},
		{"credentials in repo url", "task", `{"repo":{"url":"https://user:pw@github.com/o/r"},"task":{"goal":"x"}}`},
		{"workdir escapes", "task", `{"repo":{"url":"o/r"},"workdir":"../etc","task":{"goal":"x"}}`},
		{"unknown type", "shell", `{"task":{"goal":"x"}}`},
		{"empty type", "", `{"task":{"goal":"x"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			_, err := h.svc.Submit(context.Background(), service.SubmitRequest{Type: tc.typ, Payload: json.RawMessage(tc.payload)})
			if !errors.Is(err, entity.ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
			jobs, err := h.svc.ListJobs(context.Background(), service.ListFilter{})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(jobs) != 0 {
				t.Fatalf("rejected submission created %d jobs", len(jobs))
			}
			if h.bell.count() != 0 {
				t.Fatalf("rejected submission rang the doorbell")
			}
		})
	}
}

func TestQueueService_LegacyTypeIsCanonicalized(t *testing.T) {
	h := newHarness(t, nil)
	job := h.submit(t, service.SubmitRequest{Type: "codex_exec"})
	if job.Type != service.JobTypeTask {
		t.Fatalf("expected canonical type task, got %q", job.Type)
	}

	events, err := h.svc.ListEvents(context.Background(), job.ID, time.Time{}, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var warned bool
	for _, ev := range events {
		if ev.Level == entity.LevelWarn && ev.Message == "Legacy job type submitted" {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected legacy warning event, got %#v", events)
	}
}

func TestQueueService_RuntimeRouting(t *testing.T) {
	h := newHarness(t, func(o *service.Options) {
		cfg := service.DefaultRoutingConfig()
		cfg.Runtimes = map[string]string{"gemini": "moonmind.jobs.gemini"}
		o.Router = service.NewRouter(cfg)
	})
	gem := h.submit(t, service.SubmitRequest{Payload: taskPayload(`,"target_runtime":"gemini"`)})
	plain := h.submit(t, service.SubmitRequest{})

	if gem.QueueName != "moonmind.jobs.gemini" || gem.TargetRuntime != entity.RuntimeGemini {
		t.Fatalf("gemini job routed to %q (%q)", gem.QueueName, gem.TargetRuntime)
	}
	if plain.QueueName != service.DefaultQueue {
		t.Fatalf("runtime-neutral job routed to %q", plain.QueueName)
	}
}

func TestQueueService_CapabilityMismatchIsNotClaimed(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	job := h.submit(t, service.SubmitRequest{Payload: taskPayload(`,"target_runtime":"gemini"`)})

	got, err := h.svc.Claim(ctx, codexWorker, job.QueueName)
	if err != nil || got != nil {
		t.Fatalf("codex worker must not claim gemini job, got %#v %v", got, err)
	}
	stored, _ := h.svc.GetJob(ctx, job.ID)
	if stored.Status != entity.StatusPending {
		t.Fatalf("job status changed to %s", stored.Status)
	}

	got, err = h.svc.Claim(ctx, geminiWorker, job.QueueName)
	if err != nil || got == nil || got.ID != job.ID {
		t.Fatalf("gemini worker should claim, got %#v %v", got, err)
	}
}

func TestQueueService_UniversalTargetIsClaimableByAnyRuntime(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	job := h.submit(t, service.SubmitRequest{Payload: taskPayload(`,"target_runtime":"universal"`)})

	if job.TargetRuntime != "" || job.QueueName != service.DefaultQueue {
		t.Fatalf("universal target must be runtime-neutral, got %q on %q", job.TargetRuntime, job.QueueName)
	}

	got, err := h.svc.Claim(ctx, codexWorker, job.QueueName)
	if err != nil || got == nil || got.ID != job.ID {
		t.Fatalf("codex worker should claim a universal job, got %#v %v", got, err)
	}
}

func TestQueueService_CrashedWorkerIsReclaimed(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	job := h.submit(t, service.SubmitRequest{})

	first, err := h.svc.Claim(ctx, codexWorker, job.QueueName)
	if err != nil || first == nil {
		t.Fatalf("claim: %#v %v", first, err)
	}

	h.clock.Advance(61 * time.Second)
	moved, err := h.svc.SweepExpired(ctx, "")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(moved) != 1 || moved[0].Status != entity.StatusPending || moved[0].AttemptCount != 1 {
		t.Fatalf("expected requeued job with attempt 1, got %#v", moved)
	}

	second, err := h.svc.Claim(ctx, codexWorker2, job.QueueName)
	if err != nil || second == nil || second.AttemptCount != 2 {
		t.Fatalf("expected second claim with attempt 2, got %#v %v", second, err)
	}

	out, err := h.svc.Complete(ctx, codexWorker, job.ID, json.RawMessage(`{"late":true}`))
	if err != nil || !out.Stale {
		t.Fatalf("stale completion must be reported as stale, got %#v %v", out, err)
	}
	hb, err := h.svc.Heartbeat(ctx, codexWorker, job.ID)
	if err != nil || !hb.Stale {
		t.Fatalf("stale heartbeat must be reported as stale, got %#v %v", hb, err)
	}
	fail, err := h.svc.Fail(ctx, codexWorker, job.ID, service.FailReport{Message: "late failure"})
	if err != nil || !fail.Stale {
		t.Fatalf("stale failure must be reported as stale, got %#v %v", fail, err)
	}

	done, err := h.svc.Complete(ctx, codexWorker2, job.ID, json.RawMessage(`{"pr":"#12"}`))
	if err != nil || done.Stale || done.Job.Status != entity.StatusSucceeded {
		t.Fatalf("owner completion failed: %#v %v", done, err)
	}
	stored, _ := h.svc.GetJob(ctx, job.ID)
	if string(stored.Result) != `{"pr":"#12"}` {
		t.Fatalf("stale worker overwrote the result: %s", stored.Result)
	}
}

func TestQueueService_HeartbeatExtendsLease(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	job := h.submit(t, service.SubmitRequest{})
	if _, err := h.svc.Claim(ctx, codexWorker, job.QueueName); err != nil {
		t.Fatalf("claim: %v", err)
	}

	for i := 0; i < 5; i++ {
		h.clock.Advance(20 * time.Second)
		out, err := h.svc.Heartbeat(ctx, codexWorker, job.ID)
		if err != nil || out.Stale {
			t.Fatalf("heartbeat %d: %#v %v", i, out, err)
		}
		moved, err := h.svc.SweepExpired(ctx, job.QueueName)
		if err != nil || len(moved) != 0 {
			t.Fatalf("heartbeating job was swept: %#v %v", moved, err)
		}
	}
}

func TestQueueService_RetryUntilBudgetExhausted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	job := h.submit(t, service.SubmitRequest{MaxAttempts: 2})

	if _, err := h.svc.Claim(ctx, codexWorker, job.QueueName); err != nil {
		t.Fatalf("claim: %v", err)
	}
	out, err := h.svc.Fail(ctx, codexWorker, job.ID, service.FailReport{Message: "exit 1", Retryable: true})
	if err != nil || out.Job.Status != entity.StatusRetrying {
		t.Fatalf("expected retrying, got %#v %v", out, err)
	}

	if got, _ := h.svc.Claim(ctx, codexWorker, job.QueueName); got != nil {
		t.Fatalf("job claimed before retry delay")
	}
	h.clock.Advance(30 * time.Second)
	if got, _ := h.svc.Claim(ctx, codexWorker, job.QueueName); got == nil || got.AttemptCount != 2 {
		t.Fatalf("expected second attempt, got %#v", got)
	}

	out, err = h.svc.Fail(ctx, codexWorker, job.ID, service.FailReport{Message: "exit 1", Retryable: true})
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if out.Job.Status != entity.StatusFailed || !errors.Is(out.Job.Err(), entity.ErrAttemptBudgetExhausted) {
		t.Fatalf("expected budget exhausted failure, got %#v", out.Job)
	}
}

func TestQueueService_Cancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pending := h.submit(t, service.SubmitRequest{})

	cancelled, err := h.svc.Cancel(ctx, pending.ID, "superseded")
	if err != nil || cancelled.Status != entity.StatusCancelled {
		t.Fatalf("cancel pending: %#v %v", cancelled, err)
	}

	running := h.submit(t, service.SubmitRequest{})
	if _, err := h.svc.Claim(ctx, codexWorker, running.QueueName); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := h.svc.Cancel(ctx, running.ID, ""); !errors.Is(err, entity.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := h.svc.Cancel(ctx, uuid.New(), ""); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueueService_PriorityOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	low := h.submit(t, service.SubmitRequest{Priority: 0})
	h.clock.Advance(time.Second)
	high := h.submit(t, service.SubmitRequest{Priority: 10})

	for _, want := range []uuid.UUID{high.ID, low.ID} {
		got, err := h.svc.Claim(ctx, codexWorker, service.DefaultQueue)
		if err != nil || got == nil || got.ID != want {
			t.Fatalf("expected %s, got %#v %v", want, got, err)
		}
	}
}

func TestQueueService_ClaimValidatesWorker(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.svc.Claim(context.Background(), service.WorkerContext{}, service.DefaultQueue); !errors.Is(err, entity.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for missing worker id, got %v", err)
	}
	if _, err := h.svc.ListJobs(context.Background(), service.ListFilter{Status: "sleeping"}); !errors.Is(err, entity.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for unknown status, got %v", err)
	}
}

type stuckStore struct {
	*memory.Store
}

func (stuckStore) ClaimNext(ctx context.Context, req service.ClaimRequest) (*entity.Job, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestQueueService_StoreTimeoutIsUnavailable(t *testing.T) {
	svc := service.NewQueueService(stuckStore{memory.New()}, service.Options{StoreTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := svc.Claim(context.Background(), codexWorker, service.DefaultQueue)
	if !errors.Is(err, entity.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("claim did not respect the store timeout")
	}
}
