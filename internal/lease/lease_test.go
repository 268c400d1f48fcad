package lease_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"agent-queue/internal/entity"
	"agent-queue/internal/lease"
)

func TestPolicy_Validate(t *testing.T) {
	if err := lease.DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy must be valid, got %v", err)
	}

	cases := map[string]lease.Policy{
		"heartbeat not below lease": {LeaseDuration: 10 * time.Second, HeartbeatInterval: 10 * time.Second, SweepInterval: time.Second, MaxAttempts: 1},
		"lease within two beats":    {LeaseDuration: 20 * time.Second, HeartbeatInterval: 10 * time.Second, SweepInterval: time.Second, MaxAttempts: 1},
		"zero attempts":             {LeaseDuration: 30 * time.Second, HeartbeatInterval: 10 * time.Second, SweepInterval: time.Second},
		"no sweep interval":         {LeaseDuration: 30 * time.Second, HeartbeatInterval: 10 * time.Second, MaxAttempts: 1},
	}
	for name, p := range cases {
		if err := p.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now().UTC()
	j := entity.NewJob(uuid.New(), "task", "q", 0, 3, nil, "", now)
	if lease.IsExpired(j, now.Add(time.Hour)) {
		t.Fatalf("pending job has no lease")
	}

	_ = j.Claim("w1", now.Add(time.Minute), now)
	if lease.IsExpired(j, now.Add(time.Minute)) {
		t.Fatalf("lease ending exactly now is not expired yet")
	}
	if !lease.IsExpired(j, now.Add(time.Minute+time.Nanosecond)) {
		t.Fatalf("expected expired lease")
	}
}

func TestExponentialBackoff(t *testing.T) {
	p := lease.ExponentialBackoff{Base: 15 * time.Second, Max: time.Minute}
	want := []time.Duration{15 * time.Second, 30 * time.Second, time.Minute, time.Minute}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, w, got)
		}
	}
}

func TestExponentialBackoff_UncappedNeverOverflows(t *testing.T) {
	p := lease.ExponentialBackoff{Base: time.Second}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 200; attempt++ {
		got := p.Delay(attempt)
		if got <= 0 || got < prev {
			t.Fatalf("attempt %d: delay %s after %s", attempt, got, prev)
		}
		prev = got
	}
}

func TestNewRetryPolicy(t *testing.T) {
	p, err := lease.NewRetryPolicy(lease.RetryConfig{Kind: "fixed", Base: 5 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Delay(7) != 5*time.Second {
		t.Fatalf("fixed delay must ignore attempt")
	}
	if _, err := lease.NewRetryPolicy(lease.RetryConfig{Kind: "jitter"}); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
}

type fakeReclaimer struct {
	calls []string
	jobs  map[string][]entity.Job
	errs  map[string]error
}

func (f *fakeReclaimer) SweepExpired(ctx context.Context, queue string) ([]entity.Job, error) {
	f.calls = append(f.calls, queue)
	return f.jobs[queue], f.errs[queue]
}

func TestSweeper_SweepOnce_ContinuesPastFailingQueue(t *testing.T) {
	r := &fakeReclaimer{
		jobs: map[string][]entity.Job{
			"b": {{Status: entity.StatusPending}, {Status: entity.StatusFailed}},
		},
		errs: map[string]error{"a": entity.ErrStoreUnavailable},
	}
	s := lease.NewSweeper(r, time.Second, "a", "b")

	moved, err := s.SweepOnce(context.Background())
	if !errors.Is(err, entity.ErrStoreUnavailable) {
		t.Fatalf("expected first error surfaced, got %v", err)
	}
	if moved != 2 {
		t.Fatalf("expected 2 moved jobs, got %d", moved)
	}
	if len(r.calls) != 2 {
		t.Fatalf("expected both queues swept, got %v", r.calls)
	}
}

func TestSweeper_DefaultsToAllQueues(t *testing.T) {
	r := &fakeReclaimer{}
	s := lease.NewSweeper(r, 0)
	if _, err := s.SweepOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.calls) != 1 || r.calls[0] != "" {
		t.Fatalf("expected a single all-queues sweep, got %#v", r.calls)
	}
}
