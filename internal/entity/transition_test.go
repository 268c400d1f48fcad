package entity_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"agent-queue/internal/entity"
)

func TestNext_AllPairs(t *testing.T) {
	type key struct {
		from   entity.JobStatus
		ev     entity.Event
		budget bool
	}
	allowed := map[key]entity.JobStatus{
		{entity.StatusPending, entity.EventClaim, true}:          entity.StatusRunning,
		{entity.StatusRetrying, entity.EventClaim, true}:         entity.StatusRunning,
		{entity.StatusRunning, entity.EventComplete, true}:       entity.StatusSucceeded,
		{entity.StatusRunning, entity.EventComplete, false}:      entity.StatusSucceeded,
		{entity.StatusRunning, entity.EventFailRetryable, true}:  entity.StatusRetrying,
		{entity.StatusRunning, entity.EventFailRetryable, false}: entity.StatusFailed,
		{entity.StatusRunning, entity.EventFailFatal, true}:      entity.StatusFailed,
		{entity.StatusRunning, entity.EventFailFatal, false}:     entity.StatusFailed,
		{entity.StatusRunning, entity.EventLeaseExpired, true}:   entity.StatusPending,
		{entity.StatusRunning, entity.EventLeaseExpired, false}:  entity.StatusFailed,
		{entity.StatusPending, entity.EventCancel, true}:         entity.StatusCancelled,
		{entity.StatusPending, entity.EventCancel, false}:        entity.StatusCancelled,
		{entity.StatusRetrying, entity.EventCancel, true}:        entity.StatusCancelled,
		{entity.StatusRetrying, entity.EventCancel, false}:       entity.StatusCancelled,
	}

	for _, from := range entity.AllStatuses {
		for _, ev := range entity.AllEvents {
			for _, budget := range []bool{true, false} {
				got, err := entity.Next(from, ev, budget)
				want, ok := allowed[key{from, ev, budget}]
				if ok {
					if err != nil || got != want {
						t.Fatalf("%s --%s(budget=%v)--> expected %s, got %s err=%v", from, ev, budget, want, got, err)
					}
					continue
				}
				if !errors.Is(err, entity.ErrInvalidTransition) {
					t.Fatalf("%s --%s(budget=%v)--> expected ErrInvalidTransition, got %v", from, ev, budget, err)
				}
				if got != from {
					t.Fatalf("%s --%s--> rejected edge must keep status, got %s", from, ev, got)
				}
			}
		}
	}
}

func TestJob_RejectedMutationLeavesJobUnchanged(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := entity.NewJob(uuid.New(), "task", "q", 0, 3, nil, "", now)
	if err := j.Claim("w1", now.Add(time.Minute), now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	before := j.Clone()

	if err := j.Cancel("nope", now); !errors.Is(err, entity.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := j.Claim("w2", now.Add(time.Minute), now); !errors.Is(err, entity.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if j.Status != before.Status || *j.ClaimedBy != *before.ClaimedBy || j.AttemptCount != before.AttemptCount {
		t.Fatalf("job changed after rejected transition: %#v", j)
	}
}

func TestJob_ClaimAndCompleteClearLease(t *testing.T) {
	now := time.Now().UTC()
	j := entity.NewJob(uuid.New(), "task", "q", 0, 3, nil, "", now)

	if err := j.Claim("w1", now.Add(time.Minute), now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if j.Status != entity.StatusRunning || j.ClaimedBy == nil || j.LeaseExpiresAt == nil || j.AttemptCount != 1 {
		t.Fatalf("unexpected claimed job: %#v", j)
	}

	if err := j.Complete("w2", nil, now); !errors.Is(err, entity.ErrOwnershipLost) {
		t.Fatalf("expected ErrOwnershipLost for foreign worker, got %v", err)
	}
	if err := j.Complete("w1", json.RawMessage(`{"pr":"1"}`), now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if j.Status != entity.StatusSucceeded || j.ClaimedBy != nil || j.LeaseExpiresAt != nil {
		t.Fatalf("lease fields must be cleared: %#v", j)
	}
	if string(j.Result) != `{"pr":"1"}` {
		t.Fatalf("unexpected result %s", j.Result)
	}
}

func TestJob_FailRetryableUntilBudgetExhausted(t *testing.T) {
	now := time.Now().UTC()
	j := entity.NewJob(uuid.New(), "task", "q", 0, 2, nil, "", now)

	_ = j.Claim("w1", now.Add(time.Minute), now)
	if err := j.Fail("w1", entity.JobError{Message: "boom"}, true, now.Add(time.Second), now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if j.Status != entity.StatusRetrying || j.NextAttemptAt == nil {
		t.Fatalf("expected retrying with next attempt, got %#v", j)
	}
	if j.Eligible(now) {
		t.Fatalf("retrying job must wait for next attempt")
	}
	if !j.Eligible(now.Add(time.Second)) {
		t.Fatalf("retrying job must be eligible once delay elapsed")
	}

	_ = j.Claim("w2", now.Add(time.Minute), now.Add(time.Second))
	if err := j.Fail("w2", entity.JobError{Message: "boom again"}, true, now, now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if j.Status != entity.StatusFailed {
		t.Fatalf("expected failed after budget, got %s", j.Status)
	}
	if j.Error == nil || j.Error.Reason != entity.ReasonBudgetExhausted || j.Error.Message != "boom again" {
		t.Fatalf("expected structured budget error, got %#v", j.Error)
	}
	if !errors.Is(j.Err(), entity.ErrAttemptBudgetExhausted) {
		t.Fatalf("expected Err() to match ErrAttemptBudgetExhausted, got %v", j.Err())
	}
}

func TestJob_ExpireLeaseKeepsLastFailure(t *testing.T) {
	now := time.Now().UTC()
	j := entity.NewJob(uuid.New(), "task", "q", 0, 1, nil, "", now)
	_ = j.Claim("w1", now.Add(time.Minute), now)

	if err := j.ExpireLease(now.Add(2 * time.Minute)); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if j.Status != entity.StatusFailed || j.Error.Reason != entity.ReasonBudgetExhausted {
		t.Fatalf("expected failed with exhausted budget, got %s %#v", j.Status, j.Error)
	}
	if j.ClaimedBy != nil || j.LeaseExpiresAt != nil {
		t.Fatalf("lease must be released")
	}
	if err := j.ExpireLease(now); !errors.Is(err, entity.ErrInvalidTransition) {
		t.Fatalf("second expiry must be rejected, got %v", err)
	}
}

func TestParseRuntime(t *testing.T) {
	if r, ok := entity.ParseRuntime(" Gemini "); !ok || r != entity.RuntimeGemini {
		t.Fatalf("expected gemini, got %q %v", r, ok)
	}
	if _, ok := entity.ParseRuntime("cobol"); ok {
		t.Fatalf("expected unsupported runtime to fail")
	}
	if r, ok := entity.ParseRuntime(""); !ok || r != "" {
		t.Fatalf("empty runtime means any")
	}
}
