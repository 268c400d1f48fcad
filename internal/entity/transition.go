package entity

import (
	"encoding/json"
	"time"
)

type Event string

const (
	EventClaim         Event = "claim"
	EventComplete      Event = "complete"
	EventFailRetryable Event = "fail_retryable"
	EventFailFatal     Event = "fail_fatal"
	EventLeaseExpired  Event = "lease_expired"
	EventCancel        Event = "cancel"
)

var AllEvents = []Event{
	EventClaim, EventComplete, EventFailRetryable, EventFailFatal, EventLeaseExpired, EventCancel,
}

type edge struct {
	from JobStatus
	ev   Event
}

// target holds the destination with budget left and with budget exhausted.
// An empty destination means the edge is closed in that case.
type target struct {
	budgetLeft JobStatus
	exhausted  JobStatus
}

var transitions = map[edge]target{
	{StatusPending, EventClaim}:         {budgetLeft: StatusRunning},
	{StatusRetrying, EventClaim}:        {budgetLeft: StatusRunning},
	{StatusRunning, EventComplete}:      {StatusSucceeded, StatusSucceeded},
	{StatusRunning, EventFailRetryable}: {StatusRetrying, StatusFailed},
	{StatusRunning, EventFailFatal}:     {StatusFailed, StatusFailed},
	{StatusRunning, EventLeaseExpired}:  {StatusPending, StatusFailed},
	{StatusPending, EventCancel}:        {StatusCancelled, StatusCancelled},
	{StatusRetrying, EventCancel}:       {StatusCancelled, StatusCancelled},
}

// Next returns the status reached by applying ev to from. Every status
// change in the module goes through this table.
func Next(from JobStatus, ev Event, budgetLeft bool) (JobStatus, error) {
	t, ok := transitions[edge{from, ev}]
	if !ok {
		return from, &TransitionError{From: from, Event: ev}
	}
	to := t.exhausted
	if budgetLeft {
		to = t.budgetLeft
	}
	if to == "" {
		return from, &TransitionError{From: from, Event: ev}
	}
	return to, nil
}

func (j *Job) release() {
	j.ClaimedBy = nil
	j.LeaseExpiresAt = nil
}

// Claim hands the job to workerID until leaseUntil and counts the attempt.
func (j *Job) Claim(workerID string, leaseUntil, now time.Time) error {
	next, err := Next(j.Status, EventClaim, j.BudgetLeft())
	if err != nil {
		return err
	}
	j.Status = next
	j.AttemptCount++
	w := workerID
	j.ClaimedBy = &w
	j.LeaseExpiresAt = &leaseUntil
	j.NextAttemptAt = nil
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.UpdatedAt = now
	return nil
}

// Heartbeat moves the lease deadline for the current owner.
func (j *Job) Heartbeat(workerID string, leaseUntil, now time.Time) error {
	if !j.OwnedBy(workerID) {
		return ErrOwnershipLost
	}
	j.LeaseExpiresAt = &leaseUntil
	j.UpdatedAt = now
	return nil
}

func (j *Job) Complete(workerID string, result json.RawMessage, now time.Time) error {
	if !j.OwnedBy(workerID) {
		return ErrOwnershipLost
	}
	next, err := Next(j.Status, EventComplete, j.BudgetLeft())
	if err != nil {
		return err
	}
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	j.Status = next
	j.Result = result
	j.Error = nil
	j.release()
	j.FinishedAt = &now
	j.UpdatedAt = now
	return nil
}

// Fail records failure for the owner. A retryable failure with budget left
// parks the job in retrying until nextAttemptAt.
func (j *Job) Fail(workerID string, failure JobError, retryable bool, nextAttemptAt, now time.Time) error {
	if !j.OwnedBy(workerID) {
		return ErrOwnershipLost
	}
	ev := EventFailFatal
	if retryable {
		ev = EventFailRetryable
	}
	next, err := Next(j.Status, ev, j.BudgetLeft())
	if err != nil {
		return err
	}

	failure.Retryable = retryable
	failure.Attempt = j.AttemptCount
	if failure.Reason == "" {
		failure.Reason = ReasonWorkerFailure
	}
	if retryable && next == StatusFailed {
		failure.Reason = ReasonBudgetExhausted
	}

	j.Status = next
	j.Error = &failure
	j.release()
	if next == StatusRetrying {
		j.NextAttemptAt = &nextAttemptAt
	} else {
		j.NextAttemptAt = nil
		j.FinishedAt = &now
	}
	j.UpdatedAt = now
	return nil
}

// ExpireLease reclaims an abandoned running job: back to pending while the
// budget lasts, failed afterwards.
func (j *Job) ExpireLease(now time.Time) error {
	next, err := Next(j.Status, EventLeaseExpired, j.BudgetLeft())
	if err != nil {
		return err
	}
	holder := ""
	if j.ClaimedBy != nil {
		holder = *j.ClaimedBy
	}

	detail := JobError{
		Reason:  ReasonLeaseExpired,
		Message: "lease expired while held by " + holder,
		Attempt: j.AttemptCount,
	}
	if next == StatusFailed {
		detail.Reason = ReasonBudgetExhausted
		detail.Message = "lease expired and max attempts reached before reclaim"
		if j.Error != nil {
			if prev, err := json.Marshal(j.Error); err == nil {
				detail.Details = prev
			}
		}
		j.FinishedAt = &now
	}

	j.Status = next
	j.Error = &detail
	j.release()
	j.NextAttemptAt = nil
	j.UpdatedAt = now
	return nil
}

// Cancel stops a job that no worker holds yet.
func (j *Job) Cancel(reason string, now time.Time) error {
	next, err := Next(j.Status, EventCancel, j.BudgetLeft())
	if err != nil {
		return err
	}
	j.Status = next
	if reason != "" {
		j.CancelReason = &reason
	}
	j.NextAttemptAt = nil
	j.FinishedAt = &now
	j.UpdatedAt = now
	return nil
}
