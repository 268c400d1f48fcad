package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusRetrying  JobStatus = "retrying"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

var AllStatuses = []JobStatus{
	StatusPending, StatusRunning, StatusRetrying, StatusSucceeded, StatusFailed, StatusCancelled,
}

func (s JobStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Failure reasons stored in JobError.Reason.
const (
	ReasonWorkerFailure   = "worker_failure"
	ReasonLeaseExpired    = "lease_expired"
	ReasonBudgetExhausted = "attempt_budget_exhausted"
)

// JobError is the structured failure detail kept on a job.
type JobError struct {
	Reason    string          `json:"reason"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
	Attempt   int             `json:"attempt"`
	Details   json.RawMessage `json:"details,omitempty"`
}

type Job struct {
	ID             uuid.UUID       `json:"id"`
	Type           string          `json:"type"`
	QueueName      string          `json:"queue_name"`
	Status         JobStatus       `json:"status"`
	Priority       int             `json:"priority"`
	Payload        json.RawMessage `json:"payload"`
	TargetRuntime  Runtime         `json:"target_runtime,omitempty"`
	AttemptCount   int             `json:"attempt_count"`
	MaxAttempts    int             `json:"max_attempts"`
	ClaimedBy      *string         `json:"claimed_by,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	NextAttemptAt  *time.Time      `json:"next_attempt_at,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *JobError       `json:"error,omitempty"`
	CancelReason   *string         `json:"cancel_reason,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewJob returns a pending job that has never been claimed.
func NewJob(id uuid.UUID, typ, queue string, priority, maxAttempts int, payload json.RawMessage, target Runtime, now time.Time) *Job {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return &Job{
		ID:            id,
		Type:          typ,
		QueueName:     queue,
		Status:        StatusPending,
		Priority:      priority,
		Payload:       payload,
		TargetRuntime: target,
		MaxAttempts:   maxAttempts,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// BudgetLeft reports whether another claim attempt is allowed.
func (j *Job) BudgetLeft() bool {
	return j.AttemptCount < j.MaxAttempts
}

// OwnedBy reports whether workerID holds the current claim.
func (j *Job) OwnedBy(workerID string) bool {
	return j.Status == StatusRunning && j.ClaimedBy != nil && *j.ClaimedBy == workerID
}

// Eligible reports whether a claim may pick the job at now.
func (j *Job) Eligible(now time.Time) bool {
	if !j.BudgetLeft() {
		return false
	}
	switch j.Status {
	case StatusPending:
		return true
	case StatusRetrying:
		return j.NextAttemptAt == nil || !j.NextAttemptAt.After(now)
	default:
		return false
	}
}

// Err returns the terminal failure as an error, or nil.
func (j *Job) Err() error {
	if j.Status != StatusFailed || j.Error == nil {
		return nil
	}
	if j.Error.Reason == ReasonBudgetExhausted {
		return &FailureError{Sentinel: ErrAttemptBudgetExhausted, Detail: *j.Error}
	}
	return &FailureError{Detail: *j.Error}
}

func (j *Job) Clone() *Job {
	c := *j
	c.Payload = cloneRaw(j.Payload)
	c.Result = cloneRaw(j.Result)
	if j.ClaimedBy != nil {
		v := *j.ClaimedBy
		c.ClaimedBy = &v
	}
	c.LeaseExpiresAt = cloneTime(j.LeaseExpiresAt)
	c.NextAttemptAt = cloneTime(j.NextAttemptAt)
	c.StartedAt = cloneTime(j.StartedAt)
	c.FinishedAt = cloneTime(j.FinishedAt)
	if j.Error != nil {
		e := *j.Error
		e.Details = cloneRaw(j.Error.Details)
		c.Error = &e
	}
	if j.CancelReason != nil {
		v := *j.CancelReason
		c.CancelReason = &v
	}
	return &c
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
