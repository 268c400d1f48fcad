package lease

import (
	"errors"
	"fmt"
	"time"

	"agent-queue/internal/entity"
)

// Policy is the lease contract between workers and the sweeper.
// LeaseDuration must exceed 2*HeartbeatInterval.
type Policy struct {
	LeaseDuration     time.Duration `yaml:"lease_duration"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

func DefaultPolicy() Policy {
	return Policy{
		LeaseDuration:     60 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		SweepInterval:     15 * time.Second,
		MaxAttempts:       3,
	}
}

func (p Policy) Validate() error {
	var errs []error
	if p.LeaseDuration <= 0 {
		errs = append(errs, errors.New("lease_duration must be positive"))
	}
	if p.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat_interval must be positive"))
	}
	if p.HeartbeatInterval >= p.LeaseDuration {
		errs = append(errs, fmt.Errorf("heartbeat_interval (%s) must be less than lease_duration (%s)", p.HeartbeatInterval, p.LeaseDuration))
	} else if p.LeaseDuration <= 2*p.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("lease_duration (%s) must exceed two heartbeat intervals (%s)", p.LeaseDuration, 2*p.HeartbeatInterval))
	}
	if p.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}
	if p.MaxAttempts < 1 {
		errs = append(errs, errors.New("max_attempts must be >= 1"))
	}
	return errors.Join(errs...)
}

func (p Policy) LeaseUntil(now time.Time) time.Time {
	return now.Add(p.LeaseDuration)
}

// RecoveryBound is the longest a crashed worker's job can stay running.
func (p Policy) RecoveryBound() time.Duration {
	return p.LeaseDuration + p.SweepInterval
}

// IsExpired reports whether job is running on a lease that ended before now.
func IsExpired(job *entity.Job, now time.Time) bool {
	return job.Status == entity.StatusRunning &&
		job.LeaseExpiresAt != nil &&
		job.LeaseExpiresAt.Before(now)
}
