package notify

import (
	"context"
	"time"
)

// LocalDoorbell wakes waiters in the same process. Any ring wakes one
// waiter regardless of queue.
type LocalDoorbell struct {
	ch chan struct{}
}

func NewLocalDoorbell() *LocalDoorbell {
	return &LocalDoorbell{ch: make(chan struct{}, 1)}
}

func (d *LocalDoorbell) Ring(ctx context.Context, queue string) error {
	select {
	case d.ch <- struct{}{}:
	default:
	}
	return nil
}

func (d *LocalDoorbell) Wait(ctx context.Context, queues []string, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-d.ch:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
