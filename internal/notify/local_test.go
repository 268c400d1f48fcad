package notify_test

import (
	"context"
	"testing"
	"time"

	"agent-queue/internal/notify"
)

func TestLocalDoorbell_RingWakesWaiter(t *testing.T) {
	d := notify.NewLocalDoorbell()
	_ = d.Ring(context.Background(), "q")
	_ = d.Ring(context.Background(), "q") // coalesced

	woke, err := d.Wait(context.Background(), []string{"q"}, time.Second)
	if err != nil || !woke {
		t.Fatalf("expected wake, got %v %v", woke, err)
	}

	woke, err = d.Wait(context.Background(), []string{"q"}, 10*time.Millisecond)
	if err != nil || woke {
		t.Fatalf("expected timeout without pending ring, got %v %v", woke, err)
	}
}

func TestLocalDoorbell_ContextCancel(t *testing.T) {
	d := notify.NewLocalDoorbell()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Wait(ctx, nil, time.Minute); err == nil {
		t.Fatalf("expected context error")
	}
}
