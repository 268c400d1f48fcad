package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"agent-queue/internal/config"
	_ "agent-queue/internal/docs"
	"agent-queue/internal/lease"
	"agent-queue/internal/notify"
	"agent-queue/internal/repository"
	"agent-queue/internal/service"
	httptransport "agent-queue/internal/transport/http"
)

// @title Agent Job Queue API
// @version 1.0
// @description Durable job queue for CLI-backed coding agents: submission, worker leases and job events.
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, closeStore, err := repository.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	var doorbell service.Doorbell
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		doorbell = notify.NewRedisDoorbell(rdb, cfg.Redis.DoorbellPrefix)
	}

	svc := service.NewQueueService(store, service.Options{
		Policy:       cfg.Lease,
		Retry:        cfg.RetryPolicy(),
		Router:       cfg.Router(),
		Doorbell:     doorbell,
		StoreTimeout: cfg.Store.Timeout,
	})

	go lease.NewSweeper(svc, cfg.Lease.SweepInterval).Run(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httptransport.Routes(httptransport.NewHandler(svc)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("[api] config addr=%s store=%s dsn=%s redis_addr=%s lease=%s heartbeat=%s sweep=%s max_attempts=%d",
		cfg.HTTP.Addr, cfg.Store.Driver, config.RedactDSN(cfg.Store.DSN), cfg.Redis.Addr,
		cfg.Lease.LeaseDuration, cfg.Lease.HeartbeatInterval, cfg.Lease.SweepInterval, cfg.Lease.MaxAttempts,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Printf("[api] listen error=%v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[api] shutdown error=%v", err)
	}
	log.Println("[api] stopped")
}
