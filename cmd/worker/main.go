package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"agent-queue/internal/config"
	"agent-queue/internal/dispatcher"
	"agent-queue/internal/lease"
	"agent-queue/internal/notify"
	"agent-queue/internal/repository"
	"agent-queue/internal/service"
	"agent-queue/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// refuse to claim anything until the runtime CLI is usable
	binding, err := dispatcher.New(cfg.Dispatcher()).Start(ctx, os.Getenv)
	if err != nil {
		log.Fatalf("[worker] startup refused: %v", err)
	}
	for _, t := range binding.Tools {
		log.Printf("[worker] tool runtime=%s binary=%s path=%s version=%s", t.Runtime, t.Binary, t.Path, t.Version)
	}

	store, closeStore, err := repository.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	var (
		doorbell service.Doorbell
		waiter   worker.Waiter
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		bell := notify.NewRedisDoorbell(rdb, cfg.Redis.DoorbellPrefix)
		doorbell, waiter = bell, bell
	}

	svc := service.NewQueueService(store, service.Options{
		Policy:       cfg.Lease,
		Retry:        cfg.RetryPolicy(),
		Router:       cfg.Router(),
		Doorbell:     doorbell,
		StoreTimeout: cfg.Store.Timeout,
	})

	// reclaims jobs of crashed workers; safe to run next to the api's sweeper
	go lease.NewSweeper(svc, cfg.Lease.SweepInterval, binding.Queues...).Run(ctx)

	host := cfg.Worker.Host
	if host == "" {
		host, _ = os.Hostname()
	}

	exec := worker.NewCLIExecutor(binding.Runtime, cfg.Worker.WorkRoot, cfg.Worker.JobTimeout)
	processor := worker.NewProcessor(svc, exec, cfg.Lease.HeartbeatInterval)
	pool := worker.NewPool(svc, processor, waiter, worker.Config{
		Host:         host,
		Runtime:      binding.Runtime,
		Capabilities: binding.Capabilities,
		Queues:       binding.Queues,
		Slots:        cfg.Worker.Slots,
		IdleWait:     cfg.Worker.IdleWait,
	})

	log.Printf("[worker] config slots=%d runtime=%s store=%s dsn=%s redis_addr=%s lease=%s heartbeat=%s",
		cfg.Worker.Slots, binding.Runtime, cfg.Store.Driver, config.RedactDSN(cfg.Store.DSN), cfg.Redis.Addr,
		cfg.Lease.LeaseDuration, cfg.Lease.HeartbeatInterval,
	)

	pool.Run(ctx)

	log.Println("[worker] stopped")
}
