package postgresql_test

import (
	"context"
	"os"
	"testing"

	"agent-queue/internal/repository/postgresql"
	"agent-queue/internal/repository/storetest"
	"agent-queue/internal/service"
)

func TestJobRepository(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := postgresql.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := postgresql.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := postgresql.NewJobRepository(pool)
	storetest.Run(t, func(t *testing.T) service.JobStore { return repo })
}
