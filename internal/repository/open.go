// Package repository selects a job store backend.
package repository

import (
	"context"
	"fmt"

	"agent-queue/internal/repository/memory"
	"agent-queue/internal/repository/postgresql"
	"agent-queue/internal/repository/sqlstore"
	"agent-queue/internal/service"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

var Drivers = []string{DriverPostgres, DriverMySQL, DriverSQLite, DriverMemory}

// Open connects to the store named by driver, applies its schema and
// returns it with a close function.
func Open(ctx context.Context, driver, dsn string) (service.JobStore, func(), error) {
	switch driver {
	case DriverPostgres, "postgresql", "":
		pool, err := postgresql.NewPool(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := postgresql.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgresql.NewJobRepository(pool), pool.Close, nil
	case DriverMySQL, DriverSQLite, "sqlite3":
		s, err := sqlstore.Open(ctx, driver, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("%s connect: %w", driver, err)
		}
		return s, func() { s.Close() }, nil
	case DriverMemory:
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
