package notify

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDoorbell keeps one Redis list per queue. Producers push a token when
// a job becomes claimable; idle workers block on BRPOP instead of polling
// the store. Tokens carry no job identity: a woken worker still claims
// through the store, so a lost or duplicated token only costs latency.
type RedisDoorbell struct {
	rdb        *redis.Client
	prefix     string
	maxPending int64
}

func NewRedisDoorbell(rdb *redis.Client, prefix string) *RedisDoorbell {
	if prefix == "" {
		prefix = "jobs:doorbell"
	}
	return &RedisDoorbell{rdb: rdb, prefix: prefix, maxPending: 64}
}

func (d *RedisDoorbell) key(queue string) string {
	return d.prefix + ":" + queue
}

func (d *RedisDoorbell) Ring(ctx context.Context, queue string) error {
	k := d.key(queue)
	pipe := d.rdb.TxPipeline()
	pipe.LPush(ctx, k, time.Now().UnixNano())
	// bound the list: a backlog of tokens is no more useful than one per worker
	pipe.LTrim(ctx, k, 0, d.maxPending-1)
	_, err := pipe.Exec(ctx)
	return err
}

// Wait blocks until one of queues is rung or timeout elapses. It reports
// whether a token was consumed.
func (d *RedisDoorbell) Wait(ctx context.Context, queues []string, timeout time.Duration) (bool, error) {
	if len(queues) == 0 {
		return false, nil
	}
	keys := make([]string, 0, len(queues))
	for _, q := range queues {
		keys = append(keys, d.key(q))
	}

	_, err := d.rdb.BRPop(ctx, timeout, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
