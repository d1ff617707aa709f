package queue

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Dequeuer blocks until a job is available on one of the watched queues and
// returns the queue name it arrived on with the raw payload.
type Dequeuer interface {
	Dequeue(ctx context.Context) (queue, payload string, err error)
}

// RedisDequeuer implements Dequeuer with BRPOP across the watched lists.
// First arrival wins; ties break by the order of the key list.
type RedisDequeuer struct {
	client *redis.Client
	queues []string
}

// NewRedisDequeuer creates a blocking dequeuer over the given queue keys.
func NewRedisDequeuer(client *redis.Client, queues ...string) *RedisDequeuer {
	return &RedisDequeuer{client: client, queues: queues}
}

// Dequeue blocks indefinitely; backpressure is queue depth, not a timeout.
// Cancellation comes from the context at shutdown.
func (d *RedisDequeuer) Dequeue(ctx context.Context) (string, string, error) {
	res, err := d.client.BRPop(ctx, 0, d.queues...).Result()
	if err != nil {
		return "", "", err
	}
	// BRPOP returns [key, value].
	return res[0], res[1], nil
}

var _ Dequeuer = (*RedisDequeuer)(nil)
