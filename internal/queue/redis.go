package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mtr002/lm-jobs/internal/interfaces"
)

// MinPopTimeout is the shortest block Redis honours; go-redis truncates BLPOP timeouts
// to whole seconds.
const MinPopTimeout = time.Second

// Key returns the Redis list holding notifications for kind.
func Key(kind interfaces.Kind) string {
	return string(kind) + "_queue"
}

// RedisQueue is a list-backed doorbell: RPUSH on submit, BLPOP in workers.
type RedisQueue struct {
	client *redis.Client
	keys   []string
}

// NewRedisQueue connects to addr and verifies the connection.
func NewRedisQueue(ctx context.Context, addr, password string, db int) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisQueueFromClient(client), nil
}

// NewRedisQueueFromClient wraps an existing client. Pop listens on every job family.
func NewRedisQueueFromClient(client *redis.Client) *RedisQueue {
	keys := make([]string, 0, len(interfaces.Kinds))
	for _, kind := range interfaces.Kinds {
		keys = append(keys, Key(kind))
	}
	return &RedisQueue{client: client, keys: keys}
}

// Push appends msg to the list of its job family.
func (q *RedisQueue) Push(ctx context.Context, msg *interfaces.QueueMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}
	if err := q.client.RPush(ctx, Key(msg.JobType), data).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", Key(msg.JobType), err)
	}
	return nil
}

// Pop blocks until a message arrives on any family list or timeout passes.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*interfaces.QueueMessage, error) {
	if timeout < MinPopTimeout {
		timeout = MinPopTimeout
	}

	res, err := q.client.BLPop(ctx, timeout, q.keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop: %w", err)
	}
	// BLPOP replies with [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of length %d", len(res))
	}

	var msg interfaces.QueueMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("malformed message on %s: %w", res[0], err)
	}
	return &msg, nil
}

// Len reports how many notifications wait for kind.
func (q *RedisQueue) Len(ctx context.Context, kind interfaces.Kind) (int64, error) {
	return q.client.LLen(ctx, Key(kind)).Result()
}

// Ping checks the connection for readiness probes.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
