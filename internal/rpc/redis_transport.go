package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const replyTTL = 30 * time.Second

func requestKey(service string) string { return fmt.Sprintf("rpc:%s:requests", service) }
func replyKey(id string) string         { return fmt.Sprintf("rpc:reply:%s", id) }

// RedisTransport implements Transport over Redis lists.
type RedisTransport struct {
	rdb         *redis.Client
	defaultWait time.Duration
}

// NewRedisTransport creates a new Redis-backed transport
func NewRedisTransport(rdb *redis.Client) *RedisTransport {
	return &RedisTransport{
		rdb:         rdb,
		defaultWait: 10 * time.Second,
	}
}

// Send pushes the request onto target's list and waits for the reply until the
// context deadline.
func (t *RedisTransport) Send(ctx context.Context, target, pattern string, payload []byte) ([]byte, error) {
	wait := t.defaultWait
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		wait = time.Until(deadline)
	} else {
		deadline = time.Now().Add(wait)
	}
	if wait <= 0 {
		return nil, context.DeadlineExceeded
	}

	id := uuid.New().String()
	msg, err := json.Marshal(request{
		ID:       id,
		Pattern:  pattern,
		Data:     payload,
		ReplyTo:  replyKey(id),
		Deadline: deadline.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	if err := t.rdb.RPush(ctx, requestKey(target), msg).Err(); err != nil {
		return nil, fmt.Errorf("failed to publish rpc request: %w", err)
	}

	// BLPOP waits in whole seconds, so a sub-second wait is cut short by the
	// connection deadline taken from ctx rather than by the server.
	res, err := t.rdb.BLPop(ctx, wait, replyKey(id)).Result()
	if errors.Is(err, redis.Nil) || (err != nil && !time.Now().Before(deadline)) {
		return nil, fmt.Errorf("rpc %s.%s: %w", target, pattern, context.DeadlineExceeded)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rpc reply: %w", err)
	}

	return []byte(res[1]), nil
}
