package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// releaseScript deletes a reservation only while it is still in flight, so a
// racing Complete is never undone
const releaseScript = `
local value = redis.call("GET", KEYS[1])
if not value then
	return 0
end
local record = cjson.decode(value)
if record.state == "IN_FLIGHT" then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisGuard is a Redis-backed guard shared across gateway instances
type RedisGuard struct {
	client    *redis.Client
	retention time.Duration
	prefix    string
}

// NewRedisGuard creates a guard over an existing Redis client
func NewRedisGuard(client *redis.Client, retention time.Duration) *RedisGuard {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisGuard{
		client:    client,
		retention: retention,
		prefix:    "idempotency:",
	}
}

// NewRedisGuardFromURL connects to Redis and verifies the connection
func NewRedisGuardFromURL(ctx context.Context, url string, retention time.Duration) (*RedisGuard, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisGuard(client, retention), nil
}

// Reserve claims the key with SETNX, or reads back the earlier request
func (g *RedisGuard) Reserve(ctx context.Context, key string) (bool, *Record, error) {
	record := Record{
		Key:       key,
		State:     StateInFlight,
		CreatedAt: time.Now(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return false, nil, err
	}

	set, err := g.client.SetNX(ctx, g.prefix+key, payload, g.retention).Result()
	if err != nil {
		return false, nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if set {
		return true, nil, nil
	}

	value, err := g.client.Get(ctx, g.prefix+key).Bytes()
	if err == redis.Nil {
		// The earlier record expired between SETNX and GET; claim it now
		return g.Reserve(ctx, key)
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to read idempotency record: %w", err)
	}

	var prior Record
	if err := json.Unmarshal(value, &prior); err != nil {
		return false, nil, fmt.Errorf("corrupt idempotency record: %w", err)
	}
	return false, &prior, nil
}

// Get reads the record for the key, or nil when absent
func (g *RedisGuard) Get(ctx context.Context, key string) (*Record, error) {
	value, err := g.client.Get(ctx, g.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, fmt.Errorf("corrupt idempotency record: %w", err)
	}
	return &record, nil
}

// Complete stores the response for replay by later duplicates
func (g *RedisGuard) Complete(ctx context.Context, key string, executionID string, statusCode int, response json.RawMessage) error {
	record := Record{
		Key:         key,
		State:       StateCompleted,
		ExecutionID: executionID,
		StatusCode:  statusCode,
		Response:    response,
		CreatedAt:   time.Now(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := g.client.Set(ctx, g.prefix+key, payload, g.retention).Err(); err != nil {
		return fmt.Errorf("failed to store idempotency record: %w", err)
	}
	return nil
}

// Release frees an in-flight reservation after an orchestration fault
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Eval(ctx, releaseScript, []string{g.prefix + key}).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
