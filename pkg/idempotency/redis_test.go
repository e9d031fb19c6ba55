package idempotency

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisGuard(t *testing.T) *RedisGuard {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisGuard(client, time.Hour)
}

func TestRedisGuardReserve(t *testing.T) {
	guard := newRedisGuard(t)
	ctx := context.Background()

	reserved, prior, err := guard.Reserve(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.Nil(t, prior)

	t.Run("duplicate sees in-flight prior", func(t *testing.T) {
		reserved, prior, err := guard.Reserve(ctx, "k1")
		require.NoError(t, err)
		assert.False(t, reserved)
		require.NotNil(t, prior)
		assert.Equal(t, StateInFlight, prior.State)
		assert.Equal(t, "k1", prior.Key)
	})

	t.Run("completed prior replays the response", func(t *testing.T) {
		body := json.RawMessage(`{"success":true,"data":{"execution_id":"exec-1"}}`)
		require.NoError(t, guard.Complete(ctx, "k1", "exec-1", http.StatusOK, body))

		reserved, prior, err := guard.Reserve(ctx, "k1")
		require.NoError(t, err)
		assert.False(t, reserved)
		require.NotNil(t, prior)
		assert.Equal(t, StateCompleted, prior.State)
		assert.Equal(t, "exec-1", prior.ExecutionID)
		assert.Equal(t, http.StatusOK, prior.StatusCode)
		assert.JSONEq(t, string(body), string(prior.Response))
	})
}

func TestRedisGuardGet(t *testing.T) {
	guard := newRedisGuard(t)
	ctx := context.Background()

	record, err := guard.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, record)

	_, _, err = guard.Reserve(ctx, "k1")
	require.NoError(t, err)

	record, err = guard.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StateInFlight, record.State)

	body := json.RawMessage(`{"success":true}`)
	require.NoError(t, guard.Complete(ctx, "k1", "exec-1", http.StatusOK, body))

	record, err = guard.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StateCompleted, record.State)
	assert.JSONEq(t, string(body), string(record.Response))
}

func TestRedisGuardRelease(t *testing.T) {
	guard := newRedisGuard(t)
	ctx := context.Background()

	t.Run("frees in-flight reservations", func(t *testing.T) {
		reserved, _, err := guard.Reserve(ctx, "k1")
		require.NoError(t, err)
		require.True(t, reserved)

		require.NoError(t, guard.Release(ctx, "k1"))

		reserved, _, err = guard.Reserve(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, reserved)
	})

	t.Run("never undoes a completed record", func(t *testing.T) {
		_, _, err := guard.Reserve(ctx, "k2")
		require.NoError(t, err)
		require.NoError(t, guard.Complete(ctx, "k2", "exec-2", http.StatusCreated, json.RawMessage(`{}`)))

		require.NoError(t, guard.Release(ctx, "k2"))

		reserved, prior, err := guard.Reserve(ctx, "k2")
		require.NoError(t, err)
		assert.False(t, reserved)
		require.NotNil(t, prior)
		assert.Equal(t, StateCompleted, prior.State)
	})

	t.Run("unknown key is a no-op", func(t *testing.T) {
		assert.NoError(t, guard.Release(ctx, "ghost"))
	})
}

func TestNewRedisGuardFromURL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	guard, err := NewRedisGuardFromURL(context.Background(), "redis://"+mr.Addr(), time.Hour)
	require.NoError(t, err)
	defer guard.Close()

	reserved, _, err := guard.Reserve(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, reserved)

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisGuardFromURL(context.Background(), "not-a-url", time.Hour)
		assert.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		_, err := NewRedisGuardFromURL(context.Background(), "redis://127.0.0.1:1", time.Hour)
		assert.Error(t, err)
	})
}
