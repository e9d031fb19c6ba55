package idempotency

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	payload := map[string]any{
		"phone": "+919876543210",
		"name":  "Asha",
		"state": "Bihar",
	}

	t.Run("stable for identical input", func(t *testing.T) {
		a := DeriveKey("onboard", payload, []string{"phone"})
		b := DeriveKey("onboard", payload, []string{"phone"})
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("field order does not matter", func(t *testing.T) {
		a := DeriveKey("onboard", payload, []string{"phone", "state"})
		b := DeriveKey("onboard", payload, []string{"state", "phone"})
		assert.Equal(t, a, b)
	})

	t.Run("different values differ", func(t *testing.T) {
		other := map[string]any{"phone": "+911111111111"}
		assert.NotEqual(t,
			DeriveKey("onboard", payload, []string{"phone"}),
			DeriveKey("onboard", other, []string{"phone"}))
	})

	t.Run("flow name is part of the key", func(t *testing.T) {
		assert.NotEqual(t,
			DeriveKey("onboard", payload, []string{"phone"}),
			DeriveKey("ingest-policy", payload, []string{"phone"}))
	})
}

func TestMemoryGuardReserve(t *testing.T) {
	guard := NewMemoryGuard(time.Hour)
	defer guard.Close()
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
	})

	t.Run("completed prior carries the stored response", func(t *testing.T) {
		body := json.RawMessage(`{"success":true,"data":{"account_id":"a1"}}`)
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

func TestMemoryGuardGet(t *testing.T) {
	guard := NewMemoryGuard(time.Hour)
	defer guard.Close()
	ctx := context.Background()

	t.Run("unknown key is nil", func(t *testing.T) {
		record, err := guard.Get(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("tracks the record through its lifecycle", func(t *testing.T) {
		_, _, err := guard.Reserve(ctx, "k1")
		require.NoError(t, err)

		record, err := guard.Get(ctx, "k1")
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
	})

	t.Run("released key reads as nil", func(t *testing.T) {
		_, _, err := guard.Reserve(ctx, "k2")
		require.NoError(t, err)
		require.NoError(t, guard.Release(ctx, "k2"))

		record, err := guard.Get(ctx, "k2")
		require.NoError(t, err)
		assert.Nil(t, record)
	})
}

func TestMemoryGuardRelease(t *testing.T) {
	guard := NewMemoryGuard(time.Hour)
	defer guard.Close()
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
		require.NoError(t, guard.Complete(ctx, "k2", "exec-2", http.StatusOK, json.RawMessage(`{}`)))

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

func TestMemoryGuardCompleteUnreserved(t *testing.T) {
	guard := NewMemoryGuard(time.Hour)
	defer guard.Close()

	err := guard.Complete(context.Background(), "never-reserved", "exec-1", http.StatusOK, nil)
	assert.Error(t, err)
}

func TestMemoryGuardConcurrentReserve(t *testing.T) {
	guard := NewMemoryGuard(time.Hour)
	defer guard.Close()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reserved, _, err := guard.Reserve(context.Background(), "contested")
			assert.NoError(t, err)
			if reserved {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&winners))
}

func TestMemoryGuardPriorIsACopy(t *testing.T) {
	guard := NewMemoryGuard(time.Hour)
	defer guard.Close()
	ctx := context.Background()

	_, _, err := guard.Reserve(ctx, "k1")
	require.NoError(t, err)

	_, prior, err := guard.Reserve(ctx, "k1")
	require.NoError(t, err)
	prior.State = StateCompleted

	// Mutating the returned record must not corrupt the guard's copy
	_, prior, err = guard.Reserve(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, StateInFlight, prior.State)
}
