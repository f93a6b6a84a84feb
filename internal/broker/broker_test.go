package broker

import (
	"context"
	"testing"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestSimBrokerFlattenIsIdempotent(t *testing.T) {
	sim := NewSimBroker()
	sim.SetPosition("MES", 3)
	sim.SetWorkingOrders(2)

	require.NoError(t, sim.FlattenAll(context.Background()))
	require.NoError(t, sim.FlattenAll(context.Background()))
	require.NoError(t, sim.CancelAllWorking(context.Background()))

	assert.True(t, sim.Flat())
	assert.Zero(t, sim.WorkingOrders())
	assert.Equal(t, 2, sim.FlattenCalls())
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	sim := NewSimBroker()
	sim.SetPosition("MES", 1)
	sim.FailNextFlattens(2)

	err := Retry(context.Background(), fastRetry(3), func() error {
		return sim.FlattenAll(context.Background())
	})

	require.NoError(t, err)
	assert.Equal(t, 3, sim.FlattenCalls())
	assert.True(t, sim.Flat())
}

func TestRetryExhaustsBudgetAndReturnsLastError(t *testing.T) {
	sim := NewSimBroker()
	sim.FailNextFlattens(100)

	err := Retry(context.Background(), fastRetry(2), func() error {
		return sim.FlattenAll(context.Background())
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry budget exhausted")
	assert.Equal(t, 3, sim.FlattenCalls(), "MaxRetries=2 means three attempts")
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	sim := NewSimBroker()
	sim.FailNextFlattens(100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetry(5), func() error {
		return sim.FlattenAll(context.Background())
	})

	require.ErrorIs(t, err, context.Canceled)
}

func TestCheckRetCode(t *testing.T) {
	assert.NoError(t, checkRetCode(&bybit_api.ServerResponse{RetCode: 0}))

	err := checkRetCode(&bybit_api.ServerResponse{RetCode: 10001, RetMsg: "params error"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "params error")

	assert.Error(t, checkRetCode(nil))
}

func TestBackoffDelayIsCapped(t *testing.T) {
	config := RetryConfig{
		InitialDelay:  time.Second,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, time.Second, backoffDelay(0, config))
	assert.Equal(t, 2*time.Second, backoffDelay(1, config))
	assert.Equal(t, 4*time.Second, backoffDelay(2, config))
	assert.Equal(t, 5*time.Second, backoffDelay(3, config), "capped at max delay")
	assert.Equal(t, 5*time.Second, backoffDelay(10, config))
}
