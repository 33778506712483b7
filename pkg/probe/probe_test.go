package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{BaseMs: 1, MaxMs: 2, MaxJitterMs: 0, MaxAttempts: 3}
}

func TestWaitSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Wait(context.Background(), fastPolicy(), "factstore", "run-1", nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWaitExhaustsBudget(t *testing.T) {
	err := Wait(context.Background(), fastPolicy(), "ledger", "run-1", nil, func(context.Context) error {
		return errors.New("connection refused")
	})
	require.Error(t, err)

	var conn *ConnectivityError
	require.ErrorAs(t, err, &conn)
	assert.Equal(t, "ledger", conn.Service)
	assert.Equal(t, 3, conn.Attempts)
}

func TestWaitHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Wait(ctx, Policy{BaseMs: 100, MaxMs: 100, MaxAttempts: 5}, "ledger", "run-1", nil, func(context.Context) error {
		return errors.New("down")
	})
	var conn *ConnectivityError
	require.ErrorAs(t, err, &conn)
	assert.ErrorIs(t, conn.Err, context.Canceled)
}

func TestBackoffIsDeterministic(t *testing.T) {
	p := DefaultPolicy()
	a := p.Backoff("factstore", "run-1", 2)
	b := p.Backoff("factstore", "run-1", 2)
	assert.Equal(t, a, b)

	base := time.Duration(p.BaseMs*4) * time.Millisecond
	assert.GreaterOrEqual(t, a, base)
	assert.Less(t, a, base+time.Duration(p.MaxJitterMs)*time.Millisecond)
}

func TestBackoffIsCapped(t *testing.T) {
	p := Policy{BaseMs: 1000, MaxMs: 4000, MaxJitterMs: 0, MaxAttempts: 50}
	assert.Equal(t, 4*time.Second, p.Backoff("s", "r", 40))
}
