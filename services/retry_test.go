package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_RetriesOnlySystemErrors(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), nil, "flaky", func(context.Context) error {
		calls++
		if calls < 3 {
			return systemError("db", errors.New("connection reset"))
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = p.Do(context.Background(), nil, "validation", func(context.Context) error {
		calls++
		return ErrQuotaExceeded
	})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 1, calls, "business errors are not retried")

	calls = 0
	err = p.Do(context.Background(), nil, "down", func(context.Context) error {
		calls++
		return systemError("storage", errors.New("unavailable"))
	})
	assert.True(t, IsSystemError(err))
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_DelayIsCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	for attempt := 0; attempt < 40; attempt++ {
		d := p.delay(attempt)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock(1)

	acquired := make(chan struct{})
	go func() {
		u := k.Lock(1)
		close(acquired)
		u()
	}()

	other := k.Lock(2)
	other()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("key was never released")
	}

	assert.Eventually(t, func() bool {
		k.mu.Lock()
		defer k.mu.Unlock()
		return len(k.locks) == 0
	}, time.Second, 5*time.Millisecond, "released keys are forgotten")
}
