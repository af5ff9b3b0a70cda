package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_NextRetryDelay(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      2 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	})

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, policy.NextRetryDelay(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestRetryPolicy_Defaults(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{})

	assert.Equal(t, 3, policy.MaxAttempts())
	assert.Equal(t, 2*time.Second, policy.NextRetryDelay(1))
	assert.Equal(t, 4*time.Second, policy.NextRetryDelay(2))
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxAttempts: 3})
	boom := errors.New("boom")

	assert.False(t, policy.ShouldRetry(1, nil))
	assert.True(t, policy.ShouldRetry(1, boom))
	assert.True(t, policy.ShouldRetry(2, boom))
	assert.False(t, policy.ShouldRetry(3, boom))
}

func fastPolicy() *RetryPolicy {
	return NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
}

func TestRetryPolicy_Do(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)

	attempts, err = fastPolicy().Do(context.Background(), func(context.Context) error {
		return errors.New("permanent")
	})
	assert.EqualError(t, err, "permanent")
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_DoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := NewRetryPolicy(RetryConfig{MaxAttempts: 10, InitialDelay: time.Hour})

	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = policy.Do(ctx, func(context.Context) error {
			calls++
			return errors.New("fail")
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancel")
	}
	assert.Equal(t, 1, calls)
}
