package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastConfig() Config {
	return Config{MaxRetries: 4, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestWithBackoff_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(), zaptest.NewLogger(t), "flaky", func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithBackoff_GivesUp(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(), nil, "broken", func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls)
}

func TestWithBackoff_StopsOnNonRetryable(t *testing.T) {
	denied := errors.New("denied")
	cfg := fastConfig()
	cfg.Retryable = func(err error) bool { return !errors.Is(err, denied) }

	calls := 0
	err := WithBackoff(context.Background(), cfg, nil, "auth", func() error {
		calls++
		return denied
	})
	require.ErrorIs(t, err, denied)
	assert.Equal(t, 1, calls)

	calls = 0
	err = WithBackoff(context.Background(), fastConfig(), nil, "perm", func() error {
		calls++
		return Permanent(denied)
	})
	assert.Same(t, denied, err)
	assert.Equal(t, 1, calls)
}

func TestWithBackoff_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithBackoff(ctx, fastConfig(), nil, "cancelled", func() error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoff_Capped(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, calculateBackoff(cfg, 1))
	assert.Equal(t, 2*time.Second, calculateBackoff(cfg, 2))
	assert.Equal(t, 3*time.Second, calculateBackoff(cfg, 5))
}
