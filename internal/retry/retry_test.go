package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/monitor-core/internal/clienterrors"
)

func TestDelayExponentialGrowthWithoutJitter(t *testing.T) {
	cfg := Config{BaseDelay: 1 * time.Second, MaxDelay: 100 * time.Second, BackoffFactor: 2, Jitter: false}
	assert.Equal(t, 1*time.Second, Delay(cfg, 0))
	assert.Equal(t, 2*time.Second, Delay(cfg, 1))
	assert.Equal(t, 4*time.Second, Delay(cfg, 2))
}

func TestDelayCapsAtMaxDelay(t *testing.T) {
	cfg := Config{BaseDelay: 1 * time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2, Jitter: false}
	assert.Equal(t, 5*time.Second, Delay(cfg, 10))
}

func TestDelayJitterStaysWithinBounds(t *testing.T) {
	cfg := Config{BaseDelay: 10 * time.Second, MaxDelay: 100 * time.Second, BackoffFactor: 2, Jitter: true}
	base := 10 * time.Second
	for i := 0; i < 50; i++ {
		d := Delay(cfg, 0)
		assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.75))
		assert.LessOrEqual(t, d, time.Duration(float64(base)*1.25))
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), "op", func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesRetryableErrorsUntilSuccess(t *testing.T) {
	cfg := Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 1, Jitter: false}
	calls := 0
	err := Do(context.Background(), cfg, "op", func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return clienterrors.New(clienterrors.KindConnection, "op", "transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	cfg := Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 1, Jitter: false}
	calls := 0
	err := Do(context.Background(), cfg, "op", func(ctx context.Context, attempt int) error {
		calls++
		return clienterrors.New(clienterrors.KindAuthentication, "op", "bad credentials")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsMaxRetries(t *testing.T) {
	cfg := Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 1, Jitter: false}
	calls := 0
	err := Do(context.Background(), cfg, "op", func(ctx context.Context, attempt int) error {
		calls++
		return clienterrors.New(clienterrors.KindServer, "op", "still failing")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	cfg := Config{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 1, Jitter: false}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, cfg, "op", func(ctx context.Context, attempt int) error {
		calls++
		return clienterrors.New(clienterrors.KindConnection, "op", "transient")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}
