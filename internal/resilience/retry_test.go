package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/ln-autopilot/internal/domain"
)

var errPermanent = errors.New("permanent failure")

func transient() error {
	return &domain.TransientError{Op: "call", Err: errors.New("connection reset")}
}

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestRetrier(cfg RetryConfig) (*Retrier, *recordingSleeper) {
	r := NewRetrier("test", cfg, NewMetrics(nil), zerolog.Nop())
	sleeper := &recordingSleeper{}
	r.SetSleeper(sleeper.Sleep)
	return r, sleeper
}

func noJitter() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
	}
}

func TestRetryConfig_Delay(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}

	want := []time.Duration{1, 2, 4, 8, 10, 10}
	for attempt, w := range want {
		assert.Equal(t, w*time.Second, cfg.Delay(attempt), "attempt %d", attempt)
	}
}

func TestRetryConfig_Defaults(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.BackoffFactor)
	assert.True(t, cfg.Jitter)
	assert.Equal(t, 30*time.Second, cfg.AttemptTimeout)
}

func TestRetrier_JitterBounds(t *testing.T) {
	cfg := noJitter()
	cfg.Jitter = true
	r, _ := newTestRetrier(cfg)

	for attempt := 0; attempt < 4; attempt++ {
		base := cfg.Delay(attempt)
		for i := 0; i < 100; i++ {
			d := r.backoff(attempt)
			assert.GreaterOrEqual(t, d, base/2)
			assert.Less(t, d, base*3/2)
		}
	}
}

func TestRetryConfig_Retryable(t *testing.T) {
	cfg := noJitter()
	assert.True(t, cfg.Retryable(transient()))
	assert.True(t, cfg.Retryable(context.DeadlineExceeded))
	assert.False(t, cfg.Retryable(errPermanent))
	assert.False(t, cfg.Retryable(context.Canceled))
	assert.False(t, cfg.Retryable(ErrCircuitOpen))
	assert.False(t, cfg.Retryable(nil))

	cfg.RetryOn = []error{errPermanent}
	assert.True(t, cfg.Retryable(errPermanent))
	assert.False(t, cfg.Retryable(transient()))
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	r, sleeper := newTestRetrier(noJitter())

	calls := 0
	got, err := Do(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", transient()
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.RetrySuccess.WithLabelValues("test")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.metrics.Attempts.WithLabelValues("test")))
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	r, sleeper := newTestRetrier(noJitter())

	calls := 0
	_, err := Do(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		return 0, transient()
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransient))
	assert.Equal(t, 4, calls, "MaxRetries+1 attempts")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.Exhausted.WithLabelValues("test")))
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	r, sleeper := newTestRetrier(noJitter())

	calls := 0
	_, err := Do(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		return 0, errPermanent
	})

	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays)
}

func TestDo_ZeroRetries(t *testing.T) {
	cfg := noJitter()
	cfg.MaxRetries = 0
	r, _ := newTestRetrier(cfg)

	calls := 0
	_, err := Do(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		return 0, transient()
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ParentCancellationStops(t *testing.T) {
	r, _ := newTestRetrier(noJitter())
	ctx, cancel := context.WithCancel(context.Background())
	r.SetSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	calls := 0
	_, err := Do(ctx, r, func(ctx context.Context) (int, error) {
		calls++
		return 0, transient()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, 1, calls)
}

func TestDo_AttemptTimeoutCountsAsAttempt(t *testing.T) {
	cfg := noJitter()
	cfg.MaxRetries = 1
	cfg.AttemptTimeout = 20 * time.Millisecond
	r, sleeper := newTestRetrier(cfg)

	var calls atomic.Int32
	_, err := Do(context.Background(), r, func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-ctx.Done()
		return 0, ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, sleeper.delays, 1)
}

func TestDo_AttemptTimeoutIgnoredContext(t *testing.T) {
	cfg := noJitter()
	cfg.MaxRetries = 0
	cfg.AttemptTimeout = 20 * time.Millisecond
	r, _ := newTestRetrier(cfg)

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Do(context.Background(), r, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDoWithFallback(t *testing.T) {
	r, _ := newTestRetrier(noJitter())

	got, err := DoWithFallback(context.Background(), r,
		func(ctx context.Context) (string, error) { return "", errPermanent },
		func(ctx context.Context, cause error) (string, error) {
			assert.ErrorIs(t, cause, errPermanent)
			return "cached", nil
		},
	)

	require.NoError(t, err)
	assert.Equal(t, "cached", got)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.FallbackUsed.WithLabelValues("test")))

	// без fallback ошибка возвращается как есть
	_, err = DoWithFallback[string](context.Background(), r,
		func(ctx context.Context) (string, error) { return "", errPermanent }, nil)
	assert.ErrorIs(t, err, errPermanent)
}

func TestDo_BreakerStopsRetries(t *testing.T) {
	r, _ := newTestRetrier(noJitter())
	r = r.WithBreaker(NewCircuitBreaker("lnd", 2, time.Minute))

	calls := 0
	_, err := Do(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		return 0, transient()
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}
