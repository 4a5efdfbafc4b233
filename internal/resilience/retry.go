package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/domain"
)

// RetryConfig параметры экспоненциального backoff
type RetryConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	Jitter         bool
	AttemptTimeout time.Duration
	// RetryOn ошибки, которые имеет смысл повторять. Пусто - только
	// domain.ErrTransient и таймаут попытки.
	RetryOn []error
}

// DefaultRetryConfig 3 повтора, 1s..30s, множитель 2, с jitter
func DefaultRetryConfig() RetryConfig {
	return RetryConfigFromPolicy(config.DefaultPolicy().Retry)
}

// RetryConfigFromPolicy переводит секцию политики в RetryConfig
func RetryConfigFromPolicy(p config.RetryPolicy) RetryConfig {
	return RetryConfig{
		MaxRetries:     p.MaxRetries,
		BaseDelay:      p.BaseDelay,
		MaxDelay:       p.MaxDelay,
		BackoffFactor:  p.BackoffFactor,
		Jitter:         p.Jitter,
		AttemptTimeout: p.AttemptTimeout,
	}
}

// Delay задержка перед повтором номер attempt (с нуля), без jitter
func (c RetryConfig) Delay(attempt int) time.Duration {
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(c.BaseDelay) * math.Pow(factor, float64(attempt))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Retryable решает, стоит ли повторять ошибку
func (c RetryConfig) Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	if len(c.RetryOn) == 0 {
		return errors.Is(err, domain.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
	}
	for _, target := range c.RetryOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Retrier повторяет вызовы по RetryConfig, опционально через CircuitBreaker
type Retrier struct {
	name    string
	cfg     RetryConfig
	breaker *CircuitBreaker
	metrics *Metrics
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	randMu *sync.Mutex
	rand   *rand.Rand
}

// NewRetrier создает retrier без breaker'а
func NewRetrier(name string, cfg RetryConfig, metrics *Metrics, log zerolog.Logger) *Retrier {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Retrier{
		name:    name,
		cfg:     cfg,
		metrics: metrics,
		log:     log.With().Str("component", "retry").Str("name", name).Logger(),
		sleep:   sleepContext,
		randMu:  &sync.Mutex{},
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithBreaker возвращает копию retrier'а, защищенную breaker'ом
func (r *Retrier) WithBreaker(b *CircuitBreaker) *Retrier {
	cp := *r
	cp.breaker = b
	return &cp
}

// SetSleeper подменяет ожидание между попытками (для тестов)
func (r *Retrier) SetSleeper(sleep func(ctx context.Context, d time.Duration) error) {
	r.sleep = sleep
}

// Config возвращает параметры retrier'а
func (r *Retrier) Config() RetryConfig {
	return r.cfg
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff задержка с учетом jitter: множитель в [0.5, 1.5)
func (r *Retrier) backoff(attempt int) time.Duration {
	d := r.cfg.Delay(attempt)
	if !r.cfg.Jitter {
		return d
	}
	r.randMu.Lock()
	f := 0.5 + r.rand.Float64()
	r.randMu.Unlock()
	return time.Duration(float64(d) * f)
}

// attempt выполняет одну попытку с собственным таймаутом. Функция,
// игнорирующая ctx, не блокирует retrier дольше таймаута.
func attempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Do вызывает fn до MaxRetries+1 раз. Неповторяемая ошибка возвращается
// сразу, после исчерпания попыток возвращается последняя ошибка.
func Do[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)

	for n := 0; n <= r.cfg.MaxRetries; n++ {
		var result T
		call := func(ctx context.Context) error {
			v, err := attempt(ctx, r.cfg.AttemptTimeout, fn)
			result = v
			return err
		}

		var err error
		if r.breaker != nil {
			err = r.breaker.Call(ctx, call)
		} else {
			err = call(ctx)
		}
		if !errors.Is(err, ErrCircuitOpen) {
			r.metrics.Attempts.WithLabelValues(r.name).Inc()
		}

		if err == nil {
			if n > 0 {
				r.metrics.RetrySuccess.WithLabelValues(r.name).Inc()
				r.log.Info().Int("attempt", n+1).Msg("Call succeeded after retry")
			}
			return result, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, errors.Join(ctxErr, lastErr)
		}
		if !r.cfg.Retryable(err) {
			return zero, err
		}
		if n == r.cfg.MaxRetries {
			break
		}

		delay := r.backoff(n)
		r.log.Warn().Err(err).
			Int("attempt", n+1).
			Int("max_attempts", r.cfg.MaxRetries+1).
			Dur("delay", delay).
			Msg("Call failed, retrying")
		if err := r.sleep(ctx, delay); err != nil {
			return zero, errors.Join(err, lastErr)
		}
	}

	r.metrics.Exhausted.WithLabelValues(r.name).Inc()
	r.log.Error().Err(lastErr).Int("attempts", r.cfg.MaxRetries+1).Msg("Retries exhausted")
	return zero, lastErr
}

// DoWithFallback то же, что Do, но при ошибке отдает результат fallback
func DoWithFallback[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error), fallback func(ctx context.Context, err error) (T, error)) (T, error) {
	v, err := Do(ctx, r, fn)
	if err == nil || fallback == nil {
		return v, err
	}
	r.metrics.FallbackUsed.WithLabelValues(r.name).Inc()
	r.log.Warn().Err(err).Msg("Using fallback")
	return fallback(ctx, err)
}
