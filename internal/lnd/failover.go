package lnd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kirillm/ln-autopilot/internal/domain"
	"github.com/kirillm/ln-autopilot/internal/resilience"
)

// DefaultSnapshotMaxAge срок годности закешированного снапшота
const DefaultSnapshotMaxAge = 5 * time.Minute

var ErrSnapshotUnavailable = errors.New("snapshot unavailable from all sources")

// FailoverSource источник снапшотов с запасными источниками и кешем.
// Основной источник опрашивается с повторами, затем по очереди запасные,
// затем отдается кеш не старше maxAge.
type FailoverSource struct {
	primary   Source
	fallbacks []Source
	retrier   *resilience.Retrier
	maxAge    time.Duration
	log       zerolog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	cache map[string]domain.ResourceSnapshot
}

// NewFailoverSource создает источник с failover
func NewFailoverSource(primary Source, retrier *resilience.Retrier, log zerolog.Logger) *FailoverSource {
	return &FailoverSource{
		primary: primary,
		retrier: retrier,
		maxAge:  DefaultSnapshotMaxAge,
		log:     log.With().Str("component", "snapshot_failover").Logger(),
		now:     time.Now,
		cache:   make(map[string]domain.ResourceSnapshot),
	}
}

// AddFallbackSource добавляет запасной источник
func (f *FailoverSource) AddFallbackSource(source Source) {
	f.fallbacks = append(f.fallbacks, source)
}

// SetMaxAge задает срок годности кеша
func (f *FailoverSource) SetMaxAge(d time.Duration) {
	f.maxAge = d
}

// SetClock подменяет источник времени (для тестов)
func (f *FailoverSource) SetClock(now func() time.Time) {
	f.now = now
}

// Resources список ресурсов берется только у основного источника
func (f *FailoverSource) Resources(ctx context.Context) ([]string, error) {
	return resilience.Do(ctx, f.retrier, f.primary.Resources)
}

// Snapshot получает снапшот с failover
func (f *FailoverSource) Snapshot(ctx context.Context, resourceID string) (*domain.ResourceSnapshot, error) {
	snap, err := resilience.DoWithFallback(ctx, f.retrier,
		func(ctx context.Context) (*domain.ResourceSnapshot, error) {
			return f.primary.Snapshot(ctx, resourceID)
		},
		func(ctx context.Context, cause error) (*domain.ResourceSnapshot, error) {
			return f.fallback(ctx, resourceID, cause)
		},
	)
	if err != nil {
		return nil, err
	}
	f.remember(snap)
	return snap, nil
}

func (f *FailoverSource) fallback(ctx context.Context, resourceID string, cause error) (*domain.ResourceSnapshot, error) {
	if ctx.Err() != nil {
		return nil, cause
	}

	for i, source := range f.fallbacks {
		snap, err := source.Snapshot(ctx, resourceID)
		if err == nil {
			f.log.Warn().Int("source", i+1).Str("resource", resourceID).Msg("Using fallback snapshot source")
			return snap, nil
		}
	}

	f.mu.RLock()
	cached, ok := f.cache[resourceID]
	f.mu.RUnlock()
	if ok {
		age := f.now().Sub(cached.ObservedAt)
		if age < f.maxAge {
			f.log.Warn().Str("resource", resourceID).Dur("age", age).Msg("Using cached snapshot")
			return &cached, nil
		}
	}

	return nil, fmt.Errorf("%w: %s: %w", ErrSnapshotUnavailable, resourceID, cause)
}

func (f *FailoverSource) remember(snap *domain.ResourceSnapshot) {
	if snap == nil {
		return
	}
	cached := *snap
	if cached.ObservedAt.IsZero() {
		cached.ObservedAt = f.now()
	}
	f.mu.Lock()
	f.cache[snap.ResourceID] = cached
	f.mu.Unlock()
}
