package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kirillm/ln-autopilot/internal/domain"
)

type memItem struct {
	value     string
	expiresAt time.Time
}

func (i memItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStore хранилище в памяти процесса для одного экземпляра и тестов
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memItem
	lists  map[string][]memItem
	now    func() time.Time
	closed bool
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memItem),
		lists:  make(map[string][]memItem),
		now:    time.Now,
	}
}

// SetClock подменяет источник времени (для тестов)
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("%w: memory store closed", domain.ErrStoreUnavailable)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	item, ok := s.values[key]
	if !ok || item.expired(s.now()) {
		delete(s.values, key)
		return "", fmt.Errorf("key %s: %w", key, domain.ErrNotFound)
	}
	return item.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.values[key] = memItem{value: value, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	item, ok := s.values[key]
	if !ok || item.expired(s.now()) {
		s.values[key] = memItem{value: "1", expiresAt: s.deadline(ttl)}
		return 1, nil
	}

	n, err := strconv.ParseInt(item.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("key %s is not a counter: %w", key, err)
	}
	n++
	item.value = strconv.FormatInt(n, 10)
	s.values[key] = item
	return n, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if item, ok := s.values[key]; ok {
		item.expiresAt = s.deadline(ttl)
		s.values[key] = item
	}
	if items, ok := s.lists[key]; ok {
		for i := range items {
			items[i].expiresAt = s.deadline(ttl)
		}
	}
	return nil
}

func (s *MemoryStore) Append(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.lists[key] = append(s.lists[key], memItem{value: value, expiresAt: s.deadline(ttl)})
	return nil
}

func (s *MemoryStore) List(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	now := s.now()
	var out []string
	for _, item := range s.lists[key] {
		if !item.expired(now) {
			out = append(out, item.value)
		}
	}
	return out, nil
}

// Purge удаляет истекшие ключи и элементы списков
func (s *MemoryStore) Purge(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed int64
	for k, item := range s.values {
		if item.expired(now) {
			delete(s.values, k)
			removed++
		}
	}
	for k, items := range s.lists {
		kept := items[:0]
		for _, item := range items {
			if item.expired(now) {
				removed++
				continue
			}
			kept = append(kept, item)
		}
		if len(kept) == 0 {
			delete(s.lists, k)
		} else {
			s.lists[k] = kept
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
