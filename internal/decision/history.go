package decision

import (
	"sort"
	"sync"
	"time"

	"github.com/kirillm/ln-autopilot/internal/domain"
)

// HistoryEntry действие вместе с временем оценки, которая его породила
type HistoryEntry struct {
	EvaluatedAt time.Time
	Action      domain.Action
}

// History ограниченный кольцевой буфер выполненных решений.
// При переполнении вытесняются самые старые записи.
type History struct {
	mu      sync.RWMutex
	entries []HistoryEntry
	next    int
	full    bool
}

// NewHistory создает буфер заданной емкости
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{entries: make([]HistoryEntry, capacity)}
}

// Add добавляет действия одной оценки
func (h *History) Add(evaluatedAt time.Time, actions ...domain.Action) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, a := range actions {
		h.entries[h.next] = HistoryEntry{EvaluatedAt: evaluatedAt, Action: a}
		h.next = (h.next + 1) % len(h.entries)
		if h.next == 0 {
			h.full = true
		}
	}
}

// Len количество записей в буфере
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.full {
		return len(h.entries)
	}
	return h.next
}

// Recent возвращает до limit записей, новые первыми.
// Пустой resourceID означает все ресурсы, limit <= 0 означает без ограничения.
func (h *History) Recent(resourceID string, limit int) []domain.Action {
	h.mu.RLock()
	size := h.next
	if h.full {
		size = len(h.entries)
	}
	snapshot := make([]HistoryEntry, 0, size)
	// обходим от самой свежей записи к самой старой
	for i := 1; i <= size; i++ {
		idx := (h.next - i + len(h.entries)) % len(h.entries)
		e := h.entries[idx]
		if resourceID != "" && e.Action.ResourceID != resourceID {
			continue
		}
		snapshot = append(snapshot, e)
	}
	h.mu.RUnlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].EvaluatedAt.After(snapshot[j].EvaluatedAt)
	})

	if limit > 0 && len(snapshot) > limit {
		snapshot = snapshot[:limit]
	}

	out := make([]domain.Action, len(snapshot))
	for i, e := range snapshot {
		out[i] = e.Action
	}
	return out
}
