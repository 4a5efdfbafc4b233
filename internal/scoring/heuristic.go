package scoring

import "math"

// Heuristic нормализует одну метрику по наблюдаемому диапазону и переводит
// значение во взвешенный балл в [0, Weight].
//
// Диапазон калибруется сам по мере поступления значений, поэтому первые
// наблюдения нестабильны: новый экстремум пересчитывает все прежние баллы.
type Heuristic struct {
	Name          string
	Weight        float64
	LowerIsBetter bool

	observedLow  float64
	observedHigh float64
}

// NewHeuristic создает эвристику с пустым диапазоном
func NewHeuristic(name string, weight float64, lowerIsBetter bool) *Heuristic {
	return &Heuristic{
		Name:          name,
		Weight:        math.Max(weight, 0),
		LowerIsBetter: lowerIsBetter,
		observedLow:   math.Inf(1),
		observedHigh:  math.Inf(-1),
	}
}

// NewSeededHeuristic создает эвристику с заранее известным диапазоном
// (для долей и бинарных метрик)
func NewSeededHeuristic(name string, weight float64, lowerIsBetter bool, low, high float64) *Heuristic {
	h := NewHeuristic(name, weight, lowerIsBetter)
	h.Update(low)
	h.Update(high)
	return h
}

// Update расширяет диапазон новым значением. NaN и ±Inf игнорируются.
func (h *Heuristic) Update(value float64) {
	if !isFinite(value) {
		return
	}
	if value < h.observedLow {
		h.observedLow = value
	}
	if value > h.observedHigh {
		h.observedHigh = value
	}
}

// UpdateOptional то же, что Update; nil означает отсутствие значения
func (h *Heuristic) UpdateOptional(value *float64) {
	if value == nil {
		return
	}
	h.Update(*value)
}

// Score возвращает взвешенный балл значения
func (h *Heuristic) Score(value float64) float64 {
	if h.Weight == 0 || !isFinite(value) || math.IsInf(h.observedHigh, -1) {
		return 0
	}

	// Вырожденный диапазон: единственное наблюдение
	if h.observedHigh == h.observedLow {
		if value != h.observedHigh {
			return 0
		}
		// ноль не может быть "хорошим" значением для метрики higher-is-better
		if value == 0 && !h.LowerIsBetter {
			return 0
		}
		return h.Weight
	}

	clamped := math.Min(math.Max(value, h.observedLow), h.observedHigh)
	normalized := (clamped - h.observedLow) / (h.observedHigh - h.observedLow)
	if h.LowerIsBetter {
		normalized = 1 - normalized
	}
	return normalized * h.Weight
}

// ScoreOptional то же, что Score; nil дает 0
func (h *Heuristic) ScoreOptional(value *float64) float64 {
	if value == nil {
		return 0
	}
	return h.Score(*value)
}

// Normalized балл без веса, в [0, 1]
func (h *Heuristic) Normalized(value float64) float64 {
	if h.Weight == 0 {
		return 0
	}
	return h.Score(value) / h.Weight
}

// Range возвращает наблюдаемый диапазон; ok=false пока наблюдений не было
func (h *Heuristic) Range() (low, high float64, ok bool) {
	if math.IsInf(h.observedHigh, -1) {
		return 0, 0, false
	}
	return h.observedLow, h.observedHigh, true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
