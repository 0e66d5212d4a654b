package channel

import "sync"

// Пороги предупреждения о потерях.
const (
	LossMinSamples = 10
	LossThreshold  = 0.05
)

// LossMeter считает долю потерянных датаграмм среди всех приёмов.
// Нулевое значение готово к работе.
type LossMeter struct {
	mu     sync.Mutex
	total  int
	lost   int
	warned bool
}

// Received учитывает успешный приём.
func (m *LossMeter) Received() {
	m.mu.Lock()
	m.total++
	m.mu.Unlock()
}

// Lost учитывает потерю: усечённую или неотправленную датаграмму.
func (m *LossMeter) Lost() {
	m.mu.Lock()
	m.total++
	m.lost++
	m.mu.Unlock()
}

// Ratio возвращает долю потерь.
func (m *LossMeter) Ratio() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ratio()
}

func (m *LossMeter) ratio() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.lost) / float64(m.total)
}

// Check возвращает долю потерь и warn=true, если порог превышен впервые.
// Предупреждение снова возможно, когда доля опустится ниже порога.
func (m *LossMeter) Check() (ratio float64, warn bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ratio = m.ratio()
	if m.total <= LossMinSamples {
		return ratio, false
	}
	if ratio <= LossThreshold {
		m.warned = false
		return ratio, false
	}
	if m.warned {
		return ratio, false
	}
	m.warned = true
	return ratio, true
}
