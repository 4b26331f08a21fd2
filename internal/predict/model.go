package predict

import "time"

// Значения параметров модели по умолчанию
const (
	DefaultAggressiveness   = 50
	DefaultLearningRate     = 10
	DefaultPredictionWindow = 100 * time.Millisecond

	// NeutralPrediction — прогноз при недостаточной истории
	NeutralPrediction = 50
	// minPredictHistory — минимум сэмплов для экстраполяции
	minPredictHistory = 5
)

// Params — настраиваемые параметры модели.
// LearningRate и PredictionWindow хранятся и настраиваются, но ни одной формулой не используются.
type Params struct {
	PredictionWindow time.Duration
	Aggressiveness   uint32 // 0–100, 50 — нейтрально
	LearningRate     uint32
}

// DefaultParams возвращает параметры по умолчанию
func DefaultParams() Params {
	return Params{
		PredictionWindow: DefaultPredictionWindow,
		Aggressiveness:   DefaultAggressiveness,
		LearningRate:     DefaultLearningRate,
	}
}

// Stats — счётчики модели.
// PredictionErrors и AvgPredictionError объявлены для совместимости интерфейса и не вычисляются.
type Stats struct {
	PredictionsMade    uint32
	PredictionErrors   uint32
	AvgPredictionError uint32
}

// Model — модель прогнозирования одного ядра. Не потокобезопасна:
// владелец (контроллер ядра) сериализует доступ своим мьютексом.
type Model struct {
	History  History
	Params   Params
	Stats    Stats
	patterns []Pattern
	nextID   uint32
}

// NewModel создаёт пустую модель с заданными параметрами
func NewModel(p Params) *Model {
	if p.Aggressiveness > 100 {
		p.Aggressiveness = 100
	}
	return &Model{
		Params:   p,
		patterns: make([]Pattern, 0, MaxPatterns),
	}
}

// Add добавляет сэмпл в историю
func (m *Model) Add(s Sample) {
	m.History.Append(s)
}

// Patterns возвращает копию таблицы паттернов (для телеметрии)
func (m *Model) Patterns() []Pattern {
	out := make([]Pattern, len(m.patterns))
	copy(out, m.patterns)
	return out
}

// PatternCount возвращает число паттернов в таблице
func (m *Model) PatternCount() int {
	return len(m.patterns)
}
