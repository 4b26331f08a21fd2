// Package governor — предиктивный governor частоты: решатель частоты, контур управления
// каждого ядра и реестр управляемых ядер.
package governor

import (
	"errors"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/predict"
)

// Relation — правило выбора допустимой частоты рядом с целевой
type Relation int

const (
	// RoundDown — наибольшая допустимая частота не выше целевой
	RoundDown Relation = iota
	// RoundUp — наименьшая допустимая частота не ниже целевой
	RoundUp
)

func (r Relation) String() string {
	switch r {
	case RoundDown:
		return "round-down"
	case RoundUp:
		return "round-up"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidPolicy — политика отсутствует или её лимиты некорректны
	ErrInvalidPolicy = errors.New("invalid frequency policy")
	// ErrAlreadyManaged — ядро уже под управлением governor
	ErrAlreadyManaged = errors.New("cpu already managed")
	// ErrNotManaged — ядро не под управлением governor
	ErrNotManaged = errors.New("cpu not managed")
)

// Policy — лимиты частоты одного ядра (все частоты в кГц)
type Policy interface {
	CPU() int
	MinFreq() uint32
	MaxFreq() uint32
	CurrentFreq() uint32
	// NearestLegal квантует target в поддерживаемую частоту в пределах [MinFreq, MaxFreq]
	NearestLegal(target uint32, rel Relation) uint32
}

// FrequencySetter применяет частоту к ядру. Ошибка не останавливает контур.
type FrequencySetter interface {
	SetFrequency(cpu int, freq uint32, rel Relation) error
}

// MetricSource отдаёт один сэмпл метрик ядра за такт
type MetricSource interface {
	Sample(cpu int) (predict.Sample, error)
}

func validatePolicy(p Policy) bool {
	if p == nil {
		return false
	}
	return p.MaxFreq() > 0 && p.MinFreq() <= p.MaxFreq()
}
