package governor

import "github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/predict"

// TargetFrequency переводит прогноз загрузки в частоту в пределах политики.
// Агрессивность выше 50 усиливает загрузку, ниже 50 ослабляет её пропорционально;
// результат квантуется вниз до допустимой частоты.
func TargetFrequency(p Policy, util uint32, params predict.Params) uint32 {
	adjusted := int64(util)
	a := int64(params.Aggressiveness)
	switch {
	case a > 50:
		adjusted += (a - 50) * adjusted / 100
	case a < 50:
		adjusted = adjusted * a / 50
	}
	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > 100 {
		adjusted = 100
	}

	minFreq, maxFreq := int64(p.MinFreq()), int64(p.MaxFreq())
	target := minFreq + (maxFreq-minFreq)*adjusted/100
	return p.NearestLegal(uint32(target), RoundDown)
}
