package predict

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

const (
	// MaxPatterns — ёмкость таблицы паттернов
	MaxPatterns = 20
	// SignatureSize — размер сигнатуры в байтах (128 бит)
	SignatureSize = 16
	// MatchDistance — сигнатуры совпадают, если расстояние Хэмминга меньше этого значения
	MatchDistance = 8

	initialWeight  = 100
	evictWeight    = 10 // паттерны с весом <= evictWeight удаляются при перекластеризации
	minUpdateCount = 10
	scanFrom       = 3
	scanTo         = 20
	deltaBias      = 100
)

// Signature — квантованная сигнатура формы нагрузки по трём последовательным сэмплам.
// Байты 9–15 зарезервированы и равны нулю.
type Signature [SignatureSize]byte

// Pattern — выученный паттерн нагрузки.
// Weight — убывающая уверенность 0–100, не счётчик. Duration не обновляется (зарезервировано).
type Pattern struct {
	ID         uint32    `json:"id"`
	Weight     uint32    `json:"weight"`
	Duration   uint32    `json:"duration"`
	AvgUtil    uint32    `json:"avg_util"`
	TargetFreq uint32    `json:"target_freq"`
	Signature  Signature `json:"signature"`
}

// NewSignature строит сигнатуру по сэмплам cur, prev1, prev2 (от новых к старым):
// смещённые и ограниченные [0,255] приращения загрузки, прерываний (/10) и iowait,
// затем загрузка, iowait и runnable mod 256 текущего сэмпла.
func NewSignature(cur, prev1, prev2 Sample) Signature {
	var sig Signature
	sig[0] = biased(delta(cur.Utilization, prev1.Utilization))
	sig[1] = biased(delta(prev1.Utilization, prev2.Utilization))
	sig[2] = biased(delta(cur.IRQCount, prev1.IRQCount) / 10)
	sig[3] = biased(delta(prev1.IRQCount, prev2.IRQCount) / 10)
	sig[4] = biased(delta(cur.IOWait, prev1.IOWait))
	sig[5] = biased(delta(prev1.IOWait, prev2.IOWait))
	sig[6] = byte(clamp(int64(cur.Utilization), 0, 255))
	sig[7] = byte(clamp(int64(cur.IOWait), 0, 255))
	sig[8] = byte(cur.Runnable % 256)
	return sig
}

// Distance возвращает расстояние Хэмминга между сигнатурами
func (s Signature) Distance(o Signature) int {
	d := 0
	for i := range s {
		d += bits.OnesCount8(s[i] ^ o[i])
	}
	return d
}

// Match сообщает, совпадают ли сигнатуры (расстояние < MatchDistance)
func Match(a, b Signature) bool {
	return a.Distance(b) < MatchDistance
}

// Adjust подтягивает базовый прогноз к TargetFreq первого совпавшего паттерна
// пропорционально его весу. Без совпадения возвращает base.
func (m *Model) Adjust(base int) int {
	if len(m.patterns) == 0 {
		return base
	}
	s, ok := m.History.Recent(3)
	if !ok {
		return base
	}
	sig := NewSignature(s[0], s[1], s[2])
	for i := range m.patterns {
		p := &m.patterns[i]
		if Match(p.Signature, sig) {
			adjustment := int64(p.TargetFreq) - int64(base)
			return base + int(adjustment*int64(p.Weight)/100)
		}
	}
	return base
}

// UpdatePatterns — перекластеризация по последним сэмплам истории.
// Совпавший паттерн: вес (w*95+5)/100, средняя загрузка и целевая частота — EMA 90/10.
// Новая сигнатура добавляется, пока в таблице есть место. В конце паттерны
// с весом <= 10 удаляются с сохранением порядка остальных.
func (m *Model) UpdatePatterns() {
	count := m.History.Len()
	if count < minUpdateCount {
		return
	}
	// i — позиция от новых к старым (1 — самый свежий), age = i-1
	for i := scanFrom; i < count && i < scanTo; i++ {
		age := i - 1
		cur, _ := m.History.At(age)
		prev1, ok1 := m.History.At(age + 1)
		prev2, ok2 := m.History.At(age + 2)
		if !ok1 || !ok2 {
			break
		}
		sig := NewSignature(cur, prev1, prev2)

		found := false
		for j := range m.patterns {
			p := &m.patterns[j]
			if !Match(p.Signature, sig) {
				continue
			}
			p.Weight = (p.Weight*95 + 5) / 100
			p.AvgUtil = ema(p.AvgUtil, cur.Utilization)
			p.TargetFreq = ema(p.TargetFreq, cur.Frequency)
			found = true
			break
		}
		if !found && len(m.patterns) < MaxPatterns {
			m.patterns = append(m.patterns, Pattern{
				ID:         m.nextID,
				Weight:     initialWeight,
				AvgUtil:    cur.Utilization,
				TargetFreq: cur.Frequency,
				Signature:  sig,
			})
			m.nextID++
		}
	}
	m.compact()
}

// compact удаляет паттерны с весом <= evictWeight, сохраняя порядок остальных
func (m *Model) compact() {
	n := 0
	for i := range m.patterns {
		if m.patterns[i].Weight > evictWeight {
			if n != i {
				m.patterns[n] = m.patterns[i]
			}
			n++
		}
	}
	m.patterns = m.patterns[:n]
}

func ema(old, sample uint32) uint32 {
	return uint32((uint64(old)*90 + uint64(sample)*10) / 100)
}

func delta(a, b uint32) int64 {
	return int64(a) - int64(b)
}

func biased(d int64) byte {
	return byte(clamp(d+deltaBias, 0, 255))
}

func clamp[T constraints.Integer](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
