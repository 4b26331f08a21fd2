package predict

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSignature(t *testing.T) {
	cur := Sample{Utilization: 80, IRQCount: 1200, IOWait: 5, Runnable: 259}
	prev1 := Sample{Utilization: 60, IRQCount: 1000, IOWait: 7}
	prev2 := Sample{Utilization: 40, IRQCount: 1100, IOWait: 7}

	sig := NewSignature(cur, prev1, prev2)
	want := Signature{120, 120, 120, 90, 98, 100, 80, 5, 3}
	assert.Equal(t, want, sig)
}

func TestNewSignature_Clamped(t *testing.T) {
	cur := Sample{Utilization: 100, IRQCount: 100000}
	prev1 := Sample{Utilization: 0}
	prev2 := Sample{Utilization: 100, IRQCount: 100000}

	sig := NewSignature(cur, prev1, prev2)
	assert.Equal(t, byte(200), sig[0])
	assert.Equal(t, byte(0), sig[1], "large negative delta clamps to 0")
	assert.Equal(t, byte(255), sig[2], "large positive delta clamps to 255")
	assert.Equal(t, byte(0), sig[3])
	for i := 9; i < SignatureSize; i++ {
		assert.Zero(t, sig[i], "reserved byte %d", i)
	}
}

func TestMatch(t *testing.T) {
	var a Signature
	b := a
	b[0] = 0x7f // 7 бит
	c := a
	c[3] = 0xff // 8 бит

	assert.True(t, Match(a, a))
	assert.True(t, Match(a, b))
	assert.False(t, Match(a, c))
	assert.Equal(t, 7, a.Distance(b))
	assert.Equal(t, 8, a.Distance(c))
}

func TestMatch_ReflexiveAndSymmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		var a, b Signature
		rng.Read(a[:])
		b = a
		// несколько случайных перевёрнутых бит
		for k := rng.Intn(12); k > 0; k-- {
			b[rng.Intn(SignatureSize)] ^= 1 << uint(rng.Intn(8))
		}
		require.True(t, Match(a, a))
		require.Equal(t, Match(a, b), Match(b, a))
		require.Equal(t, a.Distance(b), b.Distance(a))
	}
}

func TestAdjust(t *testing.T) {
	m := NewModel(DefaultParams())
	for _, u := range []uint32{40, 60, 80} {
		m.Add(utilSample(u))
	}
	s, _ := m.History.Recent(3)
	sig := NewSignature(s[0], s[1], s[2])

	assert.Equal(t, 50, m.Adjust(50), "empty table")

	var far Signature
	for i := range far {
		far[i] = 0xff
	}
	m.patterns = append(m.patterns,
		Pattern{ID: 0, Weight: 100, TargetFreq: 10, Signature: far},
		Pattern{ID: 1, Weight: 50, TargetFreq: 90, Signature: sig},
		Pattern{ID: 2, Weight: 100, TargetFreq: 0, Signature: sig},
	)
	// первое совпадение по порядку таблицы, не лучшее
	assert.Equal(t, 70, m.Adjust(50))
	assert.Equal(t, 30, m.Adjust(-30), "negative base moves toward target")
}

func TestUpdatePatterns_NeedsHistory(t *testing.T) {
	m := NewModel(DefaultParams())
	for i := 0; i < minUpdateCount-1; i++ {
		m.Add(utilSample(uint32(i * 10)))
	}
	m.UpdatePatterns()
	assert.Zero(t, m.PatternCount())

	m.Add(utilSample(90))
	m.UpdatePatterns()
	assert.NotZero(t, m.PatternCount())
}

func TestUpdatePatterns_DecayAndEMA(t *testing.T) {
	m := NewModel(DefaultParams())
	for i := 0; i < 30; i++ {
		m.Add(Sample{Utilization: 50, Frequency: 2_000_000})
	}
	m.patterns = append(m.patterns, Pattern{
		ID:         7,
		Weight:     100,
		AvgUtil:    30,
		TargetFreq: 1_000_000,
		Signature:  NewSignature(Sample{Utilization: 50}, Sample{Utilization: 50}, Sample{Utilization: 50}),
	})
	m.nextID = 8

	m.UpdatePatterns()

	// позиции 3..19 — 17 совпадений с одним паттерном
	require.Equal(t, 1, m.PatternCount())
	p := m.Patterns()[0]
	assert.Equal(t, uint32(7), p.ID)

	weight, avg, target := uint32(100), uint32(30), uint32(1_000_000)
	for i := 0; i < 17; i++ {
		weight = (weight*95 + 5) / 100
		avg = (avg*90 + 50*10) / 100
		target = (target*90 + 2_000_000*10) / 100
	}
	assert.Equal(t, weight, p.Weight)
	assert.Equal(t, avg, p.AvgUtil)
	assert.Equal(t, target, p.TargetFreq)
	assert.Zero(t, p.Duration)
}

func TestUpdatePatterns_StableCompaction(t *testing.T) {
	m := NewModel(DefaultParams())
	// история, сигнатуры которой ни с чем в таблице не совпадают
	for i := 0; i < 12; i++ {
		m.Add(Sample{Runnable: 255, IOWait: 255, Utilization: 255})
	}
	var sigs [5]Signature
	for i := range sigs {
		sigs[i][10+i] = 0xff
	}
	m.patterns = append(m.patterns,
		Pattern{ID: 0, Weight: 11, Signature: sigs[0]},
		Pattern{ID: 1, Weight: 10, Signature: sigs[1]},
		Pattern{ID: 2, Weight: 90, Signature: sigs[2]},
		Pattern{ID: 3, Weight: 3, Signature: sigs[3]},
		Pattern{ID: 4, Weight: 55, Signature: sigs[4]},
	)
	m.nextID = 5

	m.UpdatePatterns()

	ids := []uint32{}
	for _, p := range m.Patterns() {
		ids = append(ids, p.ID)
	}
	// выжившие в исходном порядке, затем новый паттерн с очередным ID
	assert.Equal(t, []uint32{0, 2, 4, 5}, ids)
}

func TestUpdatePatterns_TableBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	m := NewModel(DefaultParams())
	for round := 0; round < 200; round++ {
		for i := 0; i < 25; i++ {
			m.Add(Sample{
				Utilization: uint32(rng.Intn(101)),
				Frequency:   uint32(rng.Intn(4_000_000)),
				IRQCount:    uint32(rng.Intn(50000)),
				IOWait:      uint32(rng.Intn(101)),
				Runnable:    uint32(rng.Intn(300)),
			})
		}
		m.UpdatePatterns()
		require.LessOrEqual(t, m.PatternCount(), MaxPatterns)
		for _, p := range m.Patterns() {
			require.Greater(t, p.Weight, uint32(evictWeight))
			require.LessOrEqual(t, p.Weight, uint32(100))
		}
	}
}

func TestUpdatePatterns_LearnsRepeatingCycle(t *testing.T) {
	cycle := []uint32{0, 20, 40, 60, 80}
	m := NewModel(DefaultParams())

	for rep := 0; rep < 40; rep++ {
		for _, u := range cycle {
			m.Add(utilSample(u))
			m.Predict()
			if m.Stats.PredictionsMade%100 != 0 {
				continue
			}
			m.UpdatePatterns()

			s, ok := m.History.Recent(3)
			require.True(t, ok)
			sig := NewSignature(s[0], s[1], s[2])

			var learned *Pattern
			for _, p := range m.Patterns() {
				if Match(p.Signature, sig) {
					p := p
					learned = &p
					break
				}
			}
			require.NotNil(t, learned, "after %d ticks", m.Stats.PredictionsMade)
			assert.Greater(t, learned.Weight, uint32(evictWeight))
			phase := uint32(learned.Signature[6])
			assert.Contains(t, cycle, phase, "signature utilization byte must be a cycle phase")
			assert.InDelta(t, float64(phase), float64(learned.AvgUtil), 5)
		}
	}
	assert.Equal(t, uint32(200), m.Stats.PredictionsMade)
}
