package predict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utilSample(u uint32) Sample {
	return Sample{Utilization: u}
}

func TestHistory_Append(t *testing.T) {
	var h History
	assert.Equal(t, 0, h.Len())

	for i := uint32(1); i <= 3; i++ {
		h.Append(utilSample(i))
	}
	assert.Equal(t, 3, h.Len())

	s, ok := h.Recent(3)
	require.True(t, ok)
	assert.Equal(t, []uint32{3, 2, 1}, utilizations(s))
}

func TestHistory_Wraparound(t *testing.T) {
	var h History
	const total = HistorySize*2 + 37
	for i := uint32(0); i < total; i++ {
		h.Append(utilSample(i))
	}
	require.Equal(t, HistorySize, h.Len(), "count must saturate at capacity")

	s, ok := h.Recent(HistorySize)
	require.True(t, ok)
	for i, got := range s {
		assert.Equal(t, uint32(total-1-i), got.Utilization, "age %d", i)
	}
	_, ok = h.At(HistorySize)
	assert.False(t, ok)
}

func TestHistory_InsufficientHistory(t *testing.T) {
	var h History
	h.Append(utilSample(1))

	s, ok := h.Recent(2)
	assert.False(t, ok)
	assert.Nil(t, s)

	_, ok = h.At(-1)
	assert.False(t, ok)
	_, ok = h.At(1)
	assert.False(t, ok)
}

func TestHistory_Reset(t *testing.T) {
	var h History
	for i := uint32(0); i < 10; i++ {
		h.Append(utilSample(i))
	}
	h.Reset()
	assert.Equal(t, 0, h.Len())
	h.Append(utilSample(42))
	got, ok := h.At(0)
	require.True(t, ok)
	assert.Equal(t, uint32(42), got.Utilization)
}

func utilizations(s []Sample) []uint32 {
	out := make([]uint32, len(s))
	for i := range s {
		out[i] = s[i].Utilization
	}
	return out
}
