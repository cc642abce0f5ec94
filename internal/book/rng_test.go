package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLCG_Sequence(t *testing.T) {
	g := NewLCG(0)
	assert.InDelta(t, 49297.0/233280.0, g.Float64(), 1e-15)
	assert.InDelta(t, 165494.0/233280.0, g.Float64(), 1e-15)
}

func TestLCG_Range(t *testing.T) {
	g := NewLCG(12345.678)
	for i := 0; i < 10000; i++ {
		v := g.Float64()
		if v < 0 || v >= 1 {
			t.Fatalf("draw %d out of range: %v", i, v)
		}
	}
}

func TestLCG_Replay(t *testing.T) {
	a, b := NewLCG(3421.8), NewLCG(3421.8)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}
}

func TestSeedFor(t *testing.T) {
	assert.Equal(t, 10.0, seedFor(10, true))
	assert.Equal(t, 20.0, seedFor(10, false))
}
