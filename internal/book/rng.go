package book

// Source yields uniform draws in [0, 1). Both the seeded LCG below and
// math/rand/v2's *rand.Rand satisfy it.
type Source interface {
	Float64() float64
}

// LCG constants. The modulus keeps the state exactly representable in a
// float64 for any seed the generator produces.
const (
	lcgMul = 9301
	lcgInc = 49297
	lcgMod = 233280
)

// LCG is a linear congruential generator over float64 state. It is seeded
// from the reference price, so a given (price, side) pair always replays the
// same draws.
type LCG struct {
	state float64
}

// NewLCG returns an LCG seeded with seed.
func NewLCG(seed float64) *LCG {
	return &LCG{state: seed}
}

// Float64 advances the generator and returns state/modulus.
func (g *LCG) Float64() float64 {
	// The explicit conversion stops the compiler from fusing the
	// multiply-add, which would change results on arm64.
	g.state = modFloat(float64(g.state*lcgMul)+lcgInc, lcgMod)
	return g.state / lcgMod
}

// seedFor derives the generation seed for a side. Bids and asks use
// different multipliers so the two ladders never share a sequence.
func seedFor(basePrice float64, bid bool) float64 {
	if bid {
		return basePrice
	}
	return basePrice * 2
}
