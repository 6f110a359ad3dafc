package simrt

import "math"

// Prng is a seeded deterministic random source (spec.md §4.1, C1). The
// algorithm is SplitMix64, fixed for the lifetime of this package: its
// output depends only on the seed and the sequence of draws and forks
// applied to it, never on wall time or goroutine scheduling.
//
// A Prng is not safe for concurrent use. Tasks that need randomness obtain
// their own forked handle at spawn time (spec.md §5) rather than sharing one
// across goroutines.
type Prng struct {
	state uint64
}

// NewPrng constructs a Prng from a seed.
func NewPrng(seed uint64) *Prng {
	return &Prng{state: seed}
}

// NextUint64 advances the stream and returns the next 64-bit output.
func (p *Prng) NextUint64() uint64 {
	p.state += 0x9e3779b97f4a7c15
	z := p.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// NextFloat64 returns a draw uniformly distributed in [0, 1).
func (p *Prng) NextFloat64() float64 {
	// 53 bits of mantissa precision, matching the standard
	// draw-top-53-bits-then-scale construction for a uniform float64.
	return float64(p.NextUint64()>>11) * (1.0 / (1 << 53))
}

// Fork derives an independent child stream: child_seed = mix(next_u64()) of
// the parent (spec.md §4.1). The parent's subsequent draws are unaffected by
// anything the child does afterward — Fork consumes exactly one parent draw
// and nothing more.
func (p *Prng) Fork() *Prng {
	return &Prng{state: splitmix64Mix(p.NextUint64())}
}

// splitmix64Mix is SplitMix64's recommended splitter, applied to derive a
// child seed from a parent draw without reusing the parent's increment
// state directly.
func splitmix64Mix(seed uint64) uint64 {
	z := seed + 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// GenRange returns a uniformly distributed integer in [lo, hi) via unbiased
// rejection sampling. Panics if hi <= lo.
func (p *Prng) GenRange(lo, hi int64) int64 {
	if hi <= lo {
		panic("simrt: GenRange requires hi > lo")
	}
	span := uint64(hi - lo)
	// Rejection sampling: reject draws that would bias the modulo toward the
	// low end of the range.
	limit := math.MaxUint64 - math.MaxUint64%span
	for {
		v := p.NextUint64()
		if v < limit {
			return lo + int64(v%span)
		}
	}
}

// SampleExponential draws from an exponential distribution with rate
// parameter lambda, via inverse-CDF sampling against NextFloat64 (spec.md
// §4.1). Used by fault injectors to schedule latency deadlines.
func (p *Prng) SampleExponential(lambda float64) float64 {
	// Avoid log(0) when the draw lands on the [0,1) boundary.
	u := 1 - p.NextFloat64()
	return -math.Log(u) / lambda
}
