package simrt

import (
	"math"
)

// quantileEstimator implements the P² algorithm for streaming quantile
// estimation over virtual-time Durations, adapted from the teacher's
// eventloop.pSquareQuantile (which tracked plain float64 task latencies) to
// this package's Duration type directly, so RuntimeMetrics never has to
// round-trip through a bare float64 at the call site. O(1) per observation
// and O(1) quantile retrieval, vs. O(n log n) for sorting-based approaches.
//
// Reference: Jain, R. and Chlamtac, I. (1985). "The P² Algorithm for
// Dynamic Calculation of Quantiles and Histograms Without Storing
// Observations". Communications of the ACM, 28(10), pp. 1076-1085.
//
// Not safe for concurrent use; RuntimeMetrics carries no locks at all
// (spec.md §5 — only one goroutine is ever logically active).
type quantileEstimator struct {
	// p is the target quantile (0.0 to 1.0)
	p float64

	// q stores the 5 marker heights, in nanoseconds
	q [5]float64

	// n stores the 5 marker positions (actual positions, 0-indexed)
	n [5]int

	// np stores the 5 desired marker positions (idealized, floats)
	np [5]float64

	// dn stores the increments for desired marker positions
	dn [5]float64

	// count is the total number of observations received
	count int

	// initBuffer stores first 5 observations before the algorithm starts
	initBuffer [5]Duration
}

// newQuantileEstimator creates an estimator for quantile p, p in [0, 1].
func newQuantileEstimator(p float64) *quantileEstimator {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	return &quantileEstimator{
		p:  p,
		dn: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

// Update adds an observation. O(1).
func (e *quantileEstimator) Update(x Duration) {
	e.count++

	if e.count <= 5 {
		e.initBuffer[e.count-1] = x
		if e.count == 5 {
			e.initialize()
		}
		return
	}

	xf := float64(x)
	var k int
	if xf < e.q[0] {
		e.q[0] = xf
		k = 0
	} else if xf >= e.q[4] {
		e.q[4] = xf
		k = 3
	} else {
		for k = 0; k < 4; k++ {
			if e.q[k] <= xf && xf < e.q[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		e.n[i]++
	}

	for i := 0; i < 5; i++ {
		e.np[i] += e.dn[i]
	}

	for i := 1; i < 4; i++ {
		d := e.np[i] - float64(e.n[i])
		if (d >= 1 && e.n[i+1]-e.n[i] > 1) || (d <= -1 && e.n[i-1]-e.n[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}

			qPrime := e.parabolic(i, sign)
			if e.q[i-1] < qPrime && qPrime < e.q[i+1] {
				e.q[i] = qPrime
			} else {
				e.q[i] = e.linear(i, sign)
			}
			e.n[i] += sign
		}
	}
}

// initialize sets up the markers from the first 5 observations.
func (e *quantileEstimator) initialize() {
	sorted := e.initBuffer
	for i := 1; i < 5; i++ {
		key := sorted[i]
		j := i - 1
		for j >= 0 && sorted[j] > key {
			sorted[j+1] = sorted[j]
			j--
		}
		sorted[j+1] = key
	}

	for i := 0; i < 5; i++ {
		e.q[i] = float64(sorted[i])
		e.n[i] = i
	}

	e.np = [5]float64{0, 2 * e.p, 4 * e.p, 2 + 2*e.p, 4}
}

// parabolic computes the P² parabolic adjustment formula.
func (e *quantileEstimator) parabolic(i, d int) float64 {
	df := float64(d)
	ni := float64(e.n[i])
	niPrev := float64(e.n[i-1])
	niNext := float64(e.n[i+1])

	term1 := df / (niNext - niPrev)
	term2 := (ni - niPrev + df) * (e.q[i+1] - e.q[i]) / (niNext - ni)
	term3 := (niNext - ni - df) * (e.q[i] - e.q[i-1]) / (ni - niPrev)

	return e.q[i] + term1*(term2+term3)
}

// linear computes the P² linear adjustment formula.
func (e *quantileEstimator) linear(i, d int) float64 {
	if d == 1 {
		return e.q[i] + (e.q[i+1]-e.q[i])/float64(e.n[i+1]-e.n[i])
	}
	return e.q[i] - (e.q[i]-e.q[i-1])/float64(e.n[i]-e.n[i-1])
}

// Quantile returns the current estimate. O(1).
func (e *quantileEstimator) Quantile() Duration {
	if e.count == 0 {
		return 0
	}

	if e.count < 5 {
		sorted := e.initBuffer
		n := e.count
		for i := 1; i < n; i++ {
			key := sorted[i]
			j := i - 1
			for j >= 0 && sorted[j] > key {
				sorted[j+1] = sorted[j]
				j--
			}
			sorted[j+1] = key
		}
		index := int(float64(n-1) * e.p)
		if index >= n {
			index = n - 1
		}
		return sorted[index]
	}

	return Duration(e.q[2])
}

// Count returns the number of observations received.
func (e *quantileEstimator) Count() int {
	return e.count
}

// multiQuantileEstimator tracks several quantiles of the same stream of
// Durations at once, each via its own quantileEstimator.
//
// Not safe for concurrent use.
type multiQuantileEstimator struct {
	estimators []*quantileEstimator
	sum        Duration
	count      int
	max        Duration
}

// newMultiQuantileEstimator creates an estimator for each of percentiles,
// each in [0, 1].
func newMultiQuantileEstimator(percentiles ...float64) *multiQuantileEstimator {
	m := &multiQuantileEstimator{
		estimators: make([]*quantileEstimator, len(percentiles)),
		max:        math.MinInt64,
	}
	for i, p := range percentiles {
		m.estimators[i] = newQuantileEstimator(p)
	}
	return m
}

// Update adds an observation to every tracked quantile. O(k).
func (m *multiQuantileEstimator) Update(x Duration) {
	m.count++
	m.sum += x
	if x > m.max {
		m.max = x
	}
	for _, est := range m.estimators {
		est.Update(x)
	}
}

// Quantile returns the i-th percentile's current estimate.
func (m *multiQuantileEstimator) Quantile(i int) Duration {
	if i < 0 || i >= len(m.estimators) {
		return 0
	}
	return m.estimators[i].Quantile()
}

// Count returns the total number of observations.
func (m *multiQuantileEstimator) Count() int {
	return m.count
}

// Sum returns the sum of all observations.
func (m *multiQuantileEstimator) Sum() Duration {
	return m.sum
}

// Max returns the maximum observed value.
func (m *multiQuantileEstimator) Max() Duration {
	if m.count == 0 {
		return 0
	}
	return m.max
}

// Mean returns the arithmetic mean of all observations.
func (m *multiQuantileEstimator) Mean() Duration {
	if m.count == 0 {
		return 0
	}
	return Duration(int64(m.sum) / int64(m.count))
}
