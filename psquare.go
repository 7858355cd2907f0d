package synchmgr

import (
	"math"
)

// pSquareQuantile is a streaming quantile estimator, using the P-Square
// algorithm: O(1) per observation, five markers, no stored samples.
//
// Reference:
// Jain, R. and Chlamtac, I. (1985). "The P² Algorithm for Dynamic Calculation
// of Quantiles and Histograms Without Storing Observations". Communications
// of the ACM, 28(10), pp. 1076-1085.
//
// Thread Safety: NOT thread-safe. Caller must ensure synchronization.
type pSquareQuantile struct {
	q     [5]float64 // marker heights
	np    [5]float64 // desired marker positions
	dn    [5]float64 // desired position increments
	n     [5]int     // actual marker positions
	p     float64
	count int
}

func newPSquareQuantile(p float64) *pSquareQuantile {
	p = math.Min(math.Max(p, 0), 1)
	return &pSquareQuantile{
		p:  p,
		dn: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

// Update adds an observation.
func (ps *pSquareQuantile) Update(x float64) {
	if ps.count < 5 {
		ps.q[ps.count] = x
		ps.count++
		if ps.count == 5 {
			sortFive(&ps.q)
			for i := range ps.n {
				ps.n[i] = i
			}
			p := ps.p
			ps.np = [5]float64{0, 2 * p, 4 * p, 2 + 2*p, 4}
		}
		return
	}
	ps.count++

	var k int
	switch {
	case x < ps.q[0]:
		ps.q[0] = x
		k = 0
	case x >= ps.q[4]:
		ps.q[4] = x
		k = 3
	default:
		for k = 0; k < 3 && x >= ps.q[k+1]; k++ {
		}
	}

	for i := k + 1; i < 5; i++ {
		ps.n[i]++
	}
	for i := range ps.np {
		ps.np[i] += ps.dn[i]
	}

	for i := 1; i <= 3; i++ {
		d := ps.np[i] - float64(ps.n[i])
		if (d >= 1 && ps.n[i+1]-ps.n[i] > 1) || (d <= -1 && ps.n[i-1]-ps.n[i] < -1) {
			step := 1
			if d < 0 {
				step = -1
			}
			h := ps.parabolic(i, step)
			if ps.q[i-1] < h && h < ps.q[i+1] {
				ps.q[i] = h
			} else {
				ps.q[i] = ps.linear(i, step)
			}
			ps.n[i] += step
		}
	}
}

func (ps *pSquareQuantile) parabolic(i, d int) float64 {
	df := float64(d)
	n0, n1, n2 := float64(ps.n[i-1]), float64(ps.n[i]), float64(ps.n[i+1])
	return ps.q[i] + df/(n2-n0)*((n1-n0+df)*(ps.q[i+1]-ps.q[i])/(n2-n1)+
		(n2-n1-df)*(ps.q[i]-ps.q[i-1])/(n1-n0))
}

func (ps *pSquareQuantile) linear(i, d int) float64 {
	return ps.q[i] + float64(d)*(ps.q[i+d]-ps.q[i])/float64(ps.n[i+d]-ps.n[i])
}

// Quantile returns the current estimate.
func (ps *pSquareQuantile) Quantile() float64 {
	switch {
	case ps.count == 0:
		return 0
	case ps.count < 5:
		var v [5]float64
		copy(v[:], ps.q[:ps.count])
		for i := ps.count; i < 5; i++ {
			v[i] = math.Inf(1)
		}
		sortFive(&v)
		idx := int(ps.p * float64(ps.count-1))
		return v[idx]
	default:
		return ps.q[2]
	}
}

// Max returns the largest observation.
func (ps *pSquareQuantile) Max() float64 {
	if ps.count == 0 {
		return 0
	}
	if ps.count >= 5 {
		return ps.q[4]
	}
	m := ps.q[0]
	for _, v := range ps.q[1:ps.count] {
		m = math.Max(m, v)
	}
	return m
}

func sortFive(v *[5]float64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] < v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
}
