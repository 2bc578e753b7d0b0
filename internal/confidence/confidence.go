// Package confidence estimates how strongly a category is tied to a gate
// from observed scan counts.
package confidence

import "math"

const (
	// DefaultZ is the normal quantile used for binding confidence (95%
	// two-sided). With it a clean run of 15 scans clears the 0.75
	// enforcement floor.
	DefaultZ = 1.96

	// ZStrict is the one-sided 99% quantile. Thresholds calibrated for
	// DefaultZ are not reachable with small samples under ZStrict.
	ZStrict = 2.33
)

// WilsonLowerBound returns the lower bound of the Wilson score interval for
// k successes out of n trials at quantile z. It returns 0 when n is 0.
// The result is clamped to [0, 1].
func WilsonLowerBound(k, n int, z float64) float64 {
	if n <= 0 {
		return 0
	}
	if k < 0 {
		k = 0
	}
	if k > n {
		k = n
	}
	nf := float64(n)
	p := float64(k) / nf
	z2 := z * z

	center := p + z2/(2*nf)
	margin := z * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf))
	lb := (center - margin) / (1 + z2/nf)

	return math.Max(0, math.Min(1, lb))
}

// BindingRatio returns the confidence that a category belongs at a gate given
// sampleCount scans of that category and otherCount scans of other
// categories at the same gate.
func BindingRatio(sampleCount, otherCount int, z float64) float64 {
	return WilsonLowerBound(sampleCount, sampleCount+otherCount, z)
}

// Beta is a Beta(successes+1, failures+1) posterior over the binding ratio.
// It is kept beside the Wilson bound to flag bindings whose support erodes.
type Beta struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// NewBeta returns the posterior after the given observations with a uniform prior.
func NewBeta(successes, failures int) Beta {
	return Beta{Alpha: float64(successes) + 1, Beta: float64(failures) + 1}
}

// Mean returns the posterior mean.
func (b Beta) Mean() float64 {
	return b.Alpha / (b.Alpha + b.Beta)
}

// Degrading reports whether the mean fell by more than tolerance relative to
// a previously recorded mean. A zero previous mean means no history.
func Degrading(prevMean, mean, tolerance float64) bool {
	if prevMean <= 0 {
		return false
	}
	return prevMean-mean > tolerance
}
