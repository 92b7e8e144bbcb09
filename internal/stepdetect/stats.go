// Package stepdetect fits piecewise-constant models to noisy benchmark
// series and extracts statistically meaningful regressions from them.
//
// The segmentation is a weighted L1 Potts model: minimize
//
//	gamma * (number of segments) + sum_i w_i * |y_i - x_i|
//
// over piecewise-constant x. An exact dynamic-programming solver handles
// bounded windows, an approximate merge/perturb pass extends it to long
// series in roughly linear time, and an information-criterion search
// picks the penalty gamma automatically.
package stepdetect

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// Errors reported by the statistics primitives.
var (
	// ErrEmptyInput is returned when an estimator receives no samples.
	ErrEmptyInput = errors.New("stepdetect: empty input")

	// ErrInvalidQuantile is returned when a quantile argument is outside [0, 1].
	ErrInvalidQuantile = errors.New("stepdetect: quantile must be in [0, 1]")
)

// WeightedMedian returns the weighted median of values.
//
// Pairs are sorted by value and weight is accumulated until it exceeds
// half of the total. If the accumulated weight lands exactly on half,
// the two bracketing values are averaged.
func WeightedMedian(values, weights []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptyInput
	}
	if len(values) != len(weights) {
		return 0, errors.New("stepdetect: values and weights length mismatch")
	}
	v := make([]float64, len(values))
	w := make([]float64, len(weights))
	copy(v, values)
	copy(w, weights)
	sort.Sort(&valueWeightSort{v: v, w: w})
	return weightedMedianSorted(v, w), nil
}

// weightedMedianSorted computes the weighted median of pairs already
// sorted by value. The caller guarantees a non-empty input.
func weightedMedianSorted(v, w []float64) float64 {
	total := 0.0
	for _, ww := range w {
		total += ww
	}
	half := total / 2
	acc := 0.0
	for i := range v {
		acc += w[i]
		if acc > half {
			return v[i]
		}
		if acc == half {
			if i+1 < len(v) {
				return (v[i] + v[i+1]) / 2
			}
			return v[i]
		}
	}
	return v[len(v)-1]
}

type valueWeightSort struct {
	v, w []float64
}

func (s *valueWeightSort) Len() int           { return len(s.v) }
func (s *valueWeightSort) Less(i, j int) bool { return s.v[i] < s.v[j] }
func (s *valueWeightSort) Swap(i, j int) {
	s.v[i], s.v[j] = s.v[j], s.v[i]
	s.w[i], s.w[j] = s.w[j], s.w[i]
}

// Quantile computes the q-quantile of x by linear interpolation between
// order statistics at fractional rank (n-1)*q.
func Quantile(x []float64, q float64) (float64, error) {
	if q < 0 || q > 1 || math.IsNaN(q) {
		return 0, ErrInvalidQuantile
	}
	if len(x) == 0 {
		return 0, ErrEmptyInput
	}
	y := make([]float64, len(x))
	copy(y, x)
	sort.Float64s(y)

	z := float64(len(y)-1) * q
	j := int(math.Floor(z))
	z -= float64(j)

	if j >= len(y)-1 {
		return y[len(y)-1], nil
	}
	return (1-z)*y[j] + z*y[j+1], nil
}

// QuantileCI computes the q-quantile of x together with a nonparametric
// confidence interval of coverage at least minCoverage, using the
// binomial-tail method.
//
// The interval is deliberately pessimistic: when the sample is too small
// for an order statistic to bound a tail, the corresponding bound is
// reported as -Inf or +Inf and the caller must fall back to something
// else (see LaplacePosterior).
func QuantileCI(x []float64, q, minCoverage float64) (median float64, low, high float64, err error) {
	if q < 0 || q > 1 || math.IsNaN(q) {
		return 0, 0, 0, ErrInvalidQuantile
	}
	if len(x) == 0 {
		return 0, 0, 0, ErrEmptyInput
	}
	y := make([]float64, len(x))
	copy(y, x)
	sort.Float64s(y)
	n := len(y)

	alpha := minCoverage
	if 1-alpha < alpha {
		alpha = 1 - alpha
	}
	pa := alpha / 2
	pb := 1 - pa

	low = math.Inf(-1)
	high = math.Inf(1)

	binom := distuv.Binomial{N: float64(n), P: q}
	cdf := 0.0
	for k, yp := range y {
		cdf += binom.Prob(float64(k))
		if cdf <= pa {
			if k < n-1 {
				low = 0.5 * (yp + y[k+1])
			} else {
				low = yp
			}
		}
		if cdf >= pb {
			if k > 0 {
				high = 0.5 * (yp + y[k-1])
			} else {
				high = yp
			}
			break
		}
	}

	median, err = Quantile(y, q)
	if err != nil {
		return 0, 0, 0, err
	}
	return median, low, high, nil
}

// SampleStats summarizes a set of repeated measurements of one quantity.
type SampleStats struct {
	// Median is the sample median, the representative value.
	Median float64

	// CILow and CIHigh bound a conservative 99% confidence interval for
	// the median. Always finite for n > 1.
	CILow, CIHigh float64

	// N is the sample size.
	N int
}

// Weight returns the inverse half-width of the confidence interval,
// suitable as a relative precision weight for the step solver. Returns 1
// when the interval is degenerate.
func (s SampleStats) Weight() float64 {
	hw := (s.CIHigh - s.CILow) / 2
	if hw > 0 && !math.IsInf(hw, 0) {
		return 1 / hw
	}
	return 1
}

// ComputeStats computes the median of samples and a 99% confidence
// interval for it. When the nonparametric interval is unbounded (small
// samples) and n > 1, it falls back to the credible interval of the
// Laplace-noise posterior, widened to cover the sample range.
func ComputeStats(samples []float64) (SampleStats, error) {
	if len(samples) == 0 {
		return SampleStats{}, ErrEmptyInput
	}
	if len(samples) == 1 {
		v := samples[0]
		return SampleStats{Median: v, CILow: v, CIHigh: v, N: 1}, nil
	}

	m, lo, hi, err := QuantileCI(samples, 0.5, 0.99)
	if err != nil {
		return SampleStats{}, err
	}

	if math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		post, err := NewLaplacePosterior(samples, nil)
		if err != nil {
			return SampleStats{}, err
		}
		lo = post.PPF(0.005)
		hi = post.PPF(0.995)
		for _, v := range samples {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}

	return SampleStats{Median: m, CILow: lo, CIHigh: hi, N: len(samples)}, nil
}

// FilterOutliers returns a copy of y where up to a few isolated points
// lying outside the 2-sigma range have been replaced with NaN, provided
// they sit between points inside the range. Series shorter than 5 valid
// points are returned unchanged.
func FilterOutliers(y []float64) []float64 {
	out := make([]float64, len(y))
	copy(out, y)

	sum := 0.0
	sum2 := 0.0
	n := 0
	for _, v := range y {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		sum2 += v * v
		n++
	}
	if n < 5 {
		return out
	}
	mean := sum / float64(n)
	std := math.Sqrt(math.Abs(sum2/float64(n) - mean*mean))

	inRange := func(lo, hi int) bool {
		best := math.Inf(1)
		for k := lo; k <= hi; k++ {
			if k < 0 || k >= len(y) || math.IsNaN(y[k]) {
				continue
			}
			if d := math.Abs(y[k] - mean); d < best {
				best = d
			}
		}
		return best < 2*std
	}

	for j, v := range y {
		if math.IsNaN(v) || math.Abs(v-mean) <= 2*std {
			continue
		}
		leftOK := j < 3 || inRange(j-3, j)
		rightOK := j > len(y)-3 || inRange(j, j+3)
		if leftOK && rightOK {
			out[j] = math.NaN()
		}
	}
	return out
}
