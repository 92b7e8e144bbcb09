package stepdetect

import (
	"errors"
	"math"
	"sort"
)

// LaplacePosterior is the Bayesian posterior distribution of the
// location parameter beta for samples with Laplace-distributed noise and
// an improper 1/sigma prior on the noise scale:
//
//	p(beta | y) ~ [ sum_j w_j * |y_j - beta| ]^(-nu-1)
//
// up to normalization. The mode is the weighted median of the samples.
//
// At construction the samples are shifted to center the mode at zero and
// rescaled so the unnormalized density at the mode is exactly one, which
// keeps the piecewise-rational CDF integral away from overflow. The CDF
// is integrated analytically between the sorted sample breakpoints, with
// the running integral memoized per breakpoint since callers query it at
// increasing arguments.
type LaplacePosterior struct {
	mle   float64
	scale float64 // L1 deviation sum at the mode; 0 means degenerate
	nu    float64

	z      []float64 // sorted, shifted, rescaled samples
	w      []float64 // weights aligned with z
	wTotal float64
	pw     []float64 // pw[k] = sum of w[:k]
	pwz    []float64 // pwz[k] = sum of w[j]*z[j] for j < k

	cdfMemo []float64 // cdfMemo[k] = unnormalized CDF at z[k], filled lazily
	norm    float64   // total unnormalized mass, 0 until computed
}

// NewLaplacePosterior constructs the posterior with the default nu = n-1
// degrees of freedom. Weights may be nil for the unweighted case.
func NewLaplacePosterior(samples, weights []float64) (*LaplacePosterior, error) {
	return NewLaplacePosteriorDOF(samples, weights, float64(len(samples)-1))
}

// NewLaplacePosteriorDOF constructs the posterior with explicit degrees
// of freedom. dof must be positive unless all samples are equal.
func NewLaplacePosteriorDOF(samples, weights []float64, dof float64) (*LaplacePosterior, error) {
	n := len(samples)
	if n == 0 {
		return nil, ErrEmptyInput
	}
	if weights == nil {
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != n {
		return nil, errors.New("stepdetect: samples and weights length mismatch")
	}

	mle, err := WeightedMedian(samples, weights)
	if err != nil {
		return nil, err
	}

	scale := 0.0
	for i, v := range samples {
		scale += weights[i] * math.Abs(v-mle)
	}

	p := &LaplacePosterior{mle: mle, scale: scale, nu: dof}
	if scale == 0 {
		// All samples identical: step distribution at the MLE.
		return p, nil
	}
	if dof <= 0 {
		return nil, errors.New("stepdetect: degrees of freedom must be positive")
	}

	z := make([]float64, n)
	w := make([]float64, n)
	for i, v := range samples {
		z[i] = (v - mle) / scale
		w[i] = weights[i]
	}
	sort.Sort(&valueWeightSort{v: z, w: w})

	p.z = z
	p.w = w
	p.pw = make([]float64, n+1)
	p.pwz = make([]float64, n+1)
	for i := 0; i < n; i++ {
		p.pw[i+1] = p.pw[i] + w[i]
		p.pwz[i+1] = p.pwz[i] + w[i]*z[i]
	}
	p.wTotal = p.pw[n]
	return p, nil
}

// MLE returns the posterior mode, the weighted median of the samples.
func (p *LaplacePosterior) MLE() float64 { return p.mle }

// deviation returns sum_j w_j * |z_j - t| in rescaled coordinates.
// On interval k (between z[k-1] and z[k]) this is linear: a*t + b.
func (p *LaplacePosterior) segment(k int) (a, b float64) {
	a = 2*p.pw[k] - p.wTotal
	b = (p.pwz[len(p.z)] - p.pwz[k]) - p.pwz[k]
	return a, b
}

// integrate returns the integral of (a*t + b)^(-nu-1) over [t0, t1],
// where the linear form stays positive on the interval.
func (p *LaplacePosterior) integrate(a, b, t0, t1 float64) float64 {
	nu := p.nu
	if a == 0 {
		return math.Pow(b, -nu-1) * (t1 - t0)
	}
	s0 := math.Pow(a*t0+b, -nu)
	s1 := math.Pow(a*t1+b, -nu)
	return (s1 - s0) / (-nu * a)
}

// leftTail returns the integral from -infinity to t, with t at or below
// the first breakpoint.
func (p *LaplacePosterior) leftTail(t float64) float64 {
	a, b := p.segment(0)
	// a = -wTotal < 0, so the density vanishes toward -infinity.
	return math.Pow(a*t+b, -p.nu) / (p.nu * p.wTotal)
}

// fillMemo extends the per-breakpoint CDF memo through index k.
func (p *LaplacePosterior) fillMemo(k int) {
	if p.cdfMemo == nil {
		p.cdfMemo = make([]float64, 0, len(p.z))
	}
	for len(p.cdfMemo) <= k {
		i := len(p.cdfMemo)
		var g float64
		if i == 0 {
			g = p.leftTail(p.z[0])
		} else {
			a, b := p.segment(i)
			g = p.cdfMemo[i-1] + p.integrate(a, b, p.z[i-1], p.z[i])
		}
		p.cdfMemo = append(p.cdfMemo, g)
	}
}

// cdfUnnormed returns the unnormalized CDF at rescaled coordinate t.
func (p *LaplacePosterior) cdfUnnormed(t float64) float64 {
	k := sort.SearchFloat64s(p.z, t)
	if k == 0 {
		return p.leftTail(t)
	}
	p.fillMemo(k - 1)
	g := p.cdfMemo[k-1]
	if t > p.z[k-1] {
		a, b := p.segment(k)
		g += p.integrate(a, b, p.z[k-1], t)
	}
	return g
}

func (p *LaplacePosterior) normalization() float64 {
	if p.norm == 0 {
		n := len(p.z)
		p.fillMemo(n - 1)
		// Right tail mirrors the left one.
		sEnd := p.deviationAt(p.z[n-1])
		p.norm = p.cdfMemo[n-1] + math.Pow(sEnd, -p.nu)/(p.nu*p.wTotal)
	}
	return p.norm
}

func (p *LaplacePosterior) deviationAt(t float64) float64 {
	k := sort.SearchFloat64s(p.z, t)
	a, b := p.segment(k)
	return a*t + b
}

// CDF evaluates the cumulative distribution function at x.
func (p *LaplacePosterior) CDF(x float64) float64 {
	if p.scale == 0 {
		switch {
		case x < p.mle:
			return 0
		case x > p.mle:
			return 1
		default:
			return 0.5
		}
	}
	t := (x - p.mle) / p.scale
	return p.cdfUnnormed(t) / p.normalization()
}

// PDF evaluates the probability density function at x.
func (p *LaplacePosterior) PDF(x float64) float64 {
	if p.scale == 0 {
		if x == p.mle {
			return math.Inf(1)
		}
		return 0
	}
	t := (x - p.mle) / p.scale
	s := p.deviationAt(t)
	return math.Pow(s, -p.nu-1) / (p.normalization() * p.scale)
}

// PPF evaluates the inverse CDF at probability q by bisection.
func (p *LaplacePosterior) PPF(q float64) float64 {
	if q <= 0 {
		return math.Inf(-1)
	}
	if q >= 1 {
		return math.Inf(1)
	}
	if p.scale == 0 {
		return p.mle
	}

	lo := p.z[0] - 1
	hi := p.z[len(p.z)-1] + 1
	step := hi - lo
	for p.cdfUnnormed(lo)/p.normalization() > q {
		lo -= step
		step *= 2
	}
	step = hi - lo
	for p.cdfUnnormed(hi)/p.normalization() < q {
		hi += step
		step *= 2
	}

	norm := p.normalization()
	for i := 0; i < 200 && hi-lo > 1e-12*(1+math.Abs(lo)+math.Abs(hi)); i++ {
		mid := 0.5 * (lo + hi)
		if p.cdfUnnormed(mid)/norm < q {
			lo = mid
		} else {
			hi = mid
		}
	}
	return p.mle + p.scale*0.5*(lo+hi)
}
