package stepdetect

import "math"

// goldenResult carries the minimizer found by goldenSearch together with
// the objective value there.
type goldenResult struct {
	X, F float64
}

// goldenSearch minimizes f on [a, b] by golden-section search. With
// expandBounds the interval is widened so that f is first evaluated at
// x=a and x=b themselves. The search stops on the interval tolerance
// xatol or the relative objective tolerance ftol, whichever hits first;
// when neither converges it still returns the best point seen, since the
// callers only need a rough minimum.
func goldenSearch(f func(float64) float64, a, b, xatol, ftol float64, expandBounds bool) goldenResult {
	ratio := 2 / (1 + math.Sqrt(5))

	x0, x3 := a, b
	if expandBounds {
		x0 = (ratio*a - (1-ratio)*b) / (2*ratio - 1)
		x3 = (ratio*b - (1-ratio)*a) / (2*ratio - 1)
	}

	x1 := ratio*x0 + (1-ratio)*x3
	x2 := (1-ratio)*x0 + ratio*x3

	f1 := f(x1)
	f2 := f(x2)

	f0 := math.Max(math.Abs(f1), math.Abs(f2))

	for math.Abs(x0-x3) >= xatol && math.Abs(f1-f2) >= ftol*f0 {
		if f2 < f1 {
			x0 = x1
			x1 = x2
			x2 = ratio*x1 + (1-ratio)*x3
			f1 = f2
			f2 = f(x2)
		} else {
			x3 = x2
			x2 = x1
			x1 = ratio*x2 + (1-ratio)*x0
			f2 = f1
			f1 = f(x1)
		}
	}

	if f2 < f1 {
		return goldenResult{X: x2, F: f2}
	}
	return goldenResult{X: x1, F: f1}
}

// residualSum returns the weighted sum of AR(1)-whitened residuals
// sum_i w_i * |e_i - rho*e_{i-1}| for the given segmentation, with the
// residual before the first sample taken as zero.
func residualSum(y, w []float64, seg Segmentation, rho float64) float64 {
	s := 0.0
	ePrev := 0.0
	l := 0
	for j, r := range seg.Right {
		v := seg.Values[j]
		for ; l < r; l++ {
			e := y[l] - v
			s += w[l] * math.Abs(e-rho*ePrev)
			ePrev = e
		}
	}
	return s
}

// autoGammaBest accumulates the lowest-objective segmentation seen
// across penalty trials.
type autoGammaBest struct {
	obj   float64
	gamma float64
	seg   Segmentation
}

// SolveAutoGamma fits the piecewise-constant model with an automatically
// selected penalty. Candidate gammas are generated by golden-section
// search on a log scale and scored with an information criterion
//
//	beta * (number of segments) + ln(sigma0 + residualSum(rho))
//
// where rho is a global AR(1) noise-correlation coefficient fitted by a
// nested golden-section search and sigma0 is a measurement-noise floor.
// The beta and sigma0 formulas are heuristics kept as-is from long use
// against real benchmark data, not derived quantities.
//
// Pass beta as NaN for the default 4 * ln(n) / n. Returns the best
// segmentation seen and the gamma that produced it.
func SolveAutoGamma(y, w []float64, beta float64) (Segmentation, float64) {
	n := len(y)
	if n == 0 {
		return Segmentation{}, 0
	}

	cm := NewCostModel(y, w)

	if math.IsNaN(beta) {
		beta = 4 * math.Log(float64(n)) / float64(n)
	}

	gamma0 := cm.Dist(0, n-1)
	if gamma0 == 0 {
		// All samples equal.
		gamma0 = 1
	}

	best := &autoGammaBest{obj: math.Inf(1)}

	objective := func(x float64) float64 {
		gamma := gamma0 * math.Exp(x)
		seg := SolvePottsApprox(cm, gamma, 1)

		rho := goldenSearch(func(r float64) float64 {
			return residualSum(y, w, seg, r)
		}, -1, 1, 0.05, 0, false)

		sigma0 := measurementFloor(seg)
		obj := beta*float64(len(seg.Right)) + math.Log(sigma0+residualSum(y, w, seg, rho.X))

		if obj < best.obj {
			best.obj = obj
			best.gamma = gamma
			best.seg = seg
		}
		return obj
	}

	// Scan gamma between roughly gamma0/(10n) and gamma0. The segment
	// count is close to monotone in gamma, which is what makes a 1-D
	// bracketing search workable here; an accurate minimum is not needed.
	a := math.Log(0.1 / float64(n))
	goldenSearch(objective, a, 0, 0.1*math.Abs(a), 0, true)

	return best.seg, best.gamma
}

// measurementFloor estimates the smallest meaningful residual scale for
// a segmentation, keeping the information criterion away from log(0) on
// noiseless data.
func measurementFloor(seg Segmentation) float64 {
	sigma0 := 0.0
	if len(seg.Right) > 2 {
		sigma0 = math.Inf(1)
		for j := 1; j < len(seg.Values); j++ {
			if d := math.Abs(seg.Values[j] - seg.Values[j-1]); d < sigma0 {
				sigma0 = d
			}
		}
		sigma0 *= 0.1
	} else {
		sigma0 = math.Inf(1)
		for _, v := range seg.Values {
			if a := math.Abs(v); a < sigma0 {
				sigma0 = a
			}
		}
		sigma0 *= 0.001
	}
	if sigma0 < 1e-300 || math.IsInf(sigma0, 1) {
		sigma0 = 1e-300
	}
	return sigma0
}
