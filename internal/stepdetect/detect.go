package stepdetect

import "math"

// Step is one segment of the piecewise-constant fit, in original series
// coordinates. Left is inclusive, Right exclusive. Value is the weighted
// median of the segment, Min the smallest sample in it, and Err the mean
// weighted absolute deviation, used downstream as the segment's noise
// estimate.
type Step struct {
	Left  int     `json:"left"`
	Right int     `json:"right"`
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Err   float64 `json:"err"`
}

// DetectSteps fits a piecewise-constant model to a benchmark series with
// an automatically selected penalty and returns the fitted steps.
//
// NaN samples mark missing or skipped measurements and are dropped,
// with step bounds mapped back to the original indices afterward, so
// steps may leave gaps where data is missing but never overlap.
//
// weights gives the relative precision of each sample (typically the
// inverse width of its measurement confidence interval) and may be nil.
// Weights that are NaN or infinite are replaced by the median of the
// valid weights (or 1 if there are none); zero or negative weights mark
// the sample as missing.
func DetectSteps(y []float64, weights []float64) []Step {
	fill := 1.0
	if weights != nil {
		valid := make([]float64, 0, len(weights))
		for _, w := range weights {
			if !math.IsNaN(w) && !math.IsInf(w, 0) {
				valid = append(valid, w)
			}
		}
		if len(valid) > 0 {
			if m, err := Quantile(valid, 0.5); err == nil {
				fill = m
			}
		}
	}

	indexMap := make([]int, 0, len(y))
	yf := make([]float64, 0, len(y))
	wf := make([]float64, 0, len(y))
	for i, v := range y {
		if math.IsNaN(v) {
			continue
		}
		w := 1.0
		if weights != nil {
			w = weights[i]
			if math.IsNaN(w) || math.IsInf(w, 0) {
				w = fill
			}
		}
		if w <= 0 {
			continue
		}
		indexMap = append(indexMap, i)
		yf = append(yf, v)
		wf = append(wf, w)
	}

	if len(yf) == 0 {
		return nil
	}

	seg, _ := SolveAutoGamma(yf, wf, math.NaN())

	steps := make([]Step, 0, len(seg.Right))
	l := 0
	for j, r := range seg.Right {
		min := yf[l]
		for _, v := range yf[l+1 : r] {
			if v < min {
				min = v
			}
		}
		steps = append(steps, Step{
			Left:  indexMap[l],
			Right: indexMap[r-1] + 1,
			Value: seg.Values[j],
			Min:   min,
			Err:   seg.Dists[j] / float64(r-l),
		})
		l = r
	}
	return steps
}

// Regression is one upward step in a series that was not explained away
// by a later return to the previous level. Before and After are the
// original indices of the last known-good and first known-bad samples.
// Value is the fitted value right after the jump and Best the best
// fitted value seen after it.
type Regression struct {
	Before int     `json:"before"`
	After  int     `json:"after"`
	Value  float64 `json:"value"`
	Best   float64 `json:"best"`
}

// RegressionReport is the outcome of scanning a step fit for
// regressions.
type RegressionReport struct {
	// LatestValue is the fitted value of the most recent step.
	LatestValue float64 `json:"latest_value"`

	// BestValue is the lowest fitted value seen over the series.
	BestValue float64 `json:"best_value"`

	// Regressions lists the surviving upward jumps in chronological
	// order.
	Regressions []Regression `json:"regressions"`
}

// DetectRegressions walks a step fit backward looking for upward jumps,
// under the convention that larger values are worse. A jump counts only
// when it exceeds the local noise estimate and the caller's relative
// threshold; jumps onto segments shorter than minSize are kept
// provisionally and retracted if the level before the short segment
// explains the older data too. Returns nil when no step stands out.
func DetectRegressions(steps []Step, threshold float64, minSize int) *RegressionReport {
	if len(steps) == 0 {
		return nil
	}

	last := steps[len(steps)-1]
	latest := last.Value
	bestValue := last.Value

	// trackedV is the best (lowest) fitted value over the steps scanned
	// so far, moved only when a jump fires so noise cannot drift it.
	trackedV := last.Value
	trackedErr := last.Err

	// Pending short-segment jump: the tracked level before it fired,
	// kept so the jump can be retracted.
	type baseline struct {
		v, err float64
	}
	var shortBase *baseline

	var events []Regression

	for i := len(steps) - 2; i >= 0; i-- {
		cur := steps[i]
		next := steps[i+1]
		step := math.Max(cur.Err, math.Max(trackedErr, threshold*cur.Value))

		if shortBase != nil {
			retract := math.Max(cur.Err, math.Max(shortBase.err, threshold*cur.Value))
			if cur.Value+retract >= shortBase.v {
				// The older data is no better than the level before the
				// short dip: the dip was an outlier, not a good era.
				events = events[:len(events)-1]
				trackedV = shortBase.v
				trackedErr = shortBase.err
				shortBase = nil
				// Re-evaluate this step against the restored level.
				step = math.Max(cur.Err, math.Max(trackedErr, threshold*cur.Value))
			}
		}

		if cur.Value+step < trackedV {
			// The series was significantly better here than at any
			// point since: an uncancelled upward jump sits at this
			// step's right edge.
			events = append(events, Regression{
				Before: cur.Right - 1,
				After:  next.Left,
				Value:  next.Value,
				Best:   trackedV,
			})
			if cur.Right-cur.Left < minSize {
				shortBase = &baseline{v: trackedV, err: trackedErr}
			} else {
				shortBase = nil
			}
			trackedV = cur.Value
			trackedErr = cur.Err
		}

		if cur.Value < bestValue {
			bestValue = cur.Value
		}
	}

	if len(events) == 0 {
		return nil
	}

	// The scan collected events newest-first; report them in series
	// order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return &RegressionReport{
		LatestValue: latest,
		BestValue:   bestValue,
		Regressions: events,
	}
}
