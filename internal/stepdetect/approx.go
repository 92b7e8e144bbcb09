package stepdetect

import "math"

// SolvePottsApprox fits the penalized piecewise-constant model in
// roughly linear time: run the exact solver with a small maximum
// segment size, then repair the result by merging adjacent segments and
// nudging boundaries. The result is a valid contiguous segmentation,
// locally irreducible under merge and shift moves but not guaranteed
// globally optimal.
//
// Pass gamma as NaN to use the default 3 * Dist(0,n-1) * ln(n) / n.
func SolvePottsApprox(cm CostModel, gamma float64, minSize int) Segmentation {
	n := cm.Len()
	if n == 0 {
		return Segmentation{}
	}
	if minSize <= 0 {
		minSize = 1
	}
	if math.IsNaN(gamma) {
		gamma = 3 * cm.Dist(0, n-1) * math.Log(float64(n)) / float64(n)
	}

	// Cap the window so the exact solver stays O(window^2) per position
	// regardless of n. Segments longer than the cap are recovered by the
	// merge pass.
	maxSize := 20
	if minSize >= 10 {
		maxSize = minSize + 50
	}

	seg := SolvePotts(cm, gamma, SolveOptions{MinSize: minSize, MaxSize: maxSize})
	return mergePieces(cm, gamma, seg.Right, maxSize)
}

// mergePieces combines consecutive segments when that strictly lowers
// the objective, then perturbs the surviving boundaries to undo the bias
// introduced by the window cap, and finally recomputes values and costs.
func mergePieces(cm CostModel, gamma float64, right []int, maxSize int) Segmentation {
	right = append([]int(nil), right...)

	// Merge pass: repeatedly remove the boundary whose removal lowers
	// the objective the most, until none does.
	for {
		minChange := 0.0
		minJ := -1

		l := 0
		for j := 1; j < len(right); j++ {
			if minJ >= 0 && minJ < j-2 {
				// A beneficial merge is already in hand well behind the
				// scan; apply it rather than rescanning the whole list.
				break
			}
			change := cm.Dist(l, right[j]-1) -
				(cm.Dist(l, right[j-1]-1) + cm.Dist(right[j-1], right[j]-1) + gamma)
			if change < 0 && change <= minChange {
				minChange = change
				minJ = j - 1
			}
			l = right[j-1]
		}
		cm.MaybeEvict()

		if minJ < 0 {
			break
		}
		right = append(right[:minJ], right[minJ+1:]...)
	}

	// Perturbation pass: the window cap can park a boundary a few points
	// off the optimum; try shifting each one within the cap.
	l := 0
	for j := 1; j < len(right); j++ {
		prevScore := cm.Dist(l, right[j-1]-1) + cm.Dist(right[j-1], right[j]-1)
		bestOff := 0
		for off := -maxSize; off <= maxSize; off++ {
			if off == 0 || right[j-1]+off-1 <= l || right[j-1]+off >= right[j]-1 {
				continue
			}
			score := cm.Dist(l, right[j-1]+off-1) + cm.Dist(right[j-1]+off, right[j]-1)
			if score < prevScore {
				bestOff = off
				prevScore = score
			}
		}
		if bestOff != 0 {
			right[j-1] += bestOff
		}
		l = right[j-1]
		cm.MaybeEvict()
	}

	seg := Segmentation{
		Right:  right,
		Values: make([]float64, len(right)),
		Dists:  make([]float64, len(right)),
	}
	l = 0
	for j, r := range right {
		seg.Values[j] = cm.Mu(l, r-1)
		seg.Dists[j] = cm.Dist(l, r-1)
		l = r
	}
	return seg
}
