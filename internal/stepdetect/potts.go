package stepdetect

import "math"

// Segmentation is a piecewise-constant decomposition of a series.
// Right holds the exclusive right bound of each segment, in increasing
// order; Values the weighted median of each segment; Dists the weighted
// L1 deviation cost of each segment. Segments are contiguous: segment j
// covers [Right[j-1], Right[j]) with Right[-1] taken as the range start.
type Segmentation struct {
	Right  []int
	Values []float64
	Dists  []float64
}

// TotalDist returns the summed deviation cost over all segments.
func (s Segmentation) TotalDist() float64 {
	total := 0.0
	for _, d := range s.Dists {
		total += d
	}
	return total
}

// SolveOptions constrain the exact Potts solver.
type SolveOptions struct {
	// MinSize and MaxSize bound the admissible segment lengths.
	// Zero values default to 1 and the range length.
	MinSize int
	MaxSize int

	// MinPos (inclusive) and MaxPos (exclusive) restrict the solver to a
	// sub-range of the series. A zero MaxPos means the series length.
	MinPos int
	MaxPos int
}

// SolvePotts fits a penalized piecewise-constant function to the series
// behind the cost model, minimizing
//
//	gamma * (number of segments) + sum of segment deviation costs
//
// exactly, by dynamic programming over segment right endpoints
// (Friedrich et al., "Complexity Penalized M-Estimation: Fast
// Computation", J. Comput. Graph. Stat. 17.1, 2008). Worst-case cost is
// O((MaxPos-MinPos)^2) cost-model evaluations, which is why callers with
// long series use SolvePottsApprox instead.
func SolvePotts(cm CostModel, gamma float64, opt SolveOptions) Segmentation {
	n := cm.Len()
	if n == 0 {
		return Segmentation{}
	}

	i0 := opt.MinPos
	i1 := opt.MaxPos
	if i1 == 0 {
		i1 = n
	}
	minSize := opt.MinSize
	if minSize <= 0 {
		minSize = 1
	}
	maxSize := opt.MaxSize
	if maxSize <= 0 {
		maxSize = i1 - i0
	}

	if minSize >= i1-i0 {
		return Segmentation{
			Right:  []int{i1},
			Values: []float64{cm.Mu(i0, i1-1)},
			Dists:  []float64{cm.Dist(i0, i1-1)},
		}
	}

	// Bellman recursion: B[r-i0] is the optimal objective for the prefix
	// [i0, r). The -gamma start cancels the first segment's penalty.
	inf := math.Inf(1)
	B := make([]float64, i1-i0+1)
	B[0] = -gamma
	// prev[r] is the exclusive left bound minus one of the last segment
	// in the optimal partition of [i0, r].
	prev := make([]int, i1)
	for r := range prev {
		prev[r] = i0 - 1
	}

	for r := i0; r < i1; r++ {
		B[r+1-i0] = inf
		a := r + 1 - maxSize
		if a < i0 {
			a = i0
		}
		b := r + 1 - minSize + 1
		if b < i0 {
			b = i0
		}
		for l := a; l < b; l++ {
			// On ties prefer the larger l: the rightmost split keeps
			// segments fine-grained, and the merge pass coarsens later.
			cand := B[l-i0] + gamma + cm.Dist(l, r)
			if cand <= B[r+1-i0] {
				B[r+1-i0] = cand
				prev[r] = l - 1
			}
		}
		cm.MaybeEvict()
	}

	// Backtrack from the end of the range.
	var seg Segmentation
	r := i1 - 1
	for r >= i0 {
		l := prev[r]
		seg.Right = append(seg.Right, r+1)
		seg.Values = append(seg.Values, cm.Mu(l+1, r))
		seg.Dists = append(seg.Dists, cm.Dist(l+1, r))
		r = l
	}
	reverseInts(seg.Right)
	reverseFloats(seg.Values)
	reverseFloats(seg.Dists)
	return seg
}

func reverseInts(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func reverseFloats(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
