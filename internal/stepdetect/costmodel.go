package stepdetect

import (
	"math"
	"sort"
)

// evictThreshold bounds the number of memoized interval entries. The
// solver's access pattern is monotonically growing windows, so a full
// clear loses little reusable work and keeps memory bounded, unlike an
// LRU scheme which would pay bookkeeping on every query.
const evictThreshold = 500_000

// CostModel computes, for an inclusive index range [l, r] of a fixed
// series, the weighted median of the range and the total weighted L1
// deviation from it. Both are pure functions of the range; the interface
// exists so a memoized reference implementation and an accelerated
// rolling-median one can be used interchangeably.
type CostModel interface {
	// Mu returns the weighted median of values[l..r].
	Mu(l, r int) float64

	// Dist returns sum(w[i] * |values[i] - Mu(l, r)|) for i in l..r.
	Dist(l, r int) float64

	// MaybeEvict gives the model a chance to drop its caches when they
	// have grown too large. Solvers call it periodically.
	MaybeEvict()

	// Len returns the series length.
	Len() int
}

// NewCostModel returns the cost model used by the solvers: the rolling
// weighted-median backend, which answers the dynamic program's monotone
// window queries in amortized logarithmic time and falls back to the
// memoized path otherwise.
func NewCostModel(values, weights []float64) CostModel {
	return newRangeMedianModel(values, weights)
}

type intervalKey struct {
	l, r int
}

// referenceModel is the direct implementation: sort the range, take the
// weighted median, sum deviations. Every result is memoized because the
// solvers ask for the same intervals O(n * window) times.
type referenceModel struct {
	values  []float64
	weights []float64

	muMemo   map[intervalKey]float64
	distMemo map[intervalKey]float64

	// scratch buffers reused across queries
	v, w []float64
}

// NewReferenceCostModel returns the memoized direct cost model.
func NewReferenceCostModel(values, weights []float64) CostModel {
	return newReferenceModel(values, weights)
}

func newReferenceModel(values, weights []float64) *referenceModel {
	return &referenceModel{
		values:   values,
		weights:  weights,
		muMemo:   make(map[intervalKey]float64),
		distMemo: make(map[intervalKey]float64),
	}
}

func (m *referenceModel) Len() int { return len(m.values) }

func (m *referenceModel) Mu(l, r int) float64 {
	key := intervalKey{l, r}
	if mu, ok := m.muMemo[key]; ok {
		return mu
	}
	m.v = append(m.v[:0], m.values[l:r+1]...)
	m.w = append(m.w[:0], m.weights[l:r+1]...)
	sort.Sort(&valueWeightSort{v: m.v, w: m.w})
	mu := weightedMedianSorted(m.v, m.w)
	m.muMemo[key] = mu
	return mu
}

func (m *referenceModel) Dist(l, r int) float64 {
	key := intervalKey{l, r}
	if d, ok := m.distMemo[key]; ok {
		return d
	}
	mu := m.Mu(l, r)
	d := 0.0
	for i := l; i <= r; i++ {
		d += m.weights[i] * math.Abs(m.values[i]-mu)
	}
	m.distMemo[key] = d
	return d
}

func (m *referenceModel) MaybeEvict() {
	if len(m.muMemo)+len(m.distMemo) > evictThreshold {
		m.muMemo = make(map[intervalKey]float64)
		m.distMemo = make(map[intervalKey]float64)
	}
}
