package stepdetect

import (
	"math"
	"testing"
)

// waveSeries builds a deterministic, tie-free test series.
func waveSeries(n int) ([]float64, []float64) {
	y := make([]float64, n)
	w := make([]float64, n)
	for i := range y {
		y[i] = math.Sin(float64(i)*0.7) + 0.1*math.Cos(float64(i)*3.1)
		w[i] = 1 + 0.5*math.Abs(math.Sin(float64(i)*1.3))
	}
	return y, w
}

func TestCostModelKnownValues(t *testing.T) {
	y := []float64{1, 5, 2, 4, 3}
	w := []float64{1, 1, 1, 1, 1}
	cm := NewReferenceCostModel(y, w)

	if mu := cm.Mu(0, 4); mu != 3 {
		t.Errorf("Mu(0,4) = %v, want 3", mu)
	}
	// |1-3| + |5-3| + |2-3| + |4-3| + |3-3| = 6
	if d := cm.Dist(0, 4); d != 6 {
		t.Errorf("Dist(0,4) = %v, want 6", d)
	}
	if mu := cm.Mu(2, 2); mu != 2 {
		t.Errorf("Mu(2,2) = %v, want 2", mu)
	}
	if d := cm.Dist(2, 2); d != 0 {
		t.Errorf("Dist(2,2) = %v, want 0", d)
	}
}

func TestCostModelWeighted(t *testing.T) {
	y := []float64{1, 2, 3}
	w := []float64{1, 1, 5}
	cm := NewReferenceCostModel(y, w)
	if mu := cm.Mu(0, 2); mu != 3 {
		t.Errorf("Mu = %v, want 3", mu)
	}
	// 1*|1-3| + 1*|2-3| + 5*0 = 3
	if d := cm.Dist(0, 2); d != 3 {
		t.Errorf("Dist = %v, want 3", d)
	}
}

// The rolling backend must agree with the reference one on the dynamic
// program's monotone window pattern and on arbitrary fallback queries.
func TestRangeMedianMatchesReference(t *testing.T) {
	y, w := waveSeries(200)
	fast := NewCostModel(y, w)
	ref := NewReferenceCostModel(y, w)

	// DP-like pattern: growing windows.
	for r := 0; r < len(y); r++ {
		lmin := r - 25
		if lmin < 0 {
			lmin = 0
		}
		for l := lmin; l <= r; l++ {
			if got, want := fast.Mu(l, r), ref.Mu(l, r); math.Abs(got-want) > 1e-9 {
				t.Fatalf("Mu(%d,%d) = %v, reference %v", l, r, got, want)
			}
			if got, want := fast.Dist(l, r), ref.Dist(l, r); math.Abs(got-want) > 1e-9 {
				t.Fatalf("Dist(%d,%d) = %v, reference %v", l, r, got, want)
			}
		}
	}

	// Merge-like pattern: wide, non-monotone queries.
	for _, q := range [][2]int{{0, 199}, {0, 50}, {10, 180}, {150, 199}, {10, 30}} {
		l, r := q[0], q[1]
		if got, want := fast.Dist(l, r), ref.Dist(l, r); math.Abs(got-want) > 1e-9 {
			t.Fatalf("fallback Dist(%d,%d) = %v, reference %v", l, r, got, want)
		}
	}
}

func TestCostModelEvictionKeepsAnswers(t *testing.T) {
	y, w := waveSeries(64)
	cm := NewCostModel(y, w)
	before := cm.Dist(3, 40)
	for i := 0; i < 10; i++ {
		cm.MaybeEvict()
	}
	if after := cm.Dist(3, 40); after != before {
		t.Errorf("Dist changed across eviction: %v != %v", after, before)
	}
}
