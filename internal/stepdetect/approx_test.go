package stepdetect

import (
	"math"
	"reflect"
	"testing"
)

// Segments far longer than the solver's window cap must survive the
// merge pass intact.
func TestSolvePottsApproxLongSegments(t *testing.T) {
	y := make([]float64, 300)
	for i := range y {
		switch {
		case i < 100:
			y[i] = 1
		case i < 200:
			y[i] = 5
		default:
			y[i] = 2
		}
	}
	cm := NewCostModel(y, ones(len(y)))

	seg := SolvePottsApprox(cm, 1, 1)
	if !reflect.DeepEqual(seg.Right, []int{100, 200, 300}) {
		t.Fatalf("Right = %v, want [100 200 300]", seg.Right)
	}
	if !reflect.DeepEqual(seg.Values, []float64{1, 5, 2}) {
		t.Fatalf("Values = %v, want [1 5 2]", seg.Values)
	}
}

func TestSolvePottsApproxMatchesExactOnSmallInput(t *testing.T) {
	y := []float64{1, 1, 1, 2, 2, 2, 3, 3, 3}
	w := ones(len(y))

	approx := SolvePottsApprox(NewCostModel(y, w), 0.1, 1)
	exact := SolvePotts(NewCostModel(y, w), 0.1, SolveOptions{})
	if !reflect.DeepEqual(approx, exact) {
		t.Fatalf("approx %+v, exact %+v", approx, exact)
	}
}

// Low-amplitude deterministic noise must not move the recovered
// boundaries when the jumps dwarf it.
func TestSolvePottsApproxNoisySteps(t *testing.T) {
	y := make([]float64, 3000)
	for i := range y {
		level := 1.0
		if i >= 1000 {
			level = 11
		}
		if i >= 2000 {
			level = 4
		}
		y[i] = level + 0.05*math.Sin(float64(i)*0.9)
	}
	cm := NewCostModel(y, ones(len(y)))

	seg := SolvePottsApprox(cm, math.NaN(), 1)
	checkPartition(t, seg, len(y))
	if len(seg.Right) != 3 {
		t.Fatalf("got %d segments (%v), want 3", len(seg.Right), seg.Right)
	}
	if seg.Right[0] != 1000 || seg.Right[1] != 2000 {
		t.Errorf("boundaries = %v, want 1000, 2000", seg.Right[:2])
	}
	for j, want := range []float64{1, 11, 4} {
		if math.Abs(seg.Values[j]-want) > 0.1 {
			t.Errorf("Values[%d] = %v, want about %v", j, seg.Values[j], want)
		}
	}
}

// A huge penalty must merge everything into one segment even though the
// windowed first pass produces many.
func TestSolvePottsApproxMergesUnderLargeGamma(t *testing.T) {
	y, w := waveSeries(400)
	cm := NewCostModel(y, w)

	seg := SolvePottsApprox(cm, 1e6, 1)
	if !reflect.DeepEqual(seg.Right, []int{400}) {
		t.Fatalf("Right = %v, want [400]", seg.Right)
	}
}

func TestSolvePottsApproxMinSizeWidensWindow(t *testing.T) {
	y := make([]float64, 200)
	for i := range y {
		if i >= 100 {
			y[i] = 10
		}
	}
	cm := NewCostModel(y, ones(len(y)))

	seg := SolvePottsApprox(cm, 1, 30)
	checkPartition(t, seg, len(y))
	l := 0
	for _, r := range seg.Right {
		if r-l < 30 {
			t.Errorf("segment [%d,%d) shorter than min size", l, r)
		}
		l = r
	}
	if !reflect.DeepEqual(seg.Right, []int{100, 200}) {
		t.Errorf("Right = %v, want [100 200]", seg.Right)
	}
}

func TestSolvePottsApproxEmpty(t *testing.T) {
	seg := SolvePottsApprox(NewCostModel(nil, nil), math.NaN(), 1)
	if seg.Right != nil {
		t.Fatalf("Right = %v, want nil", seg.Right)
	}
}
