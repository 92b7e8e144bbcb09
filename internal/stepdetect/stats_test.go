package stepdetect

import (
	"errors"
	"math"
	"testing"
)

func TestWeightedMedian(t *testing.T) {
	tests := []struct {
		name    string
		values  []float64
		weights []float64
		want    float64
	}{
		{
			name:    "single element",
			values:  []float64{7},
			weights: []float64{1},
			want:    7,
		},
		{
			name:    "odd unweighted",
			values:  []float64{3, 1, 2},
			weights: []float64{1, 1, 1},
			want:    2,
		},
		{
			name:    "even unweighted averages middle pair",
			values:  []float64{4, 1, 3, 2},
			weights: []float64{1, 1, 1, 1},
			want:    2.5,
		},
		{
			name:    "heavy weight dominates",
			values:  []float64{1, 2, 3},
			weights: []float64{1, 1, 5},
			want:    3,
		},
		{
			name:    "exact half tie averages bracketing values",
			values:  []float64{1, 2, 3, 4},
			weights: []float64{2, 2, 3, 1},
			want:    2.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WeightedMedian(tt.values, tt.weights)
			if err != nil {
				t.Fatalf("WeightedMedian: %v", err)
			}
			if got != tt.want {
				t.Errorf("WeightedMedian = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWeightedMedianEmpty(t *testing.T) {
	if _, err := WeightedMedian(nil, nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestQuantileMatchesMedian(t *testing.T) {
	odd := []float64{5, 1, 4, 2, 3}
	even := []float64{4, 1, 3, 2}

	if m, err := Quantile(odd, 0.5); err != nil || m != 3 {
		t.Errorf("odd median = %v, %v; want 3", m, err)
	}
	if m, err := Quantile(even, 0.5); err != nil || m != 2.5 {
		t.Errorf("even median = %v, %v; want 2.5", m, err)
	}
}

func TestQuantileEndpoints(t *testing.T) {
	x := []float64{10, 30, 20}
	if m, _ := Quantile(x, 0); m != 10 {
		t.Errorf("q=0 gave %v, want 10", m)
	}
	if m, _ := Quantile(x, 1); m != 30 {
		t.Errorf("q=1 gave %v, want 30", m)
	}
	if m, _ := Quantile(x, 0.25); m != 15 {
		t.Errorf("q=0.25 gave %v, want 15", m)
	}
}

func TestQuantileInvalidArgument(t *testing.T) {
	for _, q := range []float64{-0.1, 1.1, math.NaN()} {
		if _, err := Quantile([]float64{1, 2}, q); !errors.Is(err, ErrInvalidQuantile) {
			t.Errorf("q=%v: expected ErrInvalidQuantile, got %v", q, err)
		}
	}
	if _, err := Quantile(nil, 0.5); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestQuantileCISmallSampleUnbounded(t *testing.T) {
	// Up to six points cannot bound a 99% interval nonparametrically.
	for n := 1; n <= 6; n++ {
		x := make([]float64, n)
		for i := range x {
			x[i] = float64(i)
		}
		_, lo, hi, err := QuantileCI(x, 0.5, 0.99)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if !math.IsInf(lo, -1) || !math.IsInf(hi, 1) {
			t.Errorf("n=%d: bounds (%v, %v), want (-Inf, +Inf)", n, lo, hi)
		}
	}
}

func TestQuantileCILargeSampleBounded(t *testing.T) {
	x := make([]float64, 100)
	for i := range x {
		x[i] = float64(i)
	}
	m, lo, hi, err := QuantileCI(x, 0.5, 0.99)
	if err != nil {
		t.Fatal(err)
	}
	if math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		t.Fatalf("bounds (%v, %v), want finite", lo, hi)
	}
	if !(lo <= m && m <= hi) {
		t.Errorf("median %v outside interval (%v, %v)", m, lo, hi)
	}
}

func TestComputeStatsSmallSampleFallsBack(t *testing.T) {
	samples := []float64{1.0, 1.1, 0.9, 1.05}
	s, err := ComputeStats(samples)
	if err != nil {
		t.Fatal(err)
	}
	if math.IsInf(s.CILow, 0) || math.IsInf(s.CIHigh, 0) {
		t.Fatalf("CI (%v, %v) not finite", s.CILow, s.CIHigh)
	}
	// The interval must cover the sample range.
	if s.CILow > 0.9 || s.CIHigh < 1.1 {
		t.Errorf("CI (%v, %v) does not cover sample range", s.CILow, s.CIHigh)
	}
	if s.Weight() <= 0 {
		t.Errorf("Weight = %v, want positive", s.Weight())
	}
}

func TestComputeStatsSingleSample(t *testing.T) {
	s, err := ComputeStats([]float64{2.5})
	if err != nil {
		t.Fatal(err)
	}
	if s.Median != 2.5 || s.CILow != 2.5 || s.CIHigh != 2.5 {
		t.Errorf("unexpected stats %+v", s)
	}
	if s.Weight() != 1 {
		t.Errorf("degenerate interval weight = %v, want 1", s.Weight())
	}
}

func TestFilterOutliers(t *testing.T) {
	y := []float64{1, 1.02, 0.98, 1.01, 50, 0.99, 1.03, 1, 0.97}
	out := FilterOutliers(y)
	if !math.IsNaN(out[4]) {
		t.Errorf("isolated outlier not masked: %v", out[4])
	}
	for i, v := range out {
		if i == 4 {
			continue
		}
		if v != y[i] {
			t.Errorf("index %d changed: %v != %v", i, v, y[i])
		}
	}
}

func TestFilterOutliersShortSeriesUntouched(t *testing.T) {
	y := []float64{1, 100, 1}
	out := FilterOutliers(y)
	for i := range y {
		if out[i] != y[i] {
			t.Errorf("short series modified at %d", i)
		}
	}
}
