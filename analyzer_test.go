package benchtrace

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"
)

// seedStepSeries stores a series that is flat at low, jumps to high at
// the midpoint, and stays there.
func seedStepSeries(t *testing.T, store *ResultStore, bench string, n int, low, high float64) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		v := low
		if i >= n/2 {
			v = high
		}
		err := store.PutResult(ctx, Result{
			Benchmark: bench,
			Revision:  fmt.Sprintf("r%03d", i),
			Value:     v,
			Weight:    1,
		})
		if err != nil {
			t.Fatalf("PutResult: %v", err)
		}
	}
}

func TestAnalyzeOne(t *testing.T) {
	store := newTestStore(t)
	seedStepSeries(t, store, "BenchmarkStep", 60, 1.0, 2.0)

	a := NewAnalyzer(store, AnalysisConfig{Threshold: 0.05, MinSegmentSize: 2, Workers: 2})
	rep, err := a.AnalyzeOne(context.Background(), "BenchmarkStep")
	if err != nil {
		t.Fatalf("AnalyzeOne: %v", err)
	}

	if rep.Points != 60 {
		t.Errorf("points = %d, want 60", rep.Points)
	}
	if math.Abs(rep.Mean-1.5) > 1e-12 {
		t.Errorf("mean = %v, want 1.5", rep.Mean)
	}
	if len(rep.Steps) != 2 {
		t.Fatalf("got %d steps (%+v), want 2", len(rep.Steps), rep.Steps)
	}
	if rep.Steps[0].Value != 1 || rep.Steps[1].Value != 2 {
		t.Errorf("step values = %v, %v, want 1 and 2", rep.Steps[0].Value, rep.Steps[1].Value)
	}
	if rep.Steps[1].Left != 30 {
		t.Errorf("jump at %d, want 30", rep.Steps[1].Left)
	}

	if rep.Regressions == nil {
		t.Fatal("expected a regression report")
	}
	if len(rep.Regressions.Regressions) != 1 {
		t.Fatalf("got %d regressions, want 1", len(rep.Regressions.Regressions))
	}
	reg := rep.Regressions.Regressions[0]
	if reg.Before != 29 || reg.After != 30 {
		t.Errorf("regression at [%d,%d], want [29,30]", reg.Before, reg.After)
	}
	if rep.Regressions.LatestValue != 2 || rep.Regressions.BestValue != 1 {
		t.Errorf("latest %v best %v, want 2 and 1",
			rep.Regressions.LatestValue, rep.Regressions.BestValue)
	}
}

func TestAnalyzeAll(t *testing.T) {
	store := newTestStore(t)
	seedStepSeries(t, store, "BenchmarkRegressed", 40, 1.0, 3.0)
	seedStepSeries(t, store, "BenchmarkFlat", 40, 5.0, 5.0)

	hub := NewRegressionHub(DefaultStreamConfig())
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub.ID)

	a := NewAnalyzer(store, AnalysisConfig{Threshold: 0.05, MinSegmentSize: 2, Workers: 3})
	a.Hub = hub

	reports, err := a.AnalyzeAll(context.Background())
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	// Sorted by name.
	if reports[0].Benchmark != "BenchmarkFlat" || reports[1].Benchmark != "BenchmarkRegressed" {
		t.Errorf("report order: %s, %s", reports[0].Benchmark, reports[1].Benchmark)
	}
	if reports[0].Regressions != nil {
		t.Error("flat series reported a regression")
	}
	if reports[1].Regressions == nil {
		t.Error("stepped series reported no regression")
	}

	// The regression was published to the hub.
	select {
	case ev := <-sub.C():
		if ev.Benchmark != "BenchmarkRegressed" {
			t.Errorf("event benchmark = %s", ev.Benchmark)
		}
	case <-time.After(time.Second):
		t.Error("no event published to hub")
	}
}

func TestAnalyzeSeriesWithGaps(t *testing.T) {
	nan := math.NaN()
	a := NewAnalyzer(nil, AnalysisConfig{Threshold: 0.05, MinSegmentSize: 2})

	rep := a.AnalyzeSeries(Series{
		Benchmark: "BenchmarkGap",
		Values:    []float64{1, 1, nan, 1, 1, 4, 4, nan, 4, 4},
		Weights:   []float64{1, 1, nan, 1, 1, 1, 1, nan, 1, 1},
	})
	if rep.Points != 8 {
		t.Errorf("points = %d, want 8", rep.Points)
	}
	if len(rep.Steps) != 2 {
		t.Fatalf("got %d steps (%+v), want 2", len(rep.Steps), rep.Steps)
	}
	if rep.Steps[0].Right != 5 || rep.Steps[1].Left != 5 {
		t.Errorf("step bounds %+v, want split at 5", rep.Steps)
	}
	if rep.Regressions == nil {
		t.Error("expected a regression report")
	}
}

func TestAnalyzeAllCancellation(t *testing.T) {
	store := newTestStore(t)
	seedStepSeries(t, store, "BenchmarkOne", 20, 1.0, 2.0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewAnalyzer(store, AnalysisConfig{Workers: 1})
	if _, err := a.AnalyzeAll(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestAnalyzeOutlierFilter(t *testing.T) {
	// One wild sample in a flat series; with filtering on it must not
	// produce a step of its own.
	values := make([]float64, 30)
	weights := make([]float64, 30)
	for i := range values {
		values[i] = 1 + 0.01*math.Sin(float64(i))
		weights[i] = 1
	}
	values[15] = 50

	a := NewAnalyzer(nil, AnalysisConfig{Threshold: 0.05, MinSegmentSize: 2, FilterOutliers: true})
	rep := a.AnalyzeSeries(Series{Benchmark: "BenchmarkSpike", Values: values, Weights: weights})
	if len(rep.Steps) != 1 {
		t.Errorf("got %d steps (%+v), want 1", len(rep.Steps), rep.Steps)
	}
}
