package benchtrace

import (
	"context"
	"log"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/benchtrace/benchtrace/internal/stepdetect"
)

// SeriesReport is the analysis outcome for one benchmark's history.
type SeriesReport struct {
	Benchmark string `json:"benchmark"`

	// Points is the number of revisions with a measurement.
	Points int `json:"points"`

	// Mean and Stddev summarize the measured values, ignoring gaps.
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`

	// Steps is the piecewise-constant fit of the series.
	Steps []stepdetect.Step `json:"steps"`

	// Regressions is non-nil when the series ends significantly worse
	// than its best level.
	Regressions *stepdetect.RegressionReport `json:"regressions,omitempty"`
}

// Analyzer runs step and regression detection over stored benchmark
// series.
type Analyzer struct {
	store  *ResultStore
	config AnalysisConfig

	// Hub, if set, receives a RegressionEvent for every regression
	// found during AnalyzeAll.
	Hub *RegressionHub

	// Logger receives analysis diagnostics. If nil, nothing is logged.
	Logger *log.Logger
}

// NewAnalyzer creates an analyzer over the given store.
func NewAnalyzer(store *ResultStore, config AnalysisConfig) *Analyzer {
	if config.Threshold == 0 {
		config.Threshold = 0.05
	}
	if config.MinSegmentSize <= 0 {
		config.MinSegmentSize = 2
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	return &Analyzer{store: store, config: config}
}

// AnalyzeSeries runs detection over one series. The store is not
// consulted; this is the pure-analysis core that AnalyzeAll fans out.
func (a *Analyzer) AnalyzeSeries(ser Series) SeriesReport {
	values := ser.Values
	if a.config.FilterOutliers {
		values = stepdetect.FilterOutliers(values)
	}

	steps := stepdetect.DetectSteps(values, ser.Weights)

	rep := SeriesReport{
		Benchmark: ser.Benchmark,
		Steps:     steps,
	}

	var measured []float64
	for _, v := range ser.Values {
		if !math.IsNaN(v) {
			measured = append(measured, v)
		}
	}
	rep.Points = len(measured)
	if len(measured) > 0 {
		rep.Mean = stat.Mean(measured, nil)
		rep.Stddev = stat.StdDev(measured, nil)
	}

	rep.Regressions = stepdetect.DetectRegressions(steps, a.config.Threshold, a.config.MinSegmentSize)
	return rep
}

// AnalyzeOne loads and analyzes a single benchmark.
func (a *Analyzer) AnalyzeOne(ctx context.Context, benchmark string) (SeriesReport, error) {
	ser, err := a.store.Series(ctx, benchmark)
	if err != nil {
		return SeriesReport{}, err
	}
	return a.AnalyzeSeries(ser), nil
}

// AnalyzeAll analyzes every stored benchmark across a bounded worker
// pool and returns the reports sorted by benchmark name. Cancellation
// is honored between series; a series already being analyzed runs to
// completion.
func (a *Analyzer) AnalyzeAll(ctx context.Context) ([]SeriesReport, error) {
	names, err := a.store.Benchmarks(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make(chan string)
	var (
		mu       sync.Mutex
		reports  []SeriesReport
		firstErr error
	)

	var wg sync.WaitGroup
	for i := 0; i < a.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				rep, err := a.AnalyzeOne(ctx, name)

				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
				} else {
					reports = append(reports, rep)
				}
				mu.Unlock()

				if err != nil {
					a.logf("analysis of %s failed: %v", name, err)
				} else if rep.Regressions != nil {
					a.logf("regression in %s: latest %v, best %v",
						name, rep.Regressions.LatestValue, rep.Regressions.BestValue)
					a.publish(rep)
				}
			}
		}()
	}

feed:
	for _, name := range names {
		select {
		case jobs <- name:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].Benchmark < reports[j].Benchmark })
	return reports, nil
}

func (a *Analyzer) publish(rep SeriesReport) {
	if a.Hub == nil || rep.Regressions == nil {
		return
	}
	for _, reg := range rep.Regressions.Regressions {
		a.Hub.Publish(RegressionEvent{
			Benchmark:  rep.Benchmark,
			Regression: reg,
		})
	}
}

func (a *Analyzer) logf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
	}
}
