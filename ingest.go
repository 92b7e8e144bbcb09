package benchtrace

import (
	"context"
	"fmt"
	"io"
	"log"

	"golang.org/x/perf/benchfmt"

	"github.com/benchtrace/benchtrace/internal/stepdetect"
)

// Ingester reads Go benchmark output, summarizes the samples of each
// benchmark, and records the results for one revision.
type Ingester struct {
	store *ResultStore

	// Logger receives ingestion diagnostics. If nil, nothing is logged.
	Logger *log.Logger
}

// NewIngester creates an ingester writing to the given store.
func NewIngester(store *ResultStore) *Ingester {
	return &Ingester{store: store}
}

// Ingest parses a benchmark result stream in the standard Go format
// ("go test -bench" output), attributes it to the given revision, and
// stores one summarized result per benchmark. The name is used in parse
// diagnostics, typically the source file name. Returns the number of
// benchmarks stored.
//
// Only sec/op values are tracked. Multiple runs of the same benchmark
// in one stream are pooled into a single sample set, summarized by the
// sample median with a weight of one over the half-width of its
// confidence interval.
func (in *Ingester) Ingest(ctx context.Context, revision, name string, r io.Reader) (int, error) {
	if revision == "" {
		return 0, fmt.Errorf("revision is required")
	}

	samples := make(map[string][]float64)
	var order []string

	reader := benchfmt.NewReader(r, name)
	for reader.Scan() {
		switch rec := reader.Result().(type) {
		case *benchfmt.SyntaxError:
			return 0, fmt.Errorf("syntax error: %v", rec)
		case *benchfmt.Result:
			bench := string(rec.Name.Full())
			for _, value := range rec.Values {
				if value.Unit != "sec/op" {
					continue
				}
				if _, seen := samples[bench]; !seen {
					order = append(order, bench)
				}
				samples[bench] = append(samples[bench], value.Value)
			}
		}
	}
	if err := reader.Err(); err != nil {
		return 0, fmt.Errorf("failed to read benchmark stream: %w", err)
	}

	stored := 0
	for _, bench := range order {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		vals := samples[bench]

		stats, err := stepdetect.ComputeStats(vals)
		if err != nil {
			in.logf("skipping %s: %v", bench, err)
			continue
		}

		err = in.store.PutResult(ctx, Result{
			Benchmark: bench,
			Revision:  revision,
			Value:     stats.Median,
			Weight:    stats.Weight(),
			Samples:   vals,
		})
		if err != nil {
			return stored, fmt.Errorf("failed to store %s: %w", bench, err)
		}
		stored++
	}

	in.logf("ingested %d benchmarks at %s", stored, revision)
	return stored, nil
}

func (in *Ingester) logf(format string, args ...any) {
	if in.Logger != nil {
		in.Logger.Printf(format, args...)
	}
}
