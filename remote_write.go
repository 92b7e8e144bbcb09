package benchtrace

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// RemoteWriteExporter pushes analysis outcomes to a Prometheus
// remote-write endpoint, one snapshot per analysis run.
//
// Exported series, all labeled with the benchmark name:
//
//	benchtrace_latest_value      fitted value of the newest step
//	benchtrace_best_value        lowest fitted value over the history
//	benchtrace_regression_count  surviving regressions in the history
type RemoteWriteExporter struct {
	config  RemoteWriteConfig
	client  *http.Client
	retryer *Retryer

	// Logger receives export diagnostics. If nil, nothing is logged.
	Logger *log.Logger
}

// NewRemoteWriteExporter creates an exporter for the configured endpoint.
func NewRemoteWriteExporter(config RemoteWriteConfig) (*RemoteWriteExporter, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("remote write URL is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	return &RemoteWriteExporter{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		retryer: NewRetryer(RetryConfig{
			MaxAttempts: config.MaxRetries,
			RetryIf:     IsRetryable,
		}),
	}, nil
}

// Export encodes the reports as a remote-write request and pushes it.
func (e *RemoteWriteExporter) Export(ctx context.Context, reports []SeriesReport) error {
	if len(reports) == 0 {
		return nil
	}

	body, err := encodeRemoteWrite(reports, time.Now())
	if err != nil {
		return err
	}

	result := e.retryer.Do(ctx, func() error {
		return e.push(ctx, body)
	})
	if result.LastErr != nil {
		return fmt.Errorf("remote write to %s failed after %d attempts: %w",
			e.config.URL, result.Attempts, result.LastErr)
	}
	e.logf("remote write: pushed %d reports in %d attempt(s)", len(reports), result.Attempts)
	return nil
}

func (e *RemoteWriteExporter) push(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("remote write rejected: %s", resp.Status)
	}
	return nil
}

// encodeRemoteWrite builds the snappy-compressed protobuf body for one
// snapshot of the reports.
func encodeRemoteWrite(reports []SeriesReport, now time.Time) ([]byte, error) {
	ts := now.UnixMilli()

	var req prompb.WriteRequest
	for _, rep := range reports {
		if len(rep.Steps) == 0 {
			continue
		}

		latest := rep.Steps[len(rep.Steps)-1].Value
		best := latest
		regressions := 0
		if rep.Regressions != nil {
			latest = rep.Regressions.LatestValue
			best = rep.Regressions.BestValue
			regressions = len(rep.Regressions.Regressions)
		} else {
			for _, step := range rep.Steps {
				if step.Value < best {
					best = step.Value
				}
			}
		}

		for _, m := range []struct {
			name  string
			value float64
		}{
			{"benchtrace_latest_value", latest},
			{"benchtrace_best_value", best},
			{"benchtrace_regression_count", float64(regressions)},
		} {
			req.Timeseries = append(req.Timeseries, prompb.TimeSeries{
				Labels: []prompb.Label{
					{Name: "__name__", Value: m.name},
					{Name: "benchmark", Value: rep.Benchmark},
				},
				Samples: []prompb.Sample{
					{Value: m.value, Timestamp: ts},
				},
			})
		}
	}

	raw, err := req.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal write request: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func (e *RemoteWriteExporter) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}
