// Package benchtrace tracks benchmark results across a revision history
// and finds the commits where performance regressed.
//
// Results enter through an [Ingester] (standard Go benchmark format),
// are stored per revision in a SQLite-backed [ResultStore], and are
// analyzed by an [Analyzer], which fits each series with a
// piecewise-constant model and extracts the upward jumps that were
// never cancelled by a later recovery. The [Tracker] ties these
// together with optional publishing surfaces: a JSON HTTP API, a
// WebSocket event feed, Prometheus remote-write export, and report
// syncing to S3.
package benchtrace

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
)

// Tracker is the main handle. Open one with [Open] and close it with
// [Tracker.Close]. Ingest, Analyze, and the HTTP handler are safe for
// concurrent use.
type Tracker struct {
	config   Config
	store    *ResultStore
	ingester *Ingester
	analyzer *Analyzer
	hub      *RegressionHub
	server   *ReportServer
	exporter *RemoteWriteExporter
	syncer   *ReportSyncer

	mu     sync.Mutex
	closed bool

	// Logger receives diagnostics from all components. Set it before
	// first use. If nil, nothing is logged.
	Logger *log.Logger
}

// Open creates a tracker from the configuration, opening the store and
// constructing whichever publishing components the config enables.
func Open(cfg Config) (*Tracker, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := NewResultStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}

	t := &Tracker{
		config:   cfg,
		store:    store,
		ingester: NewIngester(store),
		analyzer: NewAnalyzer(store, cfg.Analysis),
		hub:      NewRegressionHub(DefaultStreamConfig()),
	}
	t.analyzer.Hub = t.hub

	if cfg.Publish != nil {
		t.server = NewReportServer(*cfg.Publish, t.hub)
	}
	if cfg.RemoteWrite != nil && cfg.RemoteWrite.Enabled {
		t.exporter, err = NewRemoteWriteExporter(*cfg.RemoteWrite)
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	if cfg.Sync != nil && cfg.Sync.Enabled {
		t.syncer, err = NewReportSyncer(*cfg.Sync)
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	return t, nil
}

// Store returns the tracker's result store.
func (t *Tracker) Store() *ResultStore { return t.store }

// Hub returns the tracker's regression event hub.
func (t *Tracker) Hub() *RegressionHub { return t.hub }

// Ingest records a benchmark result stream for one revision.
func (t *Tracker) Ingest(ctx context.Context, revision, name string, r io.Reader) (int, error) {
	t.ingester.Logger = t.Logger
	return t.ingester.Ingest(ctx, revision, name, r)
}

// Analyze runs detection over every stored benchmark, updates the
// report server if one is configured, and returns the reports.
func (t *Tracker) Analyze(ctx context.Context) ([]SeriesReport, error) {
	t.analyzer.Logger = t.Logger
	reports, err := t.analyzer.AnalyzeAll(ctx)
	if err != nil {
		return nil, err
	}
	if t.server != nil {
		t.server.SetReports(reports)
	}
	return reports, nil
}

// Handler returns the report API handler, or nil when publishing is not
// configured.
func (t *Tracker) Handler() http.Handler {
	if t.server == nil {
		return nil
	}
	return t.server.Handler()
}

// Publish writes the report tree, syncs it to S3, and pushes a
// remote-write snapshot, skipping whichever of those is not configured.
// Call it after Analyze.
func (t *Tracker) Publish(ctx context.Context, reports []SeriesReport) error {
	if t.server != nil && t.config.Publish.OutputDir != "" {
		if err := t.server.WriteReports(t.config.Publish.OutputDir); err != nil {
			return err
		}
		if t.syncer != nil {
			t.syncer.Logger = t.Logger
			if _, err := t.syncer.SyncDir(ctx, t.config.Publish.OutputDir); err != nil {
				return err
			}
		}
	}
	if t.exporter != nil {
		t.exporter.Logger = t.Logger
		if err := t.exporter.Export(ctx, reports); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the tracker's resources. Close is idempotent.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.store.Close()
}
