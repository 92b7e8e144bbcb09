package benchtrace

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// Token hashing parameters for the report API.
const (
	tokenHashIterations = 10000
	tokenHashSize       = 32
)

// tokenSalt is a fixed application salt. API tokens are high-entropy
// random strings, so the salt only needs to separate this key space
// from other users of the same tokens.
var tokenSalt = []byte("benchtrace-api-token-v1")

func hashToken(token string) []byte {
	return pbkdf2.Key([]byte(token), tokenSalt, tokenHashIterations, tokenHashSize, sha256.New)
}

// ReportServer serves the latest analysis results over a JSON HTTP API
// and writes them as a report tree for syncing.
//
// Endpoints:
//
//	GET /health                  liveness probe
//	GET /api/benchmarks          names of analyzed benchmarks
//	GET /api/series?name=NAME    full report for one benchmark
//	GET /api/regressions         reports that contain regressions
//	GET /events                  WebSocket regression feed (when a hub is set)
type ReportServer struct {
	config PublishConfig

	mu      sync.RWMutex
	reports map[string]SeriesReport
	names   []string

	tokenHashes [][]byte
	hub         *RegressionHub

	// Logger receives request diagnostics. If nil, nothing is logged.
	Logger *log.Logger
}

// NewReportServer creates a report server. hub may be nil.
func NewReportServer(config PublishConfig, hub *RegressionHub) *ReportServer {
	s := &ReportServer{
		config:  config,
		reports: make(map[string]SeriesReport),
		hub:     hub,
	}
	if config.Auth != nil && config.Auth.Enabled {
		for _, token := range config.Auth.Tokens {
			s.tokenHashes = append(s.tokenHashes, hashToken(token))
		}
	}
	return s
}

// SetReports replaces the served analysis results.
func (s *ReportServer) SetReports(reports []SeriesReport) {
	byName := make(map[string]SeriesReport, len(reports))
	names := make([]string, 0, len(reports))
	for _, rep := range reports {
		byName[rep.Benchmark] = rep
		names = append(names, rep.Benchmark)
	}

	s.mu.Lock()
	s.reports = byName
	s.names = names
	s.mu.Unlock()
}

// Handler returns the server's HTTP handler.
func (s *ReportServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/api/benchmarks", s.auth(s.handleBenchmarks))
	mux.HandleFunc("/api/series", s.auth(s.handleSeries))
	mux.HandleFunc("/api/regressions", s.auth(s.handleRegressions))

	if s.hub != nil {
		mux.Handle("/events", s.authHandler(s.hub))
	}

	return mux
}

func (s *ReportServer) handleBenchmarks(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := append([]string(nil), s.names...)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{"benchmarks": names})
}

func (s *ReportServer) handleSeries(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "missing name parameter", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	rep, ok := s.reports[name]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, fmt.Sprintf("unknown benchmark: %s", name), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *ReportServer) handleRegressions(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	var regressed []SeriesReport
	for _, name := range s.names {
		if rep := s.reports[name]; rep.Regressions != nil {
			regressed = append(regressed, rep)
		}
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{"regressions": regressed})
}

// auth wraps a handler with bearer-token authentication when enabled.
func (s *ReportServer) auth(next http.HandlerFunc) http.HandlerFunc {
	return s.authHandler(next).(http.HandlerFunc)
}

func (s *ReportServer) authHandler(next http.Handler) http.Handler {
	if s.config.Auth == nil || !s.config.Auth.Enabled {
		if h, ok := next.(http.HandlerFunc); ok {
			return h
		}
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, path := range s.config.Auth.ExcludePaths {
			if r.URL.Path == path {
				next.ServeHTTP(w, r)
				return
			}
		}

		token := bearerToken(r)
		if token == "" || !s.tokenValid(token) {
			s.logf("unauthorized request to %s", r.URL.Path)
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *ReportServer) tokenValid(token string) bool {
	hash := hashToken(token)
	valid := false
	// Compare against every hash so timing does not reveal which token
	// matched.
	for _, want := range s.tokenHashes {
		if subtle.ConstantTimeCompare(hash, want) == 1 {
			valid = true
		}
	}
	return valid
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteReports writes the current analysis results as a JSON tree under
// dir: an index.json with benchmark names plus one file per benchmark.
// The layout is what ReportSyncer uploads.
func (s *ReportServer) WriteReports(dir string) error {
	s.mu.RLock()
	names := append([]string(nil), s.names...)
	reports := make([]SeriesReport, 0, len(names))
	for _, name := range names {
		reports = append(reports, s.reports[name])
	}
	s.mu.RUnlock()

	benchDir := filepath.Join(dir, "benchmarks")
	if err := os.MkdirAll(benchDir, 0o755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}

	index, err := json.MarshalIndent(map[string]any{"benchmarks": names}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "index.json"), index, 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	for _, rep := range reports {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report for %s: %w", rep.Benchmark, err)
		}
		path := filepath.Join(benchDir, sanitizeFilename(rep.Benchmark)+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write report for %s: %w", rep.Benchmark, err)
		}
	}
	return nil
}

// sanitizeFilename maps a benchmark name to a safe file name.
func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

func (s *ReportServer) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}
