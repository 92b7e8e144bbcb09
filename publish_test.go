package benchtrace

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/benchtrace/benchtrace/internal/stepdetect"
)

func testReports() []SeriesReport {
	return []SeriesReport{
		{
			Benchmark: "BenchmarkA",
			Points:    10,
			Mean:      1.5,
			Steps: []stepdetect.Step{
				{Left: 0, Right: 5, Value: 1},
				{Left: 5, Right: 10, Value: 2},
			},
			Regressions: &stepdetect.RegressionReport{
				LatestValue: 2,
				BestValue:   1,
				Regressions: []stepdetect.Regression{{Before: 4, After: 5, Value: 2, Best: 2}},
			},
		},
		{
			Benchmark: "BenchmarkB",
			Points:    10,
			Mean:      3,
			Steps:     []stepdetect.Step{{Left: 0, Right: 10, Value: 3}},
		},
	}
}

func newTestServer(t *testing.T, cfg PublishConfig) *httptest.Server {
	t.Helper()
	s := NewReportServer(cfg, nil)
	s.SetReports(testReports())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestReportServerEndpoints(t *testing.T) {
	srv := newTestServer(t, PublishConfig{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/benchmarks")
	if err != nil {
		t.Fatalf("benchmarks: %v", err)
	}
	var list struct {
		Benchmarks []string `json:"benchmarks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode benchmarks: %v", err)
	}
	resp.Body.Close()
	if len(list.Benchmarks) != 2 {
		t.Errorf("benchmarks = %v, want 2", list.Benchmarks)
	}

	resp, err = http.Get(srv.URL + "/api/series?name=BenchmarkA")
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	var rep SeriesReport
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode series: %v", err)
	}
	resp.Body.Close()
	if rep.Benchmark != "BenchmarkA" || len(rep.Steps) != 2 || rep.Regressions == nil {
		t.Errorf("unexpected report: %+v", rep)
	}

	for path, want := range map[string]int{
		"/api/series":              http.StatusBadRequest,
		"/api/series?name=Unknown": http.StatusNotFound,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("%s status = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestReportServerRegressions(t *testing.T) {
	srv := newTestServer(t, PublishConfig{})

	resp, err := http.Get(srv.URL + "/api/regressions")
	if err != nil {
		t.Fatalf("regressions: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Regressions []SeriesReport `json:"regressions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Regressions) != 1 || out.Regressions[0].Benchmark != "BenchmarkA" {
		t.Errorf("regressions = %+v, want BenchmarkA only", out.Regressions)
	}
}

func TestReportServerAuth(t *testing.T) {
	srv := newTestServer(t, PublishConfig{
		Auth: &AuthConfig{
			Enabled: true,
			Tokens:  []string{"good-token"},
		},
	})

	get := func(token string) int {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/benchmarks", nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := get(""); code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", code)
	}
	if code := get("bad-token"); code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", code)
	}
	if code := get("good-token"); code != http.StatusOK {
		t.Errorf("good token: status = %d, want 200", code)
	}

	// Health stays open regardless.
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestWriteReports(t *testing.T) {
	dir := t.TempDir()
	s := NewReportServer(PublishConfig{OutputDir: dir}, nil)
	s.SetReports(testReports())

	if err := s.WriteReports(dir); err != nil {
		t.Fatalf("WriteReports: %v", err)
	}

	index, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	var idx struct {
		Benchmarks []string `json:"benchmarks"`
	}
	if err := json.Unmarshal(index, &idx); err != nil {
		t.Fatalf("parse index: %v", err)
	}
	if len(idx.Benchmarks) != 2 {
		t.Errorf("index benchmarks = %v, want 2", idx.Benchmarks)
	}

	data, err := os.ReadFile(filepath.Join(dir, "benchmarks", "BenchmarkA.json"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var rep SeriesReport
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("parse report: %v", err)
	}
	if rep.Benchmark != "BenchmarkA" || rep.Regressions == nil {
		t.Errorf("unexpected report: %+v", rep)
	}
}

func TestSanitizeFilename(t *testing.T) {
	got := sanitizeFilename(`pkg/Benchmark:Enc*ode`)
	if got != "pkg_Benchmark_Enc_ode" {
		t.Errorf("sanitized = %q", got)
	}
}
