package benchtrace

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/golang/snappy"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("store is closed")

// ErrNotFound is returned when a benchmark or revision does not exist.
var ErrNotFound = errors.New("not found")

// StoreConfig configures the SQLite result store.
type StoreConfig struct {
	// Path to the SQLite database file
	Path string `yaml:"path"`

	// CacheSize is the SQLite page cache size in KB (default: 2000 = 2MB)
	CacheSize int `yaml:"cache_size"`

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string `yaml:"journal_mode"`

	// Synchronous sets the synchronous flag (OFF, NORMAL, FULL, EXTRA)
	Synchronous string `yaml:"synchronous"`

	// BusyTimeout is the timeout for acquiring locks in milliseconds
	BusyTimeout int `yaml:"busy_timeout"`

	// MaxConnections is the max number of database connections
	MaxConnections int `yaml:"max_connections"`
}

// DefaultStoreConfig returns default store configuration.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{
		Path:           path,
		CacheSize:      2000,
		JournalMode:    "WAL",
		Synchronous:    "NORMAL",
		BusyTimeout:    5000,
		MaxConnections: 10,
	}
}

// Result is one benchmark measurement at one revision: the summarized
// value, its precision weight, and the raw samples it was computed from.
type Result struct {
	Benchmark string
	Revision  string
	Value     float64
	Weight    float64
	Samples   []float64
}

// Series is a benchmark's history ordered by revision position. Values
// and Weights have one entry per known revision; revisions the benchmark
// was not measured at hold NaN.
type Series struct {
	Benchmark string
	Values    []float64
	Weights   []float64
}

// ResultStore persists benchmark results in SQLite, keyed by benchmark
// name and revision position. Revisions are assigned dense positions in
// insertion order, which is what makes gap-preserving series extraction
// possible.
type ResultStore struct {
	db     *sql.DB
	config StoreConfig
	mu     sync.RWMutex
	closed bool

	// Prepared statements for common operations
	insertRev    *sql.Stmt
	selectRev    *sql.Stmt
	insertResult *sql.Stmt
	selectSeries *sql.Stmt
	selectBlob   *sql.Stmt
}

// NewResultStore opens (creating if needed) a result store at the
// configured path.
func NewResultStore(config StoreConfig) (*ResultStore, error) {
	if config.Path == "" {
		return nil, errors.New("store path is required")
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 2000
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.Synchronous == "" {
		config.Synchronous = "NORMAL"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}

	// Build connection string with pragmas
	dsn := fmt.Sprintf("%s?_cache_size=%d&_journal_mode=%s&_synchronous=%s&_busy_timeout=%d",
		config.Path, config.CacheSize, config.JournalMode, config.Synchronous, config.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxConnections / 2)

	store := &ResultStore{
		db:     db,
		config: config,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return store, nil
}

func (s *ResultStore) initSchema() error {
	schema := `
		-- Revisions in history order; position is dense and 0-based
		CREATE TABLE IF NOT EXISTS revisions (
			position INTEGER PRIMARY KEY,
			revision TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		);

		-- One summarized measurement per (benchmark, revision)
		CREATE TABLE IF NOT EXISTS results (
			benchmark TEXT NOT NULL,
			position INTEGER NOT NULL,
			value REAL NOT NULL,
			weight REAL NOT NULL,
			samples BLOB,  -- snappy-compressed little-endian float64s
			PRIMARY KEY (benchmark, position)
		);

		CREATE INDEX IF NOT EXISTS idx_results_benchmark ON results(benchmark);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *ResultStore) prepareStatements() error {
	var err error

	s.insertRev, err = s.db.Prepare(`
		INSERT INTO revisions (position, revision, created_at)
		VALUES ((SELECT COUNT(*) FROM revisions), ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare revision insert: %w", err)
	}

	s.selectRev, err = s.db.Prepare(`SELECT position FROM revisions WHERE revision = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare revision select: %w", err)
	}

	s.insertResult, err = s.db.Prepare(`
		INSERT OR REPLACE INTO results (benchmark, position, value, weight, samples)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}

	s.selectSeries, err = s.db.Prepare(`
		SELECT position, value, weight FROM results
		WHERE benchmark = ? ORDER BY position
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare series select: %w", err)
	}

	s.selectBlob, err = s.db.Prepare(`
		SELECT r.samples FROM results r
		JOIN revisions v ON v.position = r.position
		WHERE r.benchmark = ? AND v.revision = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare samples select: %w", err)
	}

	return nil
}

func (s *ResultStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// AddRevision registers a revision and returns its position. Adding a
// known revision is a no-op returning the existing position.
func (s *ResultStore) AddRevision(ctx context.Context, revision string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var pos int
	err := s.selectRev.QueryRowContext(ctx, revision).Scan(&pos)
	if err == nil {
		return pos, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up revision: %w", err)
	}

	if _, err := s.insertRev.ExecContext(ctx, revision, time.Now().UnixNano()); err != nil {
		return 0, fmt.Errorf("failed to insert revision: %w", err)
	}
	if err := s.selectRev.QueryRowContext(ctx, revision).Scan(&pos); err != nil {
		return 0, fmt.Errorf("failed to read back revision: %w", err)
	}
	return pos, nil
}

// PutResult stores a measurement, registering its revision if needed.
func (s *ResultStore) PutResult(ctx context.Context, res Result) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if res.Benchmark == "" {
		return errors.New("benchmark name is required")
	}

	pos, err := s.AddRevision(ctx, res.Revision)
	if err != nil {
		return err
	}

	var blob []byte
	if len(res.Samples) > 0 {
		blob = encodeSamples(res.Samples)
	}
	if _, err := s.insertResult.ExecContext(ctx, res.Benchmark, pos, res.Value, res.Weight, blob); err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// Series returns a benchmark's full history with NaN at revisions it
// has no result for.
func (s *ResultStore) Series(ctx context.Context, benchmark string) (Series, error) {
	if err := s.checkOpen(); err != nil {
		return Series{}, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM revisions`).Scan(&count); err != nil {
		return Series{}, fmt.Errorf("failed to count revisions: %w", err)
	}

	ser := Series{
		Benchmark: benchmark,
		Values:    make([]float64, count),
		Weights:   make([]float64, count),
	}
	for i := 0; i < count; i++ {
		ser.Values[i] = math.NaN()
		ser.Weights[i] = math.NaN()
	}

	rows, err := s.selectSeries.QueryContext(ctx, benchmark)
	if err != nil {
		return Series{}, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var pos int
		var value, weight float64
		if err := rows.Scan(&pos, &value, &weight); err != nil {
			return Series{}, fmt.Errorf("failed to scan result: %w", err)
		}
		if pos < 0 || pos >= count {
			continue
		}
		ser.Values[pos] = value
		ser.Weights[pos] = weight
		found = true
	}
	if err := rows.Err(); err != nil {
		return Series{}, fmt.Errorf("failed to read series: %w", err)
	}
	if !found {
		return Series{}, fmt.Errorf("benchmark %q: %w", benchmark, ErrNotFound)
	}
	return ser, nil
}

// Samples returns the raw sample values recorded for one measurement,
// or nil when none were stored.
func (s *ResultStore) Samples(ctx context.Context, benchmark, revision string) ([]float64, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var blob []byte
	err := s.selectBlob.QueryRowContext(ctx, benchmark, revision).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("result %q at %q: %w", benchmark, revision, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}
	if len(blob) == 0 {
		return nil, nil
	}
	return decodeSamples(blob)
}

// Benchmarks lists the names of all stored benchmarks.
func (s *ResultStore) Benchmarks(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT benchmark FROM results ORDER BY benchmark`)
	if err != nil {
		return nil, fmt.Errorf("failed to list benchmarks: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan benchmark: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Revisions lists all known revisions in position order.
func (s *ResultStore) Revisions(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT revision FROM revisions ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	defer rows.Close()

	var revs []string
	for rows.Next() {
		var rev string
		if err := rows.Scan(&rev); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		revs = append(revs, rev)
	}
	return revs, rows.Err()
}

// Close releases the store's database resources. Close is idempotent.
func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for _, stmt := range []*sql.Stmt{s.insertRev, s.selectRev, s.insertResult, s.selectSeries, s.selectBlob} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// encodeSamples packs samples as little-endian float64s and compresses
// them with snappy.
func encodeSamples(samples []float64) []byte {
	raw := make([]byte, 8*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}
	return snappy.Encode(nil, raw)
}

func decodeSamples(blob []byte) ([]float64, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress samples: %w", err)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("corrupt sample blob: %d bytes", len(raw))
	}
	samples := make([]float64, len(raw)/8)
	for i := range samples {
		samples[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return samples, nil
}
