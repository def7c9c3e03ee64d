// Package benchmark times beam search decoding on synthetic probability
// matrices.
package benchmark

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/ctcbeam/internal/beamsearch"
	"github.com/MeKo-Tech/ctcbeam/internal/testutil"
)

// Timer provides simple timing utilities for benchmarking.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewTimer creates a new timer with the given name.
func NewTimer(name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
	}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

func (t *Timer) String() string {
	return fmt.Sprintf("%s: %v", t.name, t.duration)
}

// MemoryStats holds memory usage statistics.
type MemoryStats struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	Mallocs         uint64 `json:"mallocs"`
	NumGC           uint32 `json:"num_gc"`
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		Mallocs:         m.Mallocs,
		NumGC:           m.NumGC,
	}
}

// Result holds the outcome of one named benchmark.
type Result struct {
	Name         string        `json:"name"`
	Duration     time.Duration `json:"duration_ns"`
	MemoryBefore MemoryStats   `json:"memory_before"`
	MemoryAfter  MemoryStats   `json:"memory_after"`
	Iterations   int           `json:"iterations"`
	Error        error         `json:"-"`
}

// PerIteration is the mean duration of one iteration.
func (r Result) PerIteration() time.Duration {
	if r.Iterations == 0 {
		return 0
	}
	return r.Duration / time.Duration(r.Iterations)
}

// AllocsPerIteration is the mean number of heap allocations per iteration.
func (r Result) AllocsPerIteration() uint64 {
	if r.Iterations == 0 || r.MemoryAfter.Mallocs < r.MemoryBefore.Mallocs {
		return 0
	}
	return (r.MemoryAfter.Mallocs - r.MemoryBefore.Mallocs) / uint64(r.Iterations) //nolint:gosec // G115: iterations is positive
}

// BytesPerIteration is the mean number of allocated bytes per iteration.
func (r Result) BytesPerIteration() uint64 {
	if r.Iterations == 0 || r.MemoryAfter.TotalAllocBytes < r.MemoryBefore.TotalAllocBytes {
		return 0
	}
	return (r.MemoryAfter.TotalAllocBytes - r.MemoryBefore.TotalAllocBytes) / uint64(r.Iterations) //nolint:gosec // G115: iterations is positive
}

func (r Result) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s: ERROR - %v", r.Name, r.Error)
	}
	return fmt.Sprintf("%s: %d iterations, avg: %v, total: %v, %d allocs/op, %d KB/op",
		r.Name, r.Iterations, r.PerIteration(), r.Duration, r.AllocsPerIteration(), r.BytesPerIteration()/1024)
}

type namedFunc struct {
	name string
	fn   func() error
}

// Suite runs a list of named functions and keeps their results.
type Suite struct {
	benchmarks []namedFunc
	results    []Result
	mu         sync.Mutex
}

// NewSuite creates an empty suite.
func NewSuite() *Suite {
	return &Suite{}
}

// Add registers fn under name.
func (s *Suite) Add(name string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.benchmarks = append(s.benchmarks, namedFunc{name: name, fn: fn})
}

// Run runs a single benchmark with the specified number of iterations.
func (s *Suite) Run(name string, iterations int) Result {
	s.mu.Lock()
	var (
		found bool
		b     namedFunc
	)
	for _, candidate := range s.benchmarks {
		if candidate.name == name {
			b, found = candidate, true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return Result{Name: name, Error: fmt.Errorf("benchmark '%s' not found", name)}
	}
	return run(b, iterations)
}

// RunAll runs every registered benchmark in registration order.
func (s *Suite) RunAll(iterations int) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = make([]Result, 0, len(s.benchmarks))
	for _, b := range s.benchmarks {
		s.results = append(s.results, run(b, iterations))
	}
	return s.results
}

// Results returns the results of the last RunAll.
func (s *Suite) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// PrintResults writes one line per result.
func (s *Suite) PrintResults(w io.Writer) {
	_, _ = fmt.Fprintln(w, "\nBenchmark Results:")
	_, _ = fmt.Fprintln(w, "==================")
	for _, r := range s.Results() {
		_, _ = fmt.Fprintln(w, r.String())
	}
}

func run(b namedFunc, iterations int) Result {
	if iterations <= 0 {
		return Result{Name: b.name, Error: errors.New("iterations must be positive")}
	}

	runtime.GC()
	memBefore := GetMemoryStats()
	timer := NewTimer(b.name)

	var err error
	done := 0
	for range iterations {
		if err = b.fn(); err != nil {
			break
		}
		done++
	}

	duration := timer.Stop()
	return Result{
		Name:         b.name,
		Duration:     duration,
		MemoryBefore: memBefore,
		MemoryAfter:  GetMemoryStats(),
		Iterations:   max(done, 1),
		Error:        err,
	}
}

// DecoderConfig describes the synthetic workload.
type DecoderConfig struct {
	Timesteps  int
	BatchSize  int
	BeamWidths []int
	TopK       int
	Workers    int
	Seed       int64
	Alphabet   beamsearch.Alphabet
}

// DefaultDecoderConfig matches the reference workload: 256 timesteps over a
// 36-symbol alphabet, batches of 8.
func DefaultDecoderConfig() DecoderConfig {
	return DecoderConfig{
		Timesteps:  256,
		BatchSize:  8,
		BeamWidths: []int{1, beamsearch.DefaultBeamWidth, 50},
		TopK:       beamsearch.DefaultTopK,
		Seed:       42,
		Alphabet:   beamsearch.Alphabet(testutil.TestAlphabet),
	}
}

// DecoderResult pairs single-sequence and batch timings for one beam width.
type DecoderResult struct {
	BeamWidth       int     `json:"beam_width"`
	Single          Result  `json:"single"`
	Batch           Result  `json:"batch"`
	SequencesPerSec float64 `json:"sequences_per_sec"`
}

// DecoderBenchmark times Decode and DecodeBatch for each configured beam width.
type DecoderBenchmark struct {
	cfg     DecoderConfig
	input   [][][]float32
	results []DecoderResult
}

// NewDecoderBenchmark validates cfg and returns a benchmark for it.
func NewDecoderBenchmark(cfg DecoderConfig) (*DecoderBenchmark, error) {
	switch {
	case cfg.Timesteps <= 0:
		return nil, fmt.Errorf("%w: timesteps must be positive", beamsearch.ErrInvalidArgument)
	case cfg.BatchSize <= 0:
		return nil, fmt.Errorf("%w: batch size must be positive", beamsearch.ErrInvalidArgument)
	case len(cfg.BeamWidths) == 0:
		return nil, fmt.Errorf("%w: no beam widths given", beamsearch.ErrInvalidArgument)
	}
	if len(cfg.Alphabet) == 0 {
		cfg.Alphabet = beamsearch.Alphabet(testutil.TestAlphabet)
	}
	return &DecoderBenchmark{cfg: cfg}, nil
}

// Run decodes the same random inputs iterations times per beam width.
func (b *DecoderBenchmark) Run(iterations int) ([]DecoderResult, error) {
	rng := rand.New(rand.NewSource(b.cfg.Seed)) //nolint:gosec // G404: synthetic benchmark input
	classes := b.cfg.Alphabet.Classes()
	batch := testutil.RandomBatch(rng, b.cfg.BatchSize, b.cfg.Timesteps, classes)
	b.input = batch

	b.results = make([]DecoderResult, 0, len(b.cfg.BeamWidths))
	for _, width := range b.cfg.BeamWidths {
		dec, err := beamsearch.New(b.cfg.Alphabet,
			beamsearch.WithBeamWidth(width),
			beamsearch.WithTopK(b.cfg.TopK),
			beamsearch.WithWorkers(b.cfg.Workers))
		if err != nil {
			return nil, fmt.Errorf("beam width %d: %w", width, err)
		}

		suite := NewSuite()
		single := fmt.Sprintf("decode_%dx%d_beam%d", b.cfg.Timesteps, classes, width)
		batched := fmt.Sprintf("decode_batch_%dx%dx%d_beam%d", b.cfg.BatchSize, b.cfg.Timesteps, classes, width)
		suite.Add(single, func() error {
			_, err := dec.Decode(batch[0])
			return err
		})
		suite.Add(batched, func() error {
			_, err := dec.DecodeBatch(batch)
			return err
		})
		results := suite.RunAll(iterations)
		for _, r := range results {
			if r.Error != nil {
				return nil, fmt.Errorf("%s: %w", r.Name, r.Error)
			}
		}

		res := DecoderResult{BeamWidth: width, Single: results[0], Batch: results[1]}
		if per := res.Batch.PerIteration(); per > 0 {
			res.SequencesPerSec = float64(b.cfg.BatchSize) / per.Seconds()
		}
		b.results = append(b.results, res)
	}
	return b.results, nil
}

// Input returns the [N][T][C] batch decoded by the last Run.
func (b *DecoderBenchmark) Input() [][][]float32 {
	return b.input
}

// Results returns the results of the last Run.
func (b *DecoderBenchmark) Results() []DecoderResult {
	return b.results
}

// PrintDetailedResults writes a system summary and one block per beam width.
func (b *DecoderBenchmark) PrintDetailedResults(w io.Writer) {
	if len(b.results) == 0 {
		_, _ = fmt.Fprintln(w, "No benchmark results available")
		return
	}

	_, _ = fmt.Fprintln(w, strings.Repeat("=", 60))
	_, _ = fmt.Fprintln(w, "CTC Prefix Beam Search Benchmark")
	_, _ = fmt.Fprintln(w, strings.Repeat("=", 60))
	_, _ = fmt.Fprintf(w, "System: %s/%s, %d CPUs, %s\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version())
	_, _ = fmt.Fprintf(w, "Workload: %d timesteps, %d classes, batch of %d, topk %d\n\n",
		b.cfg.Timesteps, b.cfg.Alphabet.Classes(), b.cfg.BatchSize, b.cfg.TopK)

	for _, r := range b.results {
		_, _ = fmt.Fprintf(w, "Beam width %d:\n", r.BeamWidth)
		_, _ = fmt.Fprintf(w, "  %s\n", r.Single.String())
		_, _ = fmt.Fprintf(w, "  %s\n", r.Batch.String())
		_, _ = fmt.Fprintf(w, "  Throughput: %.1f sequences/sec\n", r.SequencesPerSec)
	}
}
