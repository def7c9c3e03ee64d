package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// ParallelConfig holds configuration for decoding many files.
type ParallelConfig struct {
	MaxWorkers       int              // Number of parallel workers (0 = runtime.NumCPU())
	ProgressCallback ProgressCallback // Optional progress reporting
	ContinueOnError  bool             // Record failures in the result instead of aborting
}

// DefaultParallelConfig returns one worker per CPU and fail-fast behaviour.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: runtime.NumCPU()}
}

type fileJob struct {
	index int
	path  string
}

type fileResult struct {
	index  int
	result *Result
	err    error
}

// ProcessFiles decodes files with a bounded worker pool. Results are returned
// in input order. Without ContinueOnError the first failure is returned and
// pending files are skipped; with it, failed files carry their message in
// Result.Error.
func (p *Pipeline) ProcessFiles(ctx context.Context, paths []string) ([]*Result, error) {
	if len(paths) == 0 {
		return nil, errors.New("no files provided")
	}
	if p == nil || p.Decoder == nil {
		return nil, errors.New("pipeline not initialized")
	}
	cfg := p.cfg.Parallel
	workers := min(max(cfg.MaxWorkers, 1), len(paths))
	progress := cfg.ProgressCallback
	if progress == nil {
		progress = NoOpProgressCallback{}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	progress.OnStart(len(paths))
	defer progress.OnComplete()

	jobs := make(chan fileJob)
	results := make(chan fileResult, len(paths))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go p.worker(ctx, jobs, results, &wg)
	}

	go func() {
		defer close(jobs)
		for i, path := range paths {
			select {
			case jobs <- fileJob{index: i, path: path}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	start := time.Now()
	ordered := make([]*Result, len(paths))
	errs := make([]error, len(paths))
	done := 0
	for r := range results {
		done++
		if r.err != nil {
			errs[r.index] = r.err
			progress.OnError(r.index, r.err)
			if !cfg.ContinueOnError {
				cancel()
			}
		} else {
			ordered[r.index] = r.result
		}
		progress.OnProgress(done, len(paths))
	}

	if !cfg.ContinueOnError {
		if err := firstError(errs); err != nil {
			return nil, err
		}
	}
	for i, err := range errs {
		if err != nil {
			ordered[i] = &Result{Source: paths[i], Error: err.Error()}
		}
	}
	if done < len(paths) {
		return nil, ctx.Err()
	}

	p.logger.Debug("Decoded files",
		"files", len(paths),
		"workers", workers,
		"duration", time.Since(start))
	return ordered, nil
}

// firstError prefers a real failure over the cancellations it caused.
func firstError(errs []error) error {
	var canceled error
	for i, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			if canceled == nil {
				canceled = fmt.Errorf("file %d: %w", i, err)
			}
		default:
			return fmt.Errorf("file %d: %w", i, err)
		}
	}
	return canceled
}

func (p *Pipeline) worker(ctx context.Context, jobs <-chan fileJob, results chan<- fileResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobs {
		if err := ctx.Err(); err != nil {
			results <- fileResult{index: job.index, err: err}
			continue
		}
		res, err := p.ProcessFile(ctx, job.path)
		results <- fileResult{index: job.index, result: res, err: err}
	}
}

// Stats summarises a batch run.
type Stats struct {
	TotalFiles       int           `json:"total_files"`
	ProcessedFiles   int           `json:"processed_files"`
	FailedFiles      int           `json:"failed_files"`
	Sequences        int           `json:"sequences"`
	WorkerCount      int           `json:"worker_count"`
	TotalDuration    time.Duration `json:"total_duration_ns"`
	AveragePerFile   time.Duration `json:"average_per_file_ns"`
	ThroughputPerSec float64       `json:"throughput_per_sec"`
}

// CalculateStats derives Stats from ProcessFiles output.
func CalculateStats(results []*Result, duration time.Duration, workers int) Stats {
	s := Stats{TotalFiles: len(results), WorkerCount: workers, TotalDuration: duration}
	for _, r := range results {
		if r == nil || r.Error != "" {
			s.FailedFiles++
			continue
		}
		s.ProcessedFiles++
		s.Sequences += len(r.Sequences)
	}
	if s.ProcessedFiles > 0 && duration > 0 {
		s.AveragePerFile = duration / time.Duration(s.ProcessedFiles)
		s.ThroughputPerSec = float64(s.ProcessedFiles) / duration.Seconds()
	}
	return s
}
