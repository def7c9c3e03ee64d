// Package batch decodes many probability files in parallel and formats the
// combined results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/ctcbeam/internal/pipeline"
)

// ProcessBatch discovers tensor files under paths and decodes them.
func ProcessBatch(ctx context.Context, paths []string, config *Config) (*Result, error) {
	files, err := discoverFiles(paths, config.Recursive, config.IncludePatterns, config.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no probability files found")
	}

	var callbacks pipeline.MultiProgressCallback
	if config.ShowProgress && !config.Quiet {
		callbacks = append(callbacks, pipeline.NewConsoleProgressCallback(config.ProgressWriter, "Decoding: ").
			WithUpdateInterval(config.ProgressInterval))
	}
	if config.LogProgress {
		callbacks = append(callbacks, pipeline.NewLogProgressCallback(slog.Default(), slog.LevelInfo))
	}
	var progress pipeline.ProgressCallback
	switch len(callbacks) {
	case 0:
	case 1:
		progress = callbacks[0]
	default:
		progress = callbacks
	}

	pl, err := buildPipeline(config, progress)
	if err != nil {
		return nil, fmt.Errorf("failed to build decode pipeline: %w", err)
	}
	defer func() {
		if err := pl.Close(); err != nil {
			slog.Error("Error closing pipeline", "error", err)
		}
	}()

	start := time.Now()
	results, err := pl.ProcessFiles(ctx, files)
	duration := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("batch decoding failed: %w", err)
	}

	slog.Debug("Batch finished", "files", len(files), "duration", duration)
	return &Result{
		Results:     results,
		Files:       files,
		Duration:    duration,
		WorkerCount: pl.Config().Parallel.MaxWorkers,
	}, nil
}

// buildPipeline creates a decode pipeline from the batch configuration.
func buildPipeline(config *Config, progress pipeline.ProgressCallback) (*pipeline.Pipeline, error) {
	b := pipeline.NewBuilder().
		WithDecoderConfig(config.Decoder).
		WithModel(config.Model).
		WithParallelWorkers(config.Workers).
		WithContinueOnError(config.ContinueOnError)
	if progress != nil {
		b = b.WithProgressCallback(progress)
	}
	return b.Build()
}
