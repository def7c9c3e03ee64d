package batch

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MeKo-Tech/ctcbeam/internal/config"
	"github.com/MeKo-Tech/ctcbeam/internal/onnx"
	"github.com/MeKo-Tech/ctcbeam/internal/pipeline"
)

// Config holds all configuration for batch decoding.
type Config struct {
	Decoder config.DecoderConfig
	Model   onnx.Config

	// Output settings
	Format     string
	OutputFile string
	Precision  int

	// Parallel processing settings
	Workers         int
	ContinueOnError bool

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Progress settings
	ShowProgress     bool
	Quiet            bool
	ShowStats        bool
	LogProgress      bool
	ProgressInterval time.Duration
	ProgressWriter   io.Writer
}

// NewConfig derives a batch configuration from the application configuration.
func NewConfig(app *config.Config) *Config {
	return &Config{
		Decoder:          app.Decoder,
		Model:            app.ToONNXConfig(),
		Format:           app.Output.Format,
		OutputFile:       app.Output.File,
		Precision:        app.Output.Precision,
		Workers:          app.Batch.Workers,
		ContinueOnError:  app.Batch.ContinueOnError,
		Recursive:        app.Batch.Recursive,
		IncludePatterns:  app.Batch.Include,
		ExcludePatterns:  app.Batch.Exclude,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Result holds the result of batch decoding.
type Result struct {
	Results     []*pipeline.Result
	Files       []string
	Duration    time.Duration
	WorkerCount int
}

// FormatResults renders the results in the given format.
func (r *Result) FormatResults(format string, precision int) (string, error) {
	return pipeline.Format(r.Results, format, precision)
}

// SaveResults writes the formatted results to outputFile, or to w when
// outputFile is empty.
func (r *Result) SaveResults(w io.Writer, format string, precision int, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format, precision)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile == "" {
		_, err = fmt.Fprint(w, output)
		return err
	}
	if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if !quiet {
		_, _ = fmt.Fprintf(w, "Results written to %s\n", outputFile)
	}
	return nil
}

// Stats computes processing statistics.
func (r *Result) Stats() pipeline.Stats {
	return pipeline.CalculateStats(r.Results, r.Duration, r.WorkerCount)
}

// PrintStats prints processing statistics.
func (r *Result) PrintStats(w io.Writer) {
	stats := r.Stats()
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total files: %d\n", stats.TotalFiles)
	_, _ = fmt.Fprintf(w, "  Processed: %d\n", stats.ProcessedFiles)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", stats.FailedFiles)
	_, _ = fmt.Fprintf(w, "  Sequences: %d\n", stats.Sequences)
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", stats.WorkerCount)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", stats.TotalDuration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Avg per file: %v\n", stats.AveragePerFile.Round(time.Microsecond))
	_, _ = fmt.Fprintf(w, "  Throughput: %.1f files/sec\n", stats.ThroughputPerSec)
}
