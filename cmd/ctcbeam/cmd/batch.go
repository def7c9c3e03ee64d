package cmd

import (
	"fmt"
	"runtime"
	"time"

	"github.com/MeKo-Tech/ctcbeam/internal/batch"
	"github.com/MeKo-Tech/ctcbeam/internal/config"
	"github.com/spf13/cobra"
)

// newBatchCommand builds the batch command for parallel decoding of many files.
func newBatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [files or directories...]",
		Short: "Decode many probability files in parallel",
		Long: `Decode many probability files in parallel. Directories are scanned for
supported files (JSON, YAML, CSV); results are reported in input order.

Examples:
  ctcbeam batch outputs/*.json --alphabet dict.txt
  ctcbeam batch outputs/ --recursive --workers 8 --alphabet dict.txt
  ctcbeam batch outputs/ --format json --output-file results.json --stats
  ctcbeam batch outputs/ --continue-on-error --exclude "*_raw.json"`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE:         runBatchCommand,
	}

	addDecoderFlags(cmd)

	// Output flags
	cmd.Flags().StringP("format", "f", "text", "output format: text, json, csv, yaml")
	cmd.Flags().Int("precision", 4, "decimals for probabilities in text and csv output")
	cmd.Flags().StringP("output-file", "o", "", "output file (default: stdout)")

	// Parallel processing flags
	cmd.Flags().IntP("workers", "w", 0, fmt.Sprintf("number of files decoded at once (default: %d)", runtime.NumCPU()))
	cmd.Flags().Bool("continue-on-error", false, "report failed files in the output instead of aborting")

	// File discovery flags
	cmd.Flags().BoolP("recursive", "r", false, "recursively scan directories")
	cmd.Flags().StringSlice("include", []string{"*.json", "*.yaml", "*.yml", "*.csv"}, "file patterns to include")
	cmd.Flags().StringSlice("exclude", []string{}, "file patterns to exclude")

	// Progress and monitoring flags
	cmd.Flags().Bool("progress", false, "show progress bar")
	cmd.Flags().Bool("quiet", false, "suppress progress output")
	cmd.Flags().Bool("stats", false, "show processing statistics")
	cmd.Flags().Bool("log-progress", false, "log progress through the structured logger")
	cmd.Flags().Duration("progress-interval", 100*time.Millisecond, "progress update interval")
	return cmd
}

// configToBatchConfig maps centralized configuration to batch.Config.
// Changed CLI flags override config file values.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) *batch.Config {
	batchConfig := batch.NewConfig(cfg)
	batchConfig.Decoder = decoderConfigFromFlags(cfg, cmd)
	batchConfig.Model = modelConfigFromFlags(cfg, cmd)
	flags := cmd.Flags()

	if flags.Changed("format") {
		batchConfig.Format, _ = flags.GetString("format")
	}
	if flags.Changed("precision") {
		batchConfig.Precision, _ = flags.GetInt("precision")
	}
	if flags.Changed("output-file") {
		batchConfig.OutputFile, _ = flags.GetString("output-file")
	}
	if flags.Changed("workers") {
		batchConfig.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("continue-on-error") {
		batchConfig.ContinueOnError, _ = flags.GetBool("continue-on-error")
	}
	if flags.Changed("recursive") {
		batchConfig.Recursive, _ = flags.GetBool("recursive")
	}
	if flags.Changed("include") {
		batchConfig.IncludePatterns, _ = flags.GetStringSlice("include")
	}
	if flags.Changed("exclude") {
		batchConfig.ExcludePatterns, _ = flags.GetStringSlice("exclude")
	}

	batchConfig.ShowProgress, _ = flags.GetBool("progress")
	batchConfig.Quiet, _ = flags.GetBool("quiet")
	batchConfig.ShowStats, _ = flags.GetBool("stats")
	batchConfig.LogProgress, _ = flags.GetBool("log-progress")
	batchConfig.ProgressInterval, _ = flags.GetDuration("progress-interval")
	batchConfig.ProgressWriter = cmd.ErrOrStderr()
	return batchConfig
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	batchConfig := configToBatchConfig(cfg, cmd)

	if !batchConfig.Quiet {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Processing %d inputs...\n", len(args))
	}

	result, err := batch.ProcessBatch(cmd.Context(), args, batchConfig)
	if err != nil {
		return fmt.Errorf("batch processing failed: %w", err)
	}

	if err := result.SaveResults(cmd.OutOrStdout(), batchConfig.Format, batchConfig.Precision,
		batchConfig.OutputFile, batchConfig.Quiet); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	if batchConfig.ShowStats && !batchConfig.Quiet {
		result.PrintStats(cmd.ErrOrStderr())
	}
	return nil
}
