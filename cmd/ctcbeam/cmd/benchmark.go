package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/ctcbeam/internal/benchmark"
	"github.com/MeKo-Tech/ctcbeam/internal/tensor"
	"github.com/spf13/cobra"
)

// newBenchmarkCommand builds the benchmark command.
func newBenchmarkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Measure decoding speed on random probability matrices",
		Long: `Decode random [T, C] matrices and [N, T, C] batches repeatedly and report
timings and allocations per beam width. The alphabet is taken from the
configuration or flags when one is set, otherwise the 36-symbol digit and
uppercase alphabet is used.

Examples:
  ctcbeam benchmark
  ctcbeam benchmark --beam-widths 1,10,100 --iterations 20
  ctcbeam benchmark --timesteps 64 --batch-size 32 --format json
  ctcbeam benchmark --save-input random.json`,
		Args: cobra.NoArgs,
		RunE: runBenchmarkCommand,
	}

	addDecoderFlags(cmd)
	cmd.Flags().Int("timesteps", 256, "timesteps per random sequence")
	cmd.Flags().Int("batch-size", 8, "sequences per batch")
	cmd.Flags().IntSlice("beam-widths", []int{1, 10, 50}, "beam widths to measure")
	cmd.Flags().Int("iterations", 10, "iterations per measurement")
	cmd.Flags().Int64("seed", 42, "random seed for the input matrices")
	cmd.Flags().StringP("format", "f", "text", "output format: text, json")
	cmd.Flags().String("save-input", "", "write the random batch to a tensor file (.json, .yaml, .csv)")
	return cmd
}

func runBenchmarkCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	flags := cmd.Flags()

	bcfg := benchmark.DefaultDecoderConfig()
	bcfg.Timesteps, _ = flags.GetInt("timesteps")
	bcfg.BatchSize, _ = flags.GetInt("batch-size")
	bcfg.BeamWidths, _ = flags.GetIntSlice("beam-widths")
	bcfg.Seed, _ = flags.GetInt64("seed")
	iterations, _ := flags.GetInt("iterations")
	format, _ := flags.GetString("format")
	saveInput, _ := flags.GetString("save-input")

	decoder := decoderConfigFromFlags(cfg, cmd)
	bcfg.TopK = decoder.TopK
	bcfg.Workers = decoder.Workers
	if decoder.Alphabet != "" || decoder.AlphabetPath != "" {
		cs, err := decoder.LoadCharset()
		if err != nil {
			return err
		}
		bcfg.Alphabet = cs.Alphabet()
	}

	b, err := benchmark.NewDecoderBenchmark(bcfg)
	if err != nil {
		return err
	}
	results, err := b.Run(iterations)
	if err != nil {
		return fmt.Errorf("benchmark failed: %w", err)
	}

	if saveInput != "" {
		in, err := tensor.FromBatch(b.Input())
		if err != nil {
			return err
		}
		if err := tensor.WriteFile(saveInput, in); err != nil {
			return fmt.Errorf("failed to save input: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Input written to %s\n", saveInput)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case "text":
		b.PrintDetailedResults(cmd.OutOrStdout())
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
