package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/ctcbeam/internal/config"
	"github.com/MeKo-Tech/ctcbeam/internal/onnx"
	"github.com/MeKo-Tech/ctcbeam/internal/pipeline"
	"github.com/MeKo-Tech/ctcbeam/internal/tensor"
	"github.com/spf13/cobra"
)

// newDecodeCommand builds the decode command.
func newDecodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [files...]",
		Short: "Decode probability tensors with CTC prefix beam search",
		Long: `Decode one or more probability files of shape [T, C] or [N, T, C], where C is
the alphabet size plus one and the last class is the CTC blank.

Supported input formats: JSON and YAML (nested arrays or {"shape", "data"}),
CSV (one timestep per row). Use "-" to read from stdin.

Examples:
  ctcbeam decode probs.json --alphabet dict.txt
  ctcbeam decode probs.json --symbols AB --beam-width 20 --topk 3
  ctcbeam decode plate.json --alphabet plates.txt --constraint ABCDEFGHIJKLMNOPQRSTUVWXYZ --constraint 0123456789
  cat probs.json | ctcbeam decode - --symbols 0123456789 --format json
  ctcbeam decode features.json --model crnn.onnx --alphabet dict.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: runDecodeCommand,
	}

	addDecoderFlags(cmd)
	cmd.Flags().StringP("format", "f", "text", "output format: text, json, csv, yaml")
	cmd.Flags().Int("precision", pipeline.DefaultPrecision, "decimals for probabilities in text and csv output")
	cmd.Flags().StringP("output-file", "o", "", "write results to file instead of stdout")
	cmd.Flags().String("input-format", "json", "format of stdin input: json, yaml, csv")
	return cmd
}

// addDecoderFlags registers the alphabet and search flags shared by decode,
// batch and serve.
func addDecoderFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("alphabet", "a", "", "alphabet dictionary file, one symbol per line (comma-separated to merge)")
	cmd.Flags().String("symbols", "", "inline alphabet, one symbol per character")
	cmd.Flags().Bool("space", false, "append a space symbol to the alphabet")
	cmd.Flags().IntP("beam-width", "b", 0, "number of prefixes kept per timestep (default from config)")
	cmd.Flags().IntP("topk", "k", 0, "number of ranked results per sequence (default from config)")
	cmd.Flags().StringArray("constraint", nil, "allowed symbols for the next label position (repeatable)")
	cmd.Flags().String("constraints-file", "", "file with one constraint entry per line")
	cmd.Flags().String("constraint-sep", "", "split constraint entries on this separator instead of per character")
	cmd.Flags().String("method", "", "decoding method: beam or greedy")
	cmd.Flags().Bool("logits", false, "apply softmax to every timestep before decoding")
	cmd.Flags().Bool("classes-first", false, "inputs are laid out as [N, C, T]")
	cmd.Flags().IntP("decoder-workers", "j", 0, "goroutines used for batched sequences (0 = one per CPU)")
	cmd.Flags().String("model", "", "ONNX model to run before decoding")
}

// decoderConfigFromFlags applies changed decoder flags on top of the
// configured decoder section.
func decoderConfigFromFlags(cfg *config.Config, cmd *cobra.Command) config.DecoderConfig {
	d := cfg.Decoder
	flags := cmd.Flags()

	if flags.Changed("alphabet") {
		d.AlphabetPath, _ = flags.GetString("alphabet")
		d.Alphabet = ""
	}
	if flags.Changed("symbols") {
		d.Alphabet, _ = flags.GetString("symbols")
		d.AlphabetPath = ""
	}
	if flags.Changed("space") {
		d.SpaceSymbol, _ = flags.GetBool("space")
	}
	if flags.Changed("beam-width") {
		d.BeamWidth, _ = flags.GetInt("beam-width")
	}
	if flags.Changed("topk") {
		d.TopK, _ = flags.GetInt("topk")
	}
	if flags.Changed("constraint") {
		d.Constraints, _ = flags.GetStringArray("constraint")
		d.ConstraintsPath = ""
	}
	if flags.Changed("constraints-file") {
		d.ConstraintsPath, _ = flags.GetString("constraints-file")
		d.Constraints = nil
	}
	if flags.Changed("constraint-sep") {
		d.ConstraintSep, _ = flags.GetString("constraint-sep")
	}
	if flags.Changed("method") {
		d.Method, _ = flags.GetString("method")
	}
	if flags.Changed("logits") {
		d.Logits, _ = flags.GetBool("logits")
	}
	if flags.Changed("classes-first") {
		d.ClassesFirst, _ = flags.GetBool("classes-first")
	}
	if flags.Changed("decoder-workers") {
		d.Workers, _ = flags.GetInt("decoder-workers")
	}
	return d
}

func modelConfigFromFlags(cfg *config.Config, cmd *cobra.Command) onnx.Config {
	model := cfg.ToONNXConfig()
	if cmd.Flags().Changed("model") {
		model.ModelPath, _ = cmd.Flags().GetString("model")
	}
	return model
}

func runDecodeCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	format := cfg.Output.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	precision := cfg.Output.Precision
	if cmd.Flags().Changed("precision") {
		precision, _ = cmd.Flags().GetInt("precision")
	}
	outputFile := cfg.Output.File
	if cmd.Flags().Changed("output-file") {
		outputFile, _ = cmd.Flags().GetString("output-file")
	}
	inputFormat, _ := cmd.Flags().GetString("input-format")

	pl, err := pipeline.NewBuilder().
		WithDecoderConfig(decoderConfigFromFlags(cfg, cmd)).
		WithModel(modelConfigFromFlags(cfg, cmd)).
		Build()
	if err != nil {
		return fmt.Errorf("failed to initialize decoder: %w", err)
	}
	defer func() { _ = pl.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]*pipeline.Result, 0, len(args))
	for _, path := range args {
		var res *pipeline.Result
		if path == "-" {
			res, err = decodeStdin(ctx, cmd, pl, inputFormat)
		} else {
			res, err = pl.ProcessFile(ctx, path)
		}
		if err != nil {
			return err
		}
		if best, ok := res.Best(); ok {
			slog.Debug("Decoded input",
				"source", path,
				"best", best.Text,
				"probability", best.Probability,
				"decode_ms", res.Processing.DecodeNs/1e6)
		}
		results = append(results, res)
	}

	output, err := pipeline.Format(results, format, precision)
	if err != nil {
		return err
	}
	if outputFile == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), output)
		return err
	}
	if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Results written to %s\n", outputFile)
	return nil
}

func decodeStdin(ctx context.Context, cmd *cobra.Command, pl *pipeline.Pipeline, inputFormat string) (*pipeline.Result, error) {
	format, err := tensor.ParseFormat(inputFormat)
	if err != nil {
		return nil, err
	}
	t, err := tensor.Read(cmd.InOrStdin(), format)
	if err != nil {
		return nil, fmt.Errorf("stdin: %w", err)
	}
	res, err := pl.ProcessTensor(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("stdin: %w", err)
	}
	res.Source = "-"
	return res, nil
}
