// Package pipeline turns probability tensors (or model inputs) into ranked
// predictions. It owns the configured decoder, the alphabet and the optional
// model session, and is shared by the CLI, the batch runner and the server.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/MeKo-Tech/ctcbeam/internal/alphabet"
	"github.com/MeKo-Tech/ctcbeam/internal/beamsearch"
	"github.com/MeKo-Tech/ctcbeam/internal/config"
	"github.com/MeKo-Tech/ctcbeam/internal/onnx"
)

// Config holds configuration for the decode pipeline.
type Config struct {
	Decoder  config.DecoderConfig
	Model    onnx.Config
	Parallel ParallelConfig
	Logger   *slog.Logger
}

// DefaultConfig returns decoder defaults, no model and one worker per CPU.
func DefaultConfig() Config {
	return Config{
		Decoder:  config.DefaultConfig().Decoder,
		Model:    onnx.DefaultConfig(),
		Parallel: DefaultParallelConfig(),
	}
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg Config
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithDecoderConfig replaces the decoder section wholesale.
func (b *Builder) WithDecoderConfig(d config.DecoderConfig) *Builder {
	b.cfg.Decoder = d
	return b
}

// WithAlphabet sets an inline alphabet, one symbol per rune.
func (b *Builder) WithAlphabet(symbols string) *Builder {
	b.cfg.Decoder.Alphabet = symbols
	b.cfg.Decoder.AlphabetPath = ""
	return b
}

// WithBeamWidth sets the beam width.
func (b *Builder) WithBeamWidth(n int) *Builder {
	b.cfg.Decoder.BeamWidth = n
	return b
}

// WithTopK sets the number of hypotheses per sequence.
func (b *Builder) WithTopK(n int) *Builder {
	b.cfg.Decoder.TopK = n
	return b
}

// WithConstraints sets per-position constraint entries.
func (b *Builder) WithConstraints(entries []string, sep string) *Builder {
	b.cfg.Decoder.Constraints = entries
	b.cfg.Decoder.ConstraintSep = sep
	return b
}

// WithMethod selects beam or greedy decoding.
func (b *Builder) WithMethod(method string) *Builder {
	if method != "" {
		b.cfg.Decoder.Method = method
	}
	return b
}

// WithClassesFirst marks inputs as [N, C, T].
func (b *Builder) WithClassesFirst(enabled bool) *Builder {
	b.cfg.Decoder.ClassesFirst = enabled
	return b
}

// WithModel enables model inference in front of the decoder.
func (b *Builder) WithModel(model onnx.Config) *Builder {
	b.cfg.Model = model
	return b
}

// WithParallelWorkers bounds the number of files decoded at once.
func (b *Builder) WithParallelWorkers(workers int) *Builder {
	if workers > 0 {
		b.cfg.Parallel.MaxWorkers = workers
	}
	return b
}

// WithProgressCallback sets the callback used by ProcessFiles.
func (b *Builder) WithProgressCallback(cb ProgressCallback) *Builder {
	b.cfg.Parallel.ProgressCallback = cb
	return b
}

// WithContinueOnError keeps ProcessFiles going after a failed file.
func (b *Builder) WithContinueOnError(enabled bool) *Builder {
	b.cfg.Parallel.ContinueOnError = enabled
	return b
}

// WithLogger sets the logger for the pipeline and its decoder.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.cfg.Logger = logger
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks the decoder section and the parallel settings.
func (b *Builder) Validate() error {
	if err := b.cfg.Decoder.Validate(); err != nil {
		return err
	}
	if b.cfg.Parallel.MaxWorkers < 0 {
		return errors.New("parallel workers must not be negative")
	}
	return nil
}

// Pipeline holds the ready-to-use decoder and optional model session.
type Pipeline struct {
	cfg         Config
	Decoder     *beamsearch.Decoder
	Charset     *alphabet.Charset
	Constraints beamsearch.Constraints
	Session     *onnx.Session
	logger      *slog.Logger
}

// Build loads the alphabet, resolves constraints, creates the decoder and,
// when a model path is configured, the model session.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	logger := b.cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dec, cs, err := b.cfg.Decoder.NewDecoder(beamsearch.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init decoder: %w", err)
	}
	constraints, err := b.cfg.Decoder.ResolveConstraints(cs)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:         b.cfg,
		Decoder:     dec,
		Charset:     cs,
		Constraints: constraints,
		logger:      logger,
	}
	if p.cfg.Parallel.MaxWorkers == 0 {
		p.cfg.Parallel.MaxWorkers = runtime.NumCPU()
	}

	if b.cfg.Model.ModelPath != "" {
		sess, err := onnx.NewSession(b.cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("init model: %w", err)
		}
		p.Session = sess
	}

	logger.Debug("Pipeline ready",
		"alphabet_size", cs.Size(),
		"beam_width", dec.BeamWidth(),
		"topk", dec.TopK(),
		"method", b.cfg.Decoder.Method,
		"model", b.cfg.Model.ModelPath != "")
	return p, nil
}

// Close releases the model session, if any.
func (p *Pipeline) Close() error {
	if p == nil || p.Session == nil {
		return nil
	}
	err := p.Session.Close()
	p.Session = nil
	return err
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Alphabet returns the decoder alphabet without the blank.
func (p *Pipeline) Alphabet() beamsearch.Alphabet { return p.Charset.Alphabet() }

// Info reports the decoder setup for health and alphabet endpoints.
func (p *Pipeline) Info() map[string]any {
	info := map[string]any{
		"alphabet_size": p.Charset.Size(),
		"beam_width":    p.Decoder.BeamWidth(),
		"topk_paths":    p.Decoder.TopK(),
		"workers":       p.Decoder.Workers(),
		"method":        p.cfg.Decoder.Method,
		"logits":        p.cfg.Decoder.Logits,
		"constraints":   len(p.Constraints),
	}
	if p.Session != nil {
		info["model"] = map[string]any{
			"path":         p.cfg.Model.ModelPath,
			"input_shape":  p.Session.InputShape(),
			"output_shape": p.Session.OutputShape(),
		}
	}
	return info
}
