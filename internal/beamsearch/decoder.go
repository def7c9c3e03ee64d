package beamsearch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

const (
	// DefaultBeamWidth is the number of beams kept after each timestep.
	DefaultBeamWidth = 10
	// DefaultTopK is the number of hypotheses returned per sequence.
	DefaultTopK = 5

	// cancelCheckInterval is how many timesteps run between context checks.
	cancelCheckInterval = 32
)

// Prediction is one ranked decoding hypothesis.
type Prediction struct {
	Text        string  `json:"text" yaml:"text"`
	Probability float64 `json:"probability" yaml:"probability"`
	Label       []int   `json:"label" yaml:"label"`
}

// Config holds decoder settings.
type Config struct {
	BeamWidth   int
	TopK        int
	Constraints Constraints
	Workers     int // batch parallelism (0 = runtime.NumCPU())
	Logger      *slog.Logger
}

// DefaultConfig returns the default decoder configuration.
func DefaultConfig() Config {
	return Config{
		BeamWidth: DefaultBeamWidth,
		TopK:      DefaultTopK,
		Workers:   0,
	}
}

// Option mutates a decoder Config.
type Option func(*Config)

// WithBeamWidth sets the number of beams kept per timestep.
func WithBeamWidth(n int) Option { return func(c *Config) { c.BeamWidth = n } }

// WithTopK sets the number of hypotheses returned.
func WithTopK(n int) Option { return func(c *Config) { c.TopK = n } }

// WithConstraints restricts symbols per label position.
func WithConstraints(cs Constraints) Option { return func(c *Config) { c.Constraints = cs } }

// WithWorkers bounds batch parallelism; 0 uses one worker per CPU.
func WithWorkers(n int) Option { return func(c *Config) { c.Workers = n } }

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

// Decoder runs CTC prefix beam search for a fixed alphabet and configuration.
// It holds no per-call state and is safe for concurrent use.
type Decoder struct {
	alphabet   Alphabet
	index      map[string]int
	beamWidth  int
	topK       int
	workers    int
	candidates candidateSet
	logger     *slog.Logger
}

// New validates the alphabet and options and returns a Decoder.
func New(alphabet Alphabet, opts ...Option) (*Decoder, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewWithConfig(alphabet, cfg)
}

// NewWithConfig is New with an explicit Config.
func NewWithConfig(alphabet Alphabet, cfg Config) (*Decoder, error) {
	if len(alphabet) == 0 {
		return nil, ErrEmptyAlphabet
	}
	if cfg.BeamWidth <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBeamWidth, cfg.BeamWidth)
	}
	if cfg.TopK <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, cfg.TopK)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkers, cfg.Workers)
	}

	index := make(map[string]int, len(alphabet))
	for i, sym := range alphabet {
		if _, dup := index[sym]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSymbol, sym)
		}
		index[sym] = i
	}

	candidates, err := resolveConstraints(index, len(alphabet), cfg.Constraints)
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Decoder{
		alphabet:   append(Alphabet(nil), alphabet...),
		index:      index,
		beamWidth:  cfg.BeamWidth,
		topK:       cfg.TopK,
		workers:    workers,
		candidates: candidates,
		logger:     logger,
	}, nil
}

// Alphabet returns a copy of the decoder's alphabet.
func (d *Decoder) Alphabet() Alphabet {
	return append(Alphabet(nil), d.alphabet...)
}

// BeamWidth returns the configured beam width.
func (d *Decoder) BeamWidth() int { return d.beamWidth }

// TopK returns the configured number of hypotheses.
func (d *Decoder) TopK() int { return d.topK }

// Workers returns the batch parallelism.
func (d *Decoder) Workers() int { return d.workers }

// Decode runs beam search over frames, a [T][A+1] timestep-major matrix whose
// last column is the blank probability. Probabilities are assumed to be
// non-negative; NaN or negative input yields meaningless scores, not an error.
func (d *Decoder) Decode(frames [][]float32) ([]Prediction, error) {
	return d.DecodeContext(context.Background(), frames)
}

// DecodeContext is Decode that stops with ctx.Err() once ctx is done.
func (d *Decoder) DecodeContext(ctx context.Context, frames [][]float32) ([]Prediction, error) {
	if err := d.validateFrames(frames); err != nil {
		return nil, err
	}
	return d.decode(ctx, frames)
}

func (d *Decoder) validateFrames(frames [][]float32) error {
	want := d.alphabet.Classes()
	for t, frame := range frames {
		if len(frame) != want {
			return fmt.Errorf("%w: timestep %d has %d values, want %d", ErrFrameShape, t, len(frame), want)
		}
	}
	return nil
}

// decode assumes frames are valid. Timesteps are strictly sequential.
func (d *Decoder) decode(ctx context.Context, frames [][]float32) ([]Prediction, error) {
	start := time.Now()
	blank := d.alphabet.Blank()

	reg := rootRegistry()
	for t, frame := range frames {
		if t%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		reg = expand(reg, frame, d.beamWidth, blank, d.candidates)
	}

	beams := selectTop(reg, d.topK)
	out := make([]Prediction, len(beams))
	for i, b := range beams {
		out[i] = Prediction{
			Text:        b.text(d.alphabet),
			Probability: b.PTotal,
			Label:       b.Label(),
		}
	}

	d.logger.Debug("Decoded sequence",
		"timesteps", len(frames),
		"final_beams", len(reg),
		"returned", len(out),
		"duration", time.Since(start))
	return out, nil
}

// Decode is a one-shot helper: it builds a Decoder and decodes a single sequence.
func Decode(frames [][]float32, alphabet Alphabet, beamWidth, topkPaths int, constraints Constraints) ([]Prediction, error) {
	d, err := New(alphabet, WithBeamWidth(beamWidth), WithTopK(topkPaths), WithConstraints(constraints))
	if err != nil {
		return nil, err
	}
	return d.Decode(frames)
}
