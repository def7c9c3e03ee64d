package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MeKo-Tech/ctcbeam/internal/beamsearch"
	"github.com/MeKo-Tech/ctcbeam/internal/config"
	"github.com/MeKo-Tech/ctcbeam/internal/ctc"
	"github.com/MeKo-Tech/ctcbeam/internal/tensor"
)

// SequenceResult holds the ranked predictions for one sequence of a tensor.
type SequenceResult struct {
	Index       int                     `json:"index" yaml:"index"`
	Timesteps   int                     `json:"timesteps" yaml:"timesteps"`
	Predictions []beamsearch.Prediction `json:"predictions" yaml:"predictions"`
}

// Result is the decode output for one tensor or file.
type Result struct {
	Source     string           `json:"source,omitempty" yaml:"source,omitempty"`
	Method     string           `json:"method" yaml:"method"`
	Shape      []int64          `json:"shape" yaml:"shape"`
	Sequences  []SequenceResult `json:"sequences" yaml:"sequences"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	Processing struct {
		ModelNs  int64 `json:"model_ns" yaml:"model_ns"`
		DecodeNs int64 `json:"decode_ns" yaml:"decode_ns"`
		TotalNs  int64 `json:"total_ns" yaml:"total_ns"`
	} `json:"processing" yaml:"processing"`
}

// Best returns the top prediction of the first sequence.
func (r *Result) Best() (beamsearch.Prediction, bool) {
	if r == nil || len(r.Sequences) == 0 || len(r.Sequences[0].Predictions) == 0 {
		return beamsearch.Prediction{}, false
	}
	return r.Sequences[0].Predictions[0], true
}

// Overrides adjusts decoding for a single request. Zero values keep the
// pipeline settings.
type Overrides struct {
	BeamWidth     int
	TopK          int
	Constraints   []string
	ConstraintSep string
	Method        string
	Logits        bool
}

// ProcessTensor decodes a probability tensor, or runs the model first when
// the pipeline has a session.
func (p *Pipeline) ProcessTensor(ctx context.Context, t tensor.Tensor) (*Result, error) {
	return p.ProcessTensorWith(ctx, t, Overrides{})
}

// ProcessTensorWith is ProcessTensor with per-request overrides.
func (p *Pipeline) ProcessTensorWith(ctx context.Context, t tensor.Tensor, o Overrides) (*Result, error) {
	if p == nil || p.Decoder == nil {
		return nil, errors.New("pipeline not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	res := &Result{}

	if p.Session != nil {
		modelStart := time.Now()
		out, err := p.Session.Run(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("model inference: %w", err)
		}
		t = out
		res.Processing.ModelNs = time.Since(modelStart).Nanoseconds()
		minV, maxV, mean := tensor.Stats(t.Data)
		p.logger.Debug("Model output",
			"shape", t.Shape,
			"min", minV,
			"max", maxV,
			"mean", mean,
			"duration_ms", res.Processing.ModelNs/1e6)
	}

	batch, err := p.prepare(t, o.Logits)
	if err != nil {
		return nil, err
	}
	res.Shape = []int64{int64(len(batch)), 0, 0}
	if len(batch) > 0 && len(batch[0]) > 0 {
		res.Shape[1], res.Shape[2] = int64(len(batch[0])), int64(len(batch[0][0]))
	}

	decodeStart := time.Now()
	res.Method, res.Sequences, err = p.decode(ctx, batch, o)
	if err != nil {
		return nil, err
	}
	res.Processing.DecodeNs = time.Since(decodeStart).Nanoseconds()
	res.Processing.TotalNs = time.Since(start).Nanoseconds()
	return res, nil
}

// ProcessFrames decodes a single [T][A+1] sequence.
func (p *Pipeline) ProcessFrames(ctx context.Context, frames [][]float32, o Overrides) (*Result, error) {
	t, err := tensor.FromFrames(frames)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", beamsearch.ErrFrameShape, err)
	}
	return p.ProcessTensorWith(ctx, t, o)
}

// ProcessBatch decodes a [N][T][A+1] batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, batch [][][]float32, o Overrides) (*Result, error) {
	t, err := tensor.FromBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", beamsearch.ErrFrameShape, err)
	}
	return p.ProcessTensorWith(ctx, t, o)
}

// ProcessFile reads a tensor file and decodes it.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (*Result, error) {
	t, err := tensor.ReadFile(path)
	if err != nil {
		return nil, err
	}
	res, err := p.ProcessTensor(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	res.Source = path
	return res, nil
}

// prepare applies the classes-first transposition and softmax normalisation.
func (p *Pipeline) prepare(t tensor.Tensor, logits bool) ([][][]float32, error) {
	if p.cfg.Decoder.ClassesFirst {
		var err error
		if t, err = t.TransposeClassesFirst(); err != nil {
			return nil, err
		}
	}
	batch, err := t.Batch()
	if err != nil {
		return nil, err
	}
	if p.cfg.Decoder.Logits || logits || (p.Session != nil && !looksNormalised(batch)) {
		for i, frames := range batch {
			batch[i] = ctc.NormalizeRows(frames)
		}
	}
	return batch, nil
}

// looksNormalised checks the first frame of each sequence.
func looksNormalised(batch [][][]float32) bool {
	for _, frames := range batch {
		if len(frames) > 0 && !ctc.LooksLikeProbabilities(frames[0]) {
			return false
		}
	}
	return true
}

func (p *Pipeline) decode(ctx context.Context, batch [][][]float32, o Overrides) (string, []SequenceResult, error) {
	method := p.cfg.Decoder.Method
	if o.Method != "" {
		method = o.Method
	}

	var preds [][]beamsearch.Prediction
	switch method {
	case config.MethodGreedy:
		alphabet := p.Charset.Alphabet()
		for i, frames := range batch {
			for t, row := range frames {
				if len(row) != alphabet.Classes() {
					return "", nil, fmt.Errorf("example %d: %w: timestep %d has %d values, want %d",
						i, beamsearch.ErrFrameShape, t, len(row), alphabet.Classes())
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		for _, seq := range ctc.GreedyBatch(batch, alphabet.Blank()) {
			label := seq.Collapsed
			if label == nil {
				label = []int{}
			}
			preds = append(preds, []beamsearch.Prediction{{
				Text:        seq.Text(alphabet),
				Probability: seq.PathProb,
				Label:       label,
			}})
		}
	case config.MethodBeam:
		dec, err := p.decoderFor(o)
		if err != nil {
			return "", nil, err
		}
		if preds, err = dec.DecodeBatchContext(ctx, batch); err != nil {
			return "", nil, err
		}
	default:
		return "", nil, fmt.Errorf("%w: unknown method %q", beamsearch.ErrInvalidArgument, method)
	}

	out := make([]SequenceResult, len(batch))
	for i := range batch {
		out[i] = SequenceResult{Index: i, Timesteps: len(batch[i]), Predictions: preds[i]}
	}
	return method, out, nil
}

// decoderFor returns the configured decoder, or a derived one when o
// changes beam width, topk or constraints.
func (p *Pipeline) decoderFor(o Overrides) (*beamsearch.Decoder, error) {
	if o.BeamWidth == 0 && o.TopK == 0 && o.Constraints == nil {
		return p.Decoder, nil
	}
	constraints := p.Constraints
	if o.Constraints != nil {
		var err error
		if constraints, err = p.Charset.Constraints(o.Constraints, o.ConstraintSep); err != nil {
			return nil, err
		}
	}
	width, topK := p.Decoder.BeamWidth(), p.Decoder.TopK()
	if o.BeamWidth != 0 {
		width = o.BeamWidth
	}
	if o.TopK != 0 {
		topK = o.TopK
	}
	return beamsearch.New(p.Charset.Alphabet(),
		beamsearch.WithBeamWidth(width),
		beamsearch.WithTopK(topK),
		beamsearch.WithConstraints(constraints),
		beamsearch.WithWorkers(p.Decoder.Workers()),
		beamsearch.WithLogger(p.logger))
}
