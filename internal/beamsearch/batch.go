package beamsearch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// DecodeBatch decodes every sequence of batch independently and in parallel.
// result[i] always belongs to batch[i]. All sequences are validated before any
// work starts; a single invalid sequence fails the whole call.
func (d *Decoder) DecodeBatch(batch [][][]float32) ([][]Prediction, error) {
	return d.DecodeBatchContext(context.Background(), batch)
}

// DecodeBatchContext is DecodeBatch that abandons the remaining work and
// returns ctx.Err() once ctx is done.
func (d *Decoder) DecodeBatchContext(ctx context.Context, batch [][][]float32) ([][]Prediction, error) {
	for i, frames := range batch {
		if err := d.validateFrames(frames); err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
	}

	start := time.Now()
	results := make([][]Prediction, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, frames := range batch {
		g.Go(func() error {
			preds, err := d.decode(gctx, frames)
			if err != nil {
				return err
			}
			results[i] = preds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.logger.Debug("Decoded batch",
		"examples", len(batch),
		"workers", d.workers,
		"duration", time.Since(start))
	return results, nil
}

// DecodeBatch is a one-shot helper for a [N][T][A+1] batch.
func DecodeBatch(batch [][][]float32, alphabet Alphabet, beamWidth, topkPaths int, constraints Constraints) ([][]Prediction, error) {
	d, err := New(alphabet, WithBeamWidth(beamWidth), WithTopK(topkPaths), WithConstraints(constraints))
	if err != nil {
		return nil, err
	}
	return d.DecodeBatch(batch)
}
