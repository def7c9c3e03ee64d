package beamsearch

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/ctcbeam/internal/testutil"
)

func TestDecodeBatch_MatchesSequential(t *testing.T) {
	alphabet := Alphabet(testutil.TestAlphabet[:6])
	batch := testutil.RandomBatch(rand.New(rand.NewSource(7)), 9, 12, alphabet.Classes())

	for _, workers := range []int{1, 3, 16} {
		d, err := New(alphabet, WithBeamWidth(4), WithTopK(3), WithWorkers(workers))
		require.NoError(t, err)

		got, err := d.DecodeBatch(batch)
		require.NoError(t, err)
		require.Len(t, got, len(batch))

		for i, frames := range batch {
			want, err := d.Decode(frames)
			require.NoError(t, err)
			assert.Equal(t, want, got[i], "workers=%d example=%d", workers, i)
		}
	}
}

func TestDecodeBatch_Empty(t *testing.T) {
	got, err := DecodeBatch(nil, Alphabet{"a"}, 3, 2, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeBatch_VaryingLengths(t *testing.T) {
	alphabet := Alphabet{"a", "b"}
	rng := rand.New(rand.NewSource(3))
	batch := [][][]float32{
		testutil.RandomFrames(rng, 5, 3),
		nil,
		testutil.RandomFrames(rng, 1, 3),
	}
	got, err := DecodeBatch(batch, alphabet, 5, 2, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Len(t, got[1], 1)
	assert.Equal(t, "", got[1][0].Text)
	assert.InDelta(t, 1.0, got[1][0].Probability, 1e-12)
}

func TestDecodeBatch_InvalidExampleFailsWholeBatch(t *testing.T) {
	alphabet := Alphabet{"a", "b"}
	rng := rand.New(rand.NewSource(1))
	batch := [][][]float32{
		testutil.RandomFrames(rng, 3, 3),
		testutil.RandomFrames(rng, 3, 3),
		testutil.RandomFrames(rng, 3, 4),
	}
	got, err := DecodeBatch(batch, alphabet, 5, 2, nil)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrFrameShape)
	assert.Contains(t, err.Error(), "example 2")
}

func TestDecodeBatch_ConstraintsApplyToEveryExample(t *testing.T) {
	alphabet := Alphabet{"x", "y"}
	batch := testutil.RandomBatch(rand.New(rand.NewSource(11)), 4, 3, 3)
	got, err := DecodeBatch(batch, alphabet, 5, 5, Constraints{{"y"}})
	require.NoError(t, err)
	for _, preds := range got {
		for _, p := range preds {
			if len(p.Label) > 0 {
				assert.Equal(t, 1, p.Label[0])
			}
		}
	}
}

// expiringContext reports DeadlineExceeded once its checks run out.
type expiringContext struct {
	context.Context
	checks int
}

func (c *expiringContext) Err() error {
	c.checks--
	if c.checks < 0 {
		return context.DeadlineExceeded
	}
	return nil
}

func TestDecodeContext_StopsMidSequence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	d, err := New(Alphabet{"a", "b", "c"}, WithBeamWidth(4), WithTopK(2))
	require.NoError(t, err)
	frames := testutil.RandomFrames(rng, 3*cancelCheckInterval, 4)

	ctx := &expiringContext{Context: context.Background(), checks: 1}
	got, err := d.DecodeContext(ctx, frames)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, got)
	assert.Equal(t, -1, ctx.checks)

	got, err = d.DecodeContext(context.Background(), frames)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDecodeBatchContext_Done(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	d, err := New(Alphabet{"a", "b"}, WithBeamWidth(3), WithTopK(1), WithWorkers(2))
	require.NoError(t, err)
	batch := [][][]float32{
		testutil.RandomFrames(rng, 5, 3),
		testutil.RandomFrames(rng, 5, 3),
		testutil.RandomFrames(rng, 5, 3),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := d.DecodeBatchContext(ctx, batch)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)

	expired, cancelExpired := context.WithTimeout(context.Background(), 0)
	defer cancelExpired()
	_, err = d.DecodeBatchContext(expired, batch)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
