package boxocr

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/ocr"
)

func addRotations(t *testing.T, b *batcher, shape int) {
	t.Helper()
	for r := range ocr.Rotations {
		require.NoError(t, b.add(context.Background(), entry{img: image.NewGray(image.Rect(0, 0, 2, 2)), shape: shape, rotation: r}))
	}
}

func TestBestPickFirstStrictlyGreater(t *testing.T) {
	eng := &scriptedEngine{script: []ocr.Recognition{
		rec("", 0.10), rec("T2", 0.95), rec("", 0.0), rec("T4", 0.95),
	}}
	b := newBatcher(eng, DefaultBatchSize)
	addRotations(t, b, 0)
	require.NoError(t, b.flush(context.Background()))

	got, ok := b.best[0]
	require.True(t, ok)
	assert.Equal(t, "T2", got.text)
	assert.Equal(t, 1, got.rotation)
	assert.InDelta(t, 0.95, got.score, 1e-9)
}

func TestBestPickSpansBatches(t *testing.T) {
	// capacity 3 splits the four rotations of shape 0 across two calls
	eng := &scriptedEngine{script: []ocr.Recognition{
		rec("a", 0.2), rec("b", 0.5), rec("c", 0.1), rec("d", 0.6),
	}}
	b := newBatcher(eng, 3)
	addRotations(t, b, 0)
	require.NoError(t, b.flush(context.Background()))

	assert.Equal(t, []int{3, 1}, eng.batches)
	assert.Equal(t, 2, b.calls)
	assert.Equal(t, "d", b.best[0].text)
}

func TestBestPickIgnoresUnscoredAndBlank(t *testing.T) {
	eng := &scriptedEngine{script: []ocr.Recognition{
		{Text: strPtr("no score")}, rec("   ", 0.99), rec("", 0.8), {},
	}}
	b := newBatcher(eng, DefaultBatchSize)
	addRotations(t, b, 7)
	require.NoError(t, b.flush(context.Background()))
	assert.Empty(t, b.best)
}

func TestBestPickIgnoresZeroConfidence(t *testing.T) {
	eng := &scriptedEngine{script: []ocr.Recognition{
		rec("b", 0.0), rec("b", 0.0), rec("b", -0.5), rec("b", 0.0),
	}}
	b := newBatcher(eng, DefaultBatchSize)
	addRotations(t, b, 1)
	require.NoError(t, b.flush(context.Background()))
	assert.Empty(t, b.best)
}

func TestFlushRejectsShortResult(t *testing.T) {
	b := newBatcher(&shortEngine{}, DefaultBatchSize)
	addRotations(t, b, 0)
	err := b.flush(context.Background())
	assert.ErrorIs(t, err, common.ErrEngine)
}

func TestFlushEmptyIsNoop(t *testing.T) {
	eng := &scriptedEngine{}
	b := newBatcher(eng, 0)
	require.NoError(t, b.flush(context.Background()))
	assert.Zero(t, b.calls)
	assert.Equal(t, DefaultBatchSize, b.size)
}

func strPtr(s string) *string { return &s }

type shortEngine struct{ scriptedEngine }

func (*shortEngine) RecognizeBatch(context.Context, []image.Image) ([]ocr.Recognition, error) {
	return []ocr.Recognition{{}}, nil
}
