package boxocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/entity"
	"github.com/joseph-ayodele/ocrjobs/internal/ocr"
)

// DefaultBatchSize is how many crops go to the engine in one call.
const DefaultBatchSize = 16

type entry struct {
	img      image.Image
	shape    int
	rotation int
}

type candidate struct {
	text     string
	score    float64
	rotation int
}

// batcher collects rotated crops and sends them to the engine in fixed-size
// groups, keeping the best result per shape as batches come back.
type batcher struct {
	engine  ocr.Engine
	size    int
	pending []entry
	best    map[int]candidate
	calls   int
}

func newBatcher(engine ocr.Engine, size int) *batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &batcher{
		engine:  engine,
		size:    size,
		pending: make([]entry, 0, size),
		best:    make(map[int]candidate),
	}
}

func (b *batcher) add(ctx context.Context, e entry) error {
	b.pending = append(b.pending, e)
	if len(b.pending) >= b.size {
		return b.flush(ctx)
	}
	return nil
}

func (b *batcher) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	imgs := make([]image.Image, len(b.pending))
	for i, e := range b.pending {
		imgs[i] = e.img
	}
	b.calls++
	recs, err := b.engine.RecognizeBatch(ctx, imgs)
	if err != nil {
		if errors.Is(err, common.ErrEngine) {
			return err
		}
		return common.EngineError("recognize batch", err)
	}
	if len(recs) != len(imgs) {
		return common.EngineError("recognize batch", fmt.Errorf("engine returned %d results for %d images", len(recs), len(imgs)))
	}
	for i, e := range b.pending {
		b.consider(e, recs[i])
	}
	clear(b.pending)
	b.pending = b.pending[:0]
	return nil
}

// consider keeps r when it carries text and strictly beats the shape's best
// score so far, so the earliest rotation wins a tie. A reading without a
// positive confidence counts as unscored and never displaces anything.
func (b *batcher) consider(e entry, r ocr.Recognition) {
	if r.Text == nil || strings.TrimSpace(*r.Text) == "" {
		return
	}
	best := entity.Unscored
	if cur, ok := b.best[e.shape]; ok {
		best = cur.score
	}
	score := r.Score()
	if score <= 0 {
		score = entity.Unscored
	}
	if score > best {
		b.best[e.shape] = candidate{text: *r.Text, score: score, rotation: e.rotation}
	}
}
