// Package boxocr re-reads the text inside the boxes already drawn on a page.
// Detection is not rerun: each box is cropped, tried at four rotations and
// the most confident reading replaces the box's text.
package boxocr

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/ocrjobs/internal/annotation"
	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/entity"
	"github.com/joseph-ayodele/ocrjobs/internal/ocr"
	"github.com/joseph-ayodele/ocrjobs/internal/workspace"
)

// Progress milestones: setup is done at 10, per-box work fills up to 90,
// and the remainder is left for the finished transition.
const (
	setupProgress = 10
	boxesProgress = 80
	maxProgress   = 90
)

// Labels loads and saves a page's label document.
type Labels interface {
	Load(ws *workspace.Workspace, item workspace.Item) (*annotation.Document, error)
	Save(ws *workspace.Workspace, item workspace.Item, doc *annotation.Document) error
}

type Pipeline struct {
	Resolver  workspace.Resolver
	Labels    Labels
	Engine    ocr.Engine
	BatchSize int
	Logger    *slog.Logger
	now       func() time.Time
}

func New(resolver workspace.Resolver, labels Labels, engine ocr.Engine, batchSize int, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Pipeline{
		Resolver:  resolver,
		Labels:    labels,
		Engine:    engine,
		BatchSize: batchSize,
		Logger:    logger,
		now:       time.Now,
	}
}

type target struct {
	index int
	pts   []entity.Point
	box   image.Rectangle
}

func (p *Pipeline) Run(ctx context.Context, job *entity.Job, progress func(pct int)) (map[string]any, error) {
	start := p.now()
	log := common.LoggerFrom(ctx, p.Logger).With("workspace", job.WorkspaceRef, "item_id", job.ItemRef)

	if job.ItemRef == "" {
		return nil, common.Validationf("job has no item to re-recognize")
	}
	ws, err := p.Resolver.Workspace(job.WorkspaceRef)
	if err != nil {
		return nil, err
	}
	item, err := p.Resolver.Item(ws, job.ItemRef)
	if err != nil {
		return nil, err
	}
	doc, err := p.Labels.Load(ws, *item)
	if err != nil {
		return nil, err
	}
	if len(doc.Shapes) == 0 {
		return nil, common.Validationf("item '%s' has no boxes to recognize; draw or correct boxes first", item.ID)
	}
	img, err := ocr.LoadImage(item.ImagePath)
	if err != nil {
		return nil, err
	}
	progress(setupProgress)

	targets := make([]target, 0, len(doc.Shapes))
	for i := range doc.Shapes {
		pts := doc.Shapes[i].NormalizedPoints()
		if len(pts) == 0 {
			continue
		}
		box, ok := ocr.BoundingBox(pts, img.Bounds())
		if !ok {
			log.Debug("boxocr.shape.skipped", "shape", i, "reason", "box too small")
			continue
		}
		targets = append(targets, target{index: i, pts: pts, box: box})
	}
	if len(targets) == 0 {
		return nil, common.Validationf("item '%s' has no box large enough to recognize", item.ID)
	}

	b := newBatcher(p.Engine, p.BatchSize)
	for n, t := range targets {
		crop := ocr.CropPolygon(img, t.pts, t.box)
		for r, deg := range ocr.Rotations {
			rotated, err := ocr.Rotate(crop, deg)
			if err != nil {
				return nil, err
			}
			if err := b.add(ctx, entry{img: rotated, shape: t.index, rotation: r}); err != nil {
				return nil, err
			}
		}
		progress(min(setupProgress+(n+1)*boxesProgress/len(targets), maxProgress))
	}
	if err := b.flush(ctx); err != nil {
		return nil, err
	}

	recognized := apply(doc.Shapes, b.best)
	if err := p.Labels.Save(ws, *item, doc); err != nil {
		return nil, err
	}

	end := p.now()
	log.Info("boxocr.ok", "recognized", recognized, "boxes", len(targets), "engine_calls", b.calls)
	return map[string]any{
		"item_id":          item.ID,
		"recognized_boxes": recognized,
		"total_boxes":      len(targets),
		"engine_calls":     b.calls,
		"duration_ms":      end.Sub(start).Milliseconds(),
		"completed_at":     end.UTC().Format(time.RFC3339Nano),
	}, nil
}

// apply writes the winning readings into shapes and returns how many shapes
// changed. A negative score leaves the old confidence in place.
func apply(shapes []entity.Shape, best map[int]candidate) int {
	n := 0
	for i, c := range best {
		shapes[i].Text = c.text
		if c.score >= 0 {
			score := c.score
			shapes[i].Confidence = &score
		}
		n++
	}
	return n
}
