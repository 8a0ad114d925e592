// Package recordocr runs full-page detection and recognition over every page
// of a record and rewrites each page's label document.
package recordocr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/ocrjobs/constants"
	"github.com/joseph-ayodele/ocrjobs/internal/annotation"
	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/entity"
	"github.com/joseph-ayodele/ocrjobs/internal/ocr"
	"github.com/joseph-ayodele/ocrjobs/internal/workspace"
)

// LabelWriter persists a page's shapes.
type LabelWriter interface {
	Save(ws *workspace.Workspace, item workspace.Item, doc *annotation.Document) error
}

type Pipeline struct {
	Resolver workspace.Resolver
	Labels   LabelWriter
	Engine   ocr.Engine
	Logger   *slog.Logger
	now      func() time.Time
}

func New(resolver workspace.Resolver, labels LabelWriter, engine ocr.Engine, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{Resolver: resolver, Labels: labels, Engine: engine, Logger: logger, now: time.Now}
}

// Run processes the record's pages in filename order. The first failing page
// aborts the job; pages already written keep their new labels.
func (p *Pipeline) Run(ctx context.Context, job *entity.Job, progress func(pct int)) (map[string]any, error) {
	start := p.now()
	log := common.LoggerFrom(ctx, p.Logger).With("workspace", job.WorkspaceRef, "record", job.RecordRef)

	ws, err := p.Resolver.Workspace(job.WorkspaceRef)
	if err != nil {
		return nil, err
	}
	items, err := p.Resolver.Items(ws, job.RecordRef)
	if err != nil {
		return nil, err
	}
	total := max(len(items), 1)

	detections := 0
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := p.page(ctx, ws, item)
		if err != nil {
			return nil, common.WrapError(err, fmt.Sprintf("page %s", item.ID))
		}
		detections += n
		log.Debug("recordocr.page.ok", "item_id", item.ID, "detections", n)
		progress((i + 1) * 100 / total)
	}

	end := p.now()
	log.Info("recordocr.ok", "pages", len(items), "detections", detections)
	return map[string]any{
		"record":           job.RecordRef,
		"pages":            len(items),
		"total_detections": detections,
		"duration_ms":      end.Sub(start).Milliseconds(),
		"completed_at":     end.UTC().Format(time.RFC3339Nano),
	}, nil
}

func (p *Pipeline) page(ctx context.Context, ws *workspace.Workspace, item workspace.Item) (int, error) {
	img, err := ocr.LoadImage(item.ImagePath)
	if err != nil {
		return 0, err
	}
	dets, err := p.Engine.DetectAndRecognize(ctx, img)
	if err != nil {
		return 0, err
	}
	doc := &annotation.Document{Version: constants.LabelVersion, Shapes: Shapes(dets)}
	if err := p.Labels.Save(ws, item, doc); err != nil {
		return 0, err
	}
	return len(dets), nil
}

// Shapes converts detections into label shapes, dropping those without a
// polygon.
func Shapes(dets []ocr.Detection) []entity.Shape {
	out := make([]entity.Shape, 0, len(dets))
	for _, d := range dets {
		if len(d.Polygon) == 0 {
			continue
		}
		conf, orient := d.Confidence, d.Orientation
		s := entity.Shape{Text: d.Text, Confidence: &conf, Orientation: &orient}
		s.SetPoints(d.Polygon)
		out = append(out, s)
	}
	return out
}
