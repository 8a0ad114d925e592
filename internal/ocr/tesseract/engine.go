// Package tesseract binds the recognition engine to libtesseract through
// gosseract. It needs cgo and the tesseract development headers.
package tesseract

import (
	"context"
	"image"
	"log/slog"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/ocr"
)

// Engine keeps one tesseract client for the life of the process. Tesseract
// handles are not reentrant, so calls are serialized.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
	cfg    ocr.Config
	logger *slog.Logger
}

var _ ocr.Engine = (*Engine)(nil)

func New(cfg ocr.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.WithDefaults()
	client := gosseract.NewClient()
	if cfg.TessdataDir != "" {
		if err := client.SetTessdataPrefix(cfg.TessdataDir); err != nil {
			_ = client.Close()
			return nil, common.EngineError("set tessdata prefix", err)
		}
	}
	if err := client.SetLanguage(cfg.Languages...); err != nil {
		_ = client.Close()
		return nil, common.EngineError("set language", err)
	}
	logger.Info("tesseract engine ready", "version", gosseract.Version(), "languages", strings.Join(cfg.Languages, "+"))
	return &Engine{client: client, cfg: cfg, logger: logger}, nil
}

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Close()
}

func (e *Engine) DetectAndRecognize(ctx context.Context, img image.Image) ([]ocr.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := ocr.EncodePNG(img)
	if err != nil {
		return nil, common.EngineError("prepare image", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.prepare(data, e.cfg.PagePSM); err != nil {
		return nil, err
	}
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, common.EngineError("detect lines", err)
	}
	out := make([]ocr.Detection, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		out = append(out, ocr.Detection{
			Polygon:     ocr.Polygon(b.Box),
			Text:        text,
			Confidence:  b.Confidence / 100.0,
			Orientation: -1,
		})
	}
	return out, nil
}

func (e *Engine) RecognizeBatch(ctx context.Context, imgs []image.Image) ([]ocr.Recognition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ocr.Recognition, 0, len(imgs))
	for _, img := range imgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := ocr.EncodePNG(img)
		if err != nil {
			return nil, common.EngineError("prepare image", err)
		}
		if err := e.prepare(data, e.cfg.BoxPSM); err != nil {
			return nil, err
		}
		words, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
		if err != nil {
			return nil, common.EngineError("recognize", err)
		}
		out = append(out, merge(words))
	}
	return out, nil
}

func (e *Engine) prepare(data []byte, psm int) error {
	if err := e.client.SetPageSegMode(gosseract.PageSegMode(psm)); err != nil {
		return common.EngineError("set page segmentation", err)
	}
	if err := e.client.SetImageFromBytes(data); err != nil {
		return common.EngineError("load image", err)
	}
	return nil
}

func merge(words []gosseract.BoundingBox) ocr.Recognition {
	var (
		parts []string
		sum   float64
	)
	for _, w := range words {
		t := strings.TrimSpace(w.Word)
		if t == "" {
			continue
		}
		parts = append(parts, t)
		sum += w.Confidence
	}
	if len(parts) == 0 {
		return ocr.Recognition{}
	}
	text := strings.Join(parts, " ")
	score := sum / float64(len(parts)) / 100.0
	return ocr.Recognition{Text: &text, Confidence: &score}
}
