package ocr

import (
	"context"
	"image"

	"github.com/joseph-ayodele/ocrjobs/internal/entity"
)

// Detection is one text region found on a full page.
type Detection struct {
	Polygon     []entity.Point
	Text        string
	Confidence  float64
	Orientation int
}

// Recognition is the result for one cropped image. A nil Text means the
// engine produced nothing usable; a nil Confidence means it gave no score.
type Recognition struct {
	Text       *string
	Confidence *float64
}

// Score returns the confidence or entity.Unscored.
func (r Recognition) Score() float64 {
	if r.Confidence == nil {
		return entity.Unscored
	}
	return *r.Confidence
}

// Engine turns images into text. Implementations must be safe for concurrent
// use; callers hold one long-lived engine per process.
type Engine interface {
	Name() string
	// DetectAndRecognize finds and reads every text region on a page.
	DetectAndRecognize(ctx context.Context, img image.Image) ([]Detection, error)
	// RecognizeBatch reads each image as a single region. The result has
	// one entry per input, in input order.
	RecognizeBatch(ctx context.Context, imgs []image.Image) ([]Recognition, error)
}

// Config holds settings shared by the engine implementations.
type Config struct {
	Tesseract   string   // binary name or absolute path; if empty -> "tesseract"
	Languages   []string // default ["eng"]
	TessdataDir string
	PagePSM     int // page segmentation for full pages, default 3
	BoxPSM      int // page segmentation for single boxes, default 7 (one line)
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if len(c.Languages) == 0 {
		c.Languages = []string{"eng"}
	}
	if c.PagePSM <= 0 {
		c.PagePSM = 3
	}
	if c.BoxPSM <= 0 {
		c.BoxPSM = 7
	}
	return c
}

func textPtr(s string) *string { return &s }

func scorePtr(f float64) *float64 { return &f }
