package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	_ "golang.org/x/image/tiff"
	"golang.org/x/image/vector"

	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/entity"
)

// MinBoxSide is the smallest clamped box width or height worth recognizing.
const MinBoxSide = 2

// Rotations are the counter-clockwise quarter turns tried for each box, in
// the order results are compared.
var Rotations = []int{0, 90, 180, 270}

// LoadImage decodes a PNG, JPEG or TIFF page from disk.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.WrapError(err, "open image")
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, common.Validationf("decode image %s: %v", path, err)
	}
	return img, nil
}

// BoundingBox returns the axis-aligned box around pts with the minimum
// floored and the maximum ceiled, clamped to bounds. ok is false when the
// clamped box is narrower or shorter than MinBoxSide.
func BoundingBox(pts []entity.Point, bounds image.Rectangle) (image.Rectangle, bool) {
	if len(pts) == 0 {
		return image.Rectangle{}, false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	// image.Rect would swap inverted corners, so compare before building it.
	x0 := max(int(math.Floor(minX)), bounds.Min.X)
	y0 := max(int(math.Floor(minY)), bounds.Min.Y)
	x1 := min(int(math.Ceil(maxX)), bounds.Max.X)
	y1 := min(int(math.Ceil(maxY)), bounds.Max.Y)
	if x1-x0 < MinBoxSide || y1-y0 < MinBoxSide {
		return image.Rectangle{}, false
	}
	return image.Rect(x0, y0, x1, y1), true
}

// CropPolygon copies box out of img. With three or more points everything
// outside the polygon is painted white; otherwise the plain box is returned.
// The result's bounds start at (0,0).
func CropPolygon(img image.Image, pts []entity.Point, box image.Rectangle) *image.RGBA {
	w, h := box.Dx(), box.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if len(pts) < 3 {
		draw.Draw(dst, dst.Bounds(), img, box.Min, draw.Src)
		return dst
	}

	mask := image.NewAlpha(dst.Bounds())
	z := vector.NewRasterizer(w, h)
	ox, oy := float64(box.Min.X), float64(box.Min.Y)
	z.MoveTo(float32(pts[0].X-ox), float32(pts[0].Y-oy))
	for _, p := range pts[1:] {
		z.LineTo(float32(p.X-ox), float32(p.Y-oy))
	}
	z.ClosePath()
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})

	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.DrawMask(dst, dst.Bounds(), img, box.Min, mask, image.Point{}, draw.Over)
	return dst
}

// Rotate turns img counter-clockwise by degrees (a multiple of 90), growing
// the canvas so nothing is cut off.
func Rotate(img image.Image, degrees int) (*image.RGBA, error) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	var (
		size image.Rectangle
		m    f64.Aff3
	)
	switch ((degrees % 360) + 360) % 360 {
	case 0:
		size = image.Rect(0, 0, b.Dx(), b.Dy())
		m = f64.Aff3{1, 0, 0, 0, 1, 0}
	case 90:
		size = image.Rect(0, 0, b.Dy(), b.Dx())
		m = f64.Aff3{0, 1, 0, -1, 0, w}
	case 180:
		size = image.Rect(0, 0, b.Dx(), b.Dy())
		m = f64.Aff3{-1, 0, w, 0, -1, h}
	case 270:
		size = image.Rect(0, 0, b.Dy(), b.Dx())
		m = f64.Aff3{0, -1, h, 1, 0, 0}
	default:
		return nil, fmt.Errorf("rotation must be a multiple of 90, got %d", degrees)
	}
	// translate so the source origin is (0,0)
	m[2] -= m[0]*float64(b.Min.X) + m[1]*float64(b.Min.Y)
	m[5] -= m[3]*float64(b.Min.X) + m[4]*float64(b.Min.Y)

	dst := image.NewRGBA(size)
	draw.NearestNeighbor.Transform(dst, m, img, b, draw.Src, nil)
	return dst, nil
}

// EncodePNG serializes img losslessly for engines that take bytes or files.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Polygon returns the four corners of r, clockwise from the top-left.
func Polygon(r image.Rectangle) []entity.Point {
	return []entity.Point{
		{X: float64(r.Min.X), Y: float64(r.Min.Y)},
		{X: float64(r.Max.X), Y: float64(r.Min.Y)},
		{X: float64(r.Max.X), Y: float64(r.Max.Y)},
		{X: float64(r.Min.X), Y: float64(r.Max.Y)},
	}
}
