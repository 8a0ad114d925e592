package recordocr

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/ocrjobs/constants"
	"github.com/joseph-ayodele/ocrjobs/internal/annotation"
	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/entity"
	"github.com/joseph-ayodele/ocrjobs/internal/ocr"
	"github.com/joseph-ayodele/ocrjobs/internal/workspace"
)

type pageEngine struct {
	perPage [][]ocr.Detection
	failAt  int // 1-based page that errors; 0 never
	calls   int
}

func (e *pageEngine) Name() string { return "pages" }

func (e *pageEngine) DetectAndRecognize(context.Context, image.Image) ([]ocr.Detection, error) {
	e.calls++
	if e.calls == e.failAt {
		return nil, common.EngineError("detect", errors.New("out of memory"))
	}
	if e.calls <= len(e.perPage) {
		return e.perPage[e.calls-1], nil
	}
	return nil, nil
}

func (e *pageEngine) RecognizeBatch(context.Context, []image.Image) ([]ocr.Recognition, error) {
	return nil, errors.New("not used")
}

func line(text string, conf float64, r image.Rectangle) ocr.Detection {
	return ocr.Detection{Polygon: ocr.Polygon(r), Text: text, Confidence: conf, Orientation: -1}
}

func setup(t *testing.T, pages ...string) (*workspace.FSResolver, *annotation.Store, *workspace.Workspace, *entity.Job) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "acme", "records", "r1", "pages")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range pages {
		f, err := os.Create(filepath.Join(dir, name))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 40, 40))))
		require.NoError(t, f.Close())
	}
	res := workspace.NewFSResolver(root, nil)
	ws, err := res.Workspace("acme")
	require.NoError(t, err)
	store, err := annotation.NewStore(res, nil)
	require.NoError(t, err)
	job := entity.NewJob(entity.JobSpec{WorkspaceRef: "acme", RecordRef: "r1", JobType: constants.JobTypeRecordOCR}, time.Now())
	return res, store, ws, job
}

func TestRunWritesLabelsPerPage(t *testing.T) {
	res, store, ws, job := setup(t, "p2.png", "p1.png", "p3.png")
	eng := &pageEngine{perPage: [][]ocr.Detection{
		{line("ACME Corp", 0.91, image.Rect(1, 1, 30, 8)), line("Total 9.99", 0.8, image.Rect(1, 20, 30, 28))},
		{},
		{line("Thank you", 0.7, image.Rect(2, 2, 20, 9))},
	}}
	p := New(res, store, eng, nil)

	var progress []int
	payload, err := p.Run(context.Background(), job, func(pct int) { progress = append(progress, pct) })
	require.NoError(t, err)

	assert.Equal(t, []int{33, 66, 100}, progress)
	assert.Equal(t, "r1", payload["record"])
	assert.Equal(t, 3, payload["pages"])
	assert.Equal(t, 3, payload["total_detections"])
	assert.Contains(t, payload, "duration_ms")
	assert.Contains(t, payload, "completed_at")

	items, err := res.Items(ws, "r1")
	require.NoError(t, err)
	first, err := store.Load(ws, items[0])
	require.NoError(t, err)
	require.Len(t, first.Shapes, 2)
	assert.Equal(t, "ACME Corp", first.Shapes[0].Text)
	assert.InDelta(t, 0.91, first.Shapes[0].Score(), 1e-9)
	assert.Equal(t, -1, *first.Shapes[0].Orientation)
	assert.Len(t, first.Shapes[0].NormalizedPoints(), 4)

	second, err := store.Load(ws, items[1])
	require.NoError(t, err)
	assert.Empty(t, second.Shapes)
	_, err = os.Stat(res.LabelPath(ws, items[1]))
	assert.NoError(t, err, "empty pages still get a label file")
}

func TestRunFailsFastNamingThePage(t *testing.T) {
	res, store, ws, job := setup(t, "p1.png", "p2.png", "p3.png")
	eng := &pageEngine{perPage: [][]ocr.Detection{{line("x", 0.5, image.Rect(0, 0, 5, 5))}}, failAt: 2}
	p := New(res, store, eng, nil)

	var progress []int
	_, err := p.Run(context.Background(), job, func(pct int) { progress = append(progress, pct) })
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrEngine)
	assert.Contains(t, common.Message(err), "page r1/p2.png")
	assert.Equal(t, 2, eng.calls)
	assert.Equal(t, []int{33}, progress)

	items, err := res.Items(ws, "r1")
	require.NoError(t, err)
	_, err = os.Stat(res.LabelPath(ws, items[2]))
	assert.True(t, os.IsNotExist(err))
}

func TestRunEmptyRecordFinishes(t *testing.T) {
	res, store, _, job := setup(t)
	payload, err := New(res, store, &pageEngine{}, nil).Run(context.Background(), job, func(int) {})
	require.NoError(t, err)
	assert.Equal(t, 0, payload["pages"])
	assert.Equal(t, 0, payload["total_detections"])
}

func TestRunUnknownRefs(t *testing.T) {
	res, store, _, job := setup(t, "p1.png")
	p := New(res, store, &pageEngine{}, nil)

	job.RecordRef = "nope"
	_, err := p.Run(context.Background(), job, func(int) {})
	assert.ErrorIs(t, err, common.ErrNotFound)

	job.WorkspaceRef = "../etc"
	_, err = p.Run(context.Background(), job, func(int) {})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestShapesDropsEmptyPolygons(t *testing.T) {
	shapes := Shapes([]ocr.Detection{
		{Text: "ghost"},
		line("real", 0.4, image.Rect(0, 0, 4, 4)),
	})
	require.Len(t, shapes, 1)
	assert.Equal(t, "real", shapes[0].Text)
}
