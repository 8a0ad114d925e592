package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/ocrjobs/internal/common"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeRunner struct {
	calls  [][]string
	stdout []string
	stderr string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	// the input file must exist while tesseract runs
	if _, err := os.Stat(args[0]); err != nil {
		return nil, nil, err
	}
	if f.err != nil {
		return nil, []byte(f.stderr), f.err
	}
	out := ""
	if i := len(f.calls) - 1; i < len(f.stdout) {
		out = f.stdout[i]
	}
	return []byte(out), nil, nil
}

const tsvHeader = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n"

func tsvRows(rows ...string) string {
	return tsvHeader + strings.Join(rows, "\n") + "\n"
}

func TestCLIEngineDetectGroupsLines(t *testing.T) {
	run := &fakeRunner{stdout: []string{tsvRows(
		"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t",
		"4\t1\t1\t1\t1\t0\t10\t10\t80\t12\t-1\t",
		"5\t1\t1\t1\t1\t1\t10\t10\t30\t12\t90\tTotal",
		"5\t1\t1\t1\t1\t2\t50\t11\t40\t10\t70\t$12.50",
		"5\t1\t1\t1\t2\t1\t10\t30\t20\t10\t60\tPaid",
		"5\t1\t1\t1\t2\t2\t40\t30\t20\t10\t95\t ",
	)}}
	e := NewCLIEngine(Config{Languages: []string{"eng", "deu"}, TessdataDir: "/td"}, testLogger()).WithRunner(run)

	dets, err := e.DetectAndRecognize(context.Background(), solid(100, 100, color.White))
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, "Total $12.50", dets[0].Text)
	assert.InDelta(t, 0.80, dets[0].Confidence, 1e-9)
	assert.Equal(t, Polygon(image.Rect(10, 10, 90, 22)), dets[0].Polygon)
	assert.Equal(t, "Paid", dets[1].Text)
	assert.InDelta(t, 0.60, dets[1].Confidence, 1e-9)

	require.Len(t, run.calls, 1)
	args := run.calls[0]
	assert.Equal(t, "tesseract", args[0])
	assert.Equal(t, []string{"stdout", "-l", "eng+deu", "--psm", "3", "--tessdata-dir", "/td", "tsv"}, args[2:])
}

func TestCLIEngineRecognizeBatchKeepsOrder(t *testing.T) {
	run := &fakeRunner{stdout: []string{
		tsvRows("5\t1\t1\t1\t1\t1\t0\t0\t5\t5\t88\tA"),
		tsvRows(),
		tsvRows("5\t1\t1\t1\t1\t1\t0\t0\t5\t5\t40\tB", "5\t1\t1\t1\t1\t2\t6\t0\t5\t5\t60\tC"),
	}}
	e := NewCLIEngine(Config{}, testLogger()).WithRunner(run)

	img := solid(8, 8, color.White)
	recs, err := e.RecognizeBatch(context.Background(), []image.Image{img, img, img})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	require.NotNil(t, recs[0].Text)
	assert.Equal(t, "A", *recs[0].Text)
	assert.InDelta(t, 0.88, recs[0].Score(), 1e-9)

	assert.Nil(t, recs[1].Text)
	assert.Equal(t, -1.0, recs[1].Score())

	require.NotNil(t, recs[2].Text)
	assert.Equal(t, "B C", *recs[2].Text)
	assert.InDelta(t, 0.50, recs[2].Score(), 1e-9)

	for _, c := range run.calls {
		assert.Contains(t, strings.Join(c, " "), "--psm 7")
	}
}

func TestCLIEngineFailureIsEngineError(t *testing.T) {
	run := &fakeRunner{err: errors.New("exit status 1"), stderr: "Failed loading language 'xx'"}
	e := NewCLIEngine(Config{}, testLogger()).WithRunner(run)

	_, err := e.DetectAndRecognize(context.Background(), solid(4, 4, color.White))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrEngine)
	assert.Contains(t, common.Message(err), "Failed loading language")
}

func TestCLIEngineHonoursCanceledContext(t *testing.T) {
	run := &fakeRunner{}
	e := NewCLIEngine(Config{}, testLogger()).WithRunner(run)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.RecognizeBatch(ctx, []image.Image{solid(4, 4, color.White)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, run.calls)
}
