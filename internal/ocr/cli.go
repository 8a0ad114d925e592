package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/ocrjobs/internal/common"
)

// CLIEngine drives the tesseract binary and reads its TSV output. It keeps no
// per-call state, so concurrent use is safe.
type CLIEngine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewCLIEngine(cfg Config, logger *slog.Logger) *CLIEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIEngine{cfg: cfg.WithDefaults(), runner: execRunner{logger: logger}, logger: logger}
}

// WithRunner swaps the command runner, mainly for tests.
func (e *CLIEngine) WithRunner(r Runner) *CLIEngine {
	e.runner = r
	return e
}

func (e *CLIEngine) Name() string { return "tesseract-cli" }

func (e *CLIEngine) DetectAndRecognize(ctx context.Context, img image.Image) ([]Detection, error) {
	words, err := e.tsv(ctx, img, e.cfg.PagePSM)
	if err != nil {
		return nil, err
	}
	return groupLines(words), nil
}

func (e *CLIEngine) RecognizeBatch(ctx context.Context, imgs []image.Image) ([]Recognition, error) {
	out := make([]Recognition, 0, len(imgs))
	for i, img := range imgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		words, err := e.tsv(ctx, img, e.cfg.BoxPSM)
		if err != nil {
			return nil, fmt.Errorf("recognize %d: %w", i, err)
		}
		out = append(out, joinWords(words))
	}
	return out, nil
}

func (e *CLIEngine) tsv(ctx context.Context, img image.Image, psm int) ([]tsvWord, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return nil, common.EngineError("prepare image", err)
	}
	dir, err := os.MkdirTemp("", "ocrjobs-*")
	if err != nil {
		return nil, common.EngineError("temp dir", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()
	in := filepath.Join(dir, "in.png")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, common.EngineError("write temp image", err)
	}

	// tesseract <file> stdout -l <lang> --psm <n> tsv
	args := []string{in, "stdout", "-l", strings.Join(e.cfg.Languages, "+"), "--psm", strconv.Itoa(psm)}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return nil, common.EngineError("tesseract: "+truncate(strings.TrimSpace(string(errb)), 512), err)
	}
	return parseTSV(string(out)), nil
}

type tsvWord struct {
	block, par, line int
	box              image.Rectangle
	conf             float64
	text             string
}

// parseTSV keeps word rows (level 5) with text. Columns are
// level page block par line word left top width height conf text.
func parseTSV(out string) []tsvWord {
	var words []tsvWord
	for i, ln := range strings.Split(out, "\n") {
		if i == 0 || ln == "" {
			continue
		} // header
		cols := strings.Split(strings.TrimRight(ln, "\r"), "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		n := make([]int, 10)
		ok := true
		for j := 0; j < 10; j++ {
			v, err := strconv.Atoi(cols[j])
			if err != nil {
				ok = false
				break
			}
			n[j] = v
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if !ok || err != nil {
			continue
		}
		words = append(words, tsvWord{
			block: n[2], par: n[3], line: n[4],
			box:  image.Rect(n[6], n[7], n[6]+n[8], n[7]+n[9]),
			conf: conf / 100.0,
			text: text,
		})
	}
	return words
}

// groupLines merges words of the same block/paragraph/line into one detection.
func groupLines(words []tsvWord) []Detection {
	type key struct{ block, par, line int }
	var (
		order []key
		lines = map[key][]tsvWord{}
	)
	for _, w := range words {
		k := key{w.block, w.par, w.line}
		if _, seen := lines[k]; !seen {
			order = append(order, k)
		}
		lines[k] = append(lines[k], w)
	}
	out := make([]Detection, 0, len(order))
	for _, k := range order {
		ws := lines[k]
		box := ws[0].box
		parts := make([]string, 0, len(ws))
		var sum float64
		for _, w := range ws {
			box = box.Union(w.box)
			parts = append(parts, w.text)
			sum += w.conf
		}
		out = append(out, Detection{
			Polygon:     Polygon(box),
			Text:        strings.Join(parts, " "),
			Confidence:  sum / float64(len(ws)),
			Orientation: -1,
		})
	}
	return out
}

func joinWords(words []tsvWord) Recognition {
	if len(words) == 0 {
		return Recognition{}
	}
	parts := make([]string, 0, len(words))
	var sum float64
	for _, w := range words {
		parts = append(parts, w.text)
		sum += w.conf
	}
	return Recognition{
		Text:       textPtr(strings.Join(parts, " ")),
		Confidence: scorePtr(sum / float64(len(words))),
	}
}
