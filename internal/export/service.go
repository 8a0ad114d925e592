package export

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/ocrjobs/internal/annotation"
	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/entity"
	"github.com/joseph-ayodele/ocrjobs/internal/workspace"
)

// SheetName is the worksheet holding one row per shape.
const SheetName = "Shapes"

// LabelLoader reads an item's label document.
type LabelLoader interface {
	Load(ws *workspace.Workspace, item workspace.Item) (*annotation.Document, error)
}

// Service produces XLSX bytes from the labels of a record.
type Service struct {
	resolver workspace.Resolver
	labels   LabelLoader
	logger   *slog.Logger
}

func NewService(resolver workspace.Resolver, labels LabelLoader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{resolver: resolver, labels: labels, logger: logger}
}

var headers = []string{
	"Item",
	"Shape",
	"Text",
	"Confidence",
	"Orientation",
	"Left",
	"Top",
	"Right",
	"Bottom",
}

// ExportRecordXLSX writes every shape of every page of a record, in page
// order then label order. Pages without a label file contribute no rows.
func (s *Service) ExportRecordXLSX(ctx context.Context, wsSlug, recordSlug string) ([]byte, error) {
	start := time.Now()

	ws, err := s.resolver.Workspace(wsSlug)
	if err != nil {
		return nil, err
	}
	rec, err := s.resolver.Record(ws, recordSlug)
	if err != nil {
		return nil, err
	}
	items, err := s.resolver.Items(ws, rec.Slug)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(SheetName, cell, h)
	}

	row := 2
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := s.labels.Load(ws, item)
		if err != nil {
			return nil, common.WrapError(err, "item "+item.ID)
		}
		for n := range doc.Shapes {
			shape := &doc.Shapes[n]
			write := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, row)
				_ = f.SetCellValue(SheetName, cell, v)
			}
			write(1, item.ID)
			write(2, n+1)
			if shape.Text != "" {
				write(3, shape.Text)
			}
			if shape.Confidence != nil {
				write(4, *shape.Confidence)
			}
			if shape.Orientation != nil {
				write(5, *shape.Orientation)
			}
			if l, t, r, b, ok := bounds(shape.NormalizedPoints()); ok {
				write(6, l)
				write(7, t)
				write(8, r)
				write(9, b)
			}
			row++
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 24)
	_ = f.SetColWidth(SheetName, "C", "C", 48)
	_ = f.SetColWidth(SheetName, "D", "E", 12)
	_ = f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"workspace", ws.Slug,
		"record", rec.Slug,
		"pages", len(items),
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// bounds is the axis-aligned box around pts, rounded outwards.
func bounds(pts []entity.Point) (left, top, right, bottom int, ok bool) {
	if len(pts) == 0 {
		return 0, 0, 0, 0, false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	return int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)), true
}
