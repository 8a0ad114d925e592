package export

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/ocrjobs/internal/annotation"
	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/workspace"
)

func setup(t *testing.T) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	pages := filepath.Join(root, "acme", "records", "r1", "pages")
	require.NoError(t, os.MkdirAll(pages, 0o755))
	for _, name := range []string{"p1.png", "p2.png", "p3.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(pages, name), []byte("img"), 0o644))
	}
	labels := filepath.Join(root, "acme", "labels", "r1")
	require.NoError(t, os.MkdirAll(labels, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(labels, "p1.json"), []byte(`{
  "version": "1.0",
  "shapes": [
    {"text": "TOTAL", "points": [[10, 10], [60.5, 10], [60.5, 29.2], [10, 29.2]], "confidence": 0.9, "orientation": 0},
    {"text": "", "points": []}
  ]
}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(labels, "p2.json"), []byte(`{
  "shapes": [{"text": "12.50", "points": [[1, 2], [3, 4]]}]
}`), 0o644))

	res := workspace.NewFSResolver(root, nil)
	store, err := annotation.NewStore(res, nil)
	require.NoError(t, err)
	return NewService(res, store, nil), root
}

func TestExportRecordXLSX(t *testing.T) {
	svc, _ := setup(t)

	b, err := svc.ExportRecordXLSX(context.Background(), "acme", "r1")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{SheetName}, f.GetSheetList())

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, []string{"r1/p1.png", "1", "TOTAL", "0.9", "0", "10", "10", "61", "30"}, rows[1])
	assert.Equal(t, []string{"r1/p1.png", "2"}, rows[2])
	assert.Equal(t, []string{"r1/p2.png", "1", "12.50", "", "", "1", "2", "3", "4"}, rows[3])
}

func TestExportUnknownRecord(t *testing.T) {
	svc, _ := setup(t)
	_, err := svc.ExportRecordXLSX(context.Background(), "acme", "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestExportRejectsBrokenLabels(t *testing.T) {
	svc, root := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "acme", "labels", "r1", "p3.json"), []byte(`{"shapes": 7}`), 0o644))

	_, err := svc.ExportRecordXLSX(context.Background(), "acme", "r1")
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Contains(t, err.Error(), "item r1/p3.png")
}
