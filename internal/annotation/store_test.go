package annotation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/workspace"
)

func newStore(t *testing.T) (*Store, *workspace.Workspace, workspace.Item, string) {
	t.Helper()
	root := t.TempDir()
	page := filepath.Join(root, "acme", "records", "rec", "pages", "p1.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(page), 0o755))
	require.NoError(t, os.WriteFile(page, []byte("img"), 0o644))

	res := workspace.NewFSResolver(root, nil)
	ws, err := res.Workspace("acme")
	require.NoError(t, err)
	item, err := res.Item(ws, "rec/p1.png")
	require.NoError(t, err)

	s, err := NewStore(res, nil)
	require.NoError(t, err)
	return s, ws, *item, res.LabelPath(ws, *item)
}

func TestLoadMissingIsEmpty(t *testing.T) {
	s, ws, item, _ := newStore(t)
	doc, err := s.Load(ws, item)
	require.NoError(t, err)
	assert.Empty(t, doc.Shapes)
	assert.Equal(t, "1.0", doc.Version)
}

func TestSaveLoadIsIdempotent(t *testing.T) {
	s, ws, item, path := newStore(t)
	raw := `{
  "version": "1.0",
  "imageWidth": 640,
  "shapes": [
    {"text": "總計 <USD> & tax", "points": [[1, 2], [30, 2], [30, 12]], "confidence": 0.87, "label": "total"},
    {"text": "", "points": [[5, 5], [9, 9]]}
  ]
}`
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	doc, err := s.Load(ws, item)
	require.NoError(t, err)
	require.Len(t, doc.Shapes, 2)
	assert.Equal(t, "總計 <USD> & tax", doc.Shapes[0].Text)
	assert.JSONEq(t, `640`, string(doc.Extra["imageWidth"]))

	require.NoError(t, s.Save(ws, item, doc))
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(first), `"總計 <USD> & tax"`)

	again, err := s.Load(ws, item)
	require.NoError(t, err)
	require.NoError(t, s.Save(ws, item, again))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.JSONEq(t, raw, string(second))
}

func TestLoadRejectsMalformed(t *testing.T) {
	s, ws, item, path := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	for _, body := range []string{
		`not json`,
		`{"shapes": "nope"}`,
		`{"shapes": [{"text": 5}]}`,
		`{"shapes": [{"confidence": "high"}]}`,
	} {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := s.Load(ws, item)
		assert.ErrorIs(t, err, common.ErrValidation, body)
	}
}

func TestSaveCreatesDirectoryAndLeavesNoTemp(t *testing.T) {
	s, ws, item, path := newStore(t)
	require.NoError(t, s.Save(ws, item, &Document{}))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p1.json", entries[0].Name())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1.0","shapes":[]}`, string(b))
}
