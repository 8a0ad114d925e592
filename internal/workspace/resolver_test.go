package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/ocrjobs/internal/common"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func setup(t *testing.T) (*FSResolver, *Workspace) {
	t.Helper()
	root := t.TempDir()
	pages := filepath.Join(root, "acme", "records", "inv-1", "pages")
	writeFile(t, filepath.Join(pages, "b.PNG"), "x")
	writeFile(t, filepath.Join(pages, "a.jpg"), "x")
	writeFile(t, filepath.Join(pages, "notes.txt"), "x")
	writeFile(t, filepath.Join(pages, ".hidden.png"), "x")
	writeFile(t, filepath.Join(root, "acme", "records", "inv-1", "record.json"), `{"title":"March invoices"}`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acme", "records", "empty"), 0o755))

	r := NewFSResolver(root, nil)
	ws, err := r.Workspace("acme")
	require.NoError(t, err)
	return r, ws
}

func TestWorkspaceLookup(t *testing.T) {
	r, ws := setup(t)
	assert.Equal(t, "acme", ws.Slug)

	_, err := r.Workspace("missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = r.Workspace("../etc")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = r.Workspace("")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestRecordTitle(t *testing.T) {
	r, ws := setup(t)

	rec, err := r.Record(ws, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "March invoices", rec.Title)

	rec, err = r.Record(ws, "empty")
	require.NoError(t, err)
	assert.Equal(t, "empty", rec.Title)

	_, err = r.Record(ws, "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestItemsFiltersAndSorts(t *testing.T) {
	r, ws := setup(t)

	items, err := r.Items(ws, "inv-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "inv-1/a.jpg", items[0].ID)
	assert.Equal(t, "inv-1/b.PNG", items[1].ID)
	assert.Equal(t, "b", items[1].Stem())

	empty, err := r.Items(ws, "empty")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestItemLookup(t *testing.T) {
	r, ws := setup(t)

	item, err := r.Item(ws, "inv-1/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", item.Filename)
	assert.Equal(t, filepath.Join(ws.Path, "labels", "inv-1", "a.json"), r.LabelPath(ws, *item))

	_, err = r.Item(ws, "inv-1/zzz.png")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = r.Item(ws, "no-slash")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = r.Item(ws, "inv-1/../../x.png")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
