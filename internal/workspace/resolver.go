package workspace

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/ocrjobs/constants"
	"github.com/joseph-ayodele/ocrjobs/internal/common"
)

const (
	recordsDir     = "records"
	pagesDir       = "pages"
	labelsDir      = "labels"
	recordMetaFile = "record.json"
)

type Workspace struct {
	Slug string
	Path string
}

type Record struct {
	Slug  string
	Title string
	Path  string
}

// Item is one page image. ID is "<record>/<filename>".
type Item struct {
	ID        string
	Record    string
	Filename  string
	ImagePath string
}

// Stem is the filename without its extension; label files are named after it.
func (i Item) Stem() string {
	return strings.TrimSuffix(i.Filename, filepath.Ext(i.Filename))
}

// Resolver maps opaque workspace, record and item references to files.
type Resolver interface {
	Workspace(slug string) (*Workspace, error)
	Record(ws *Workspace, slug string) (*Record, error)
	Items(ws *Workspace, record string) ([]Item, error)
	Item(ws *Workspace, itemID string) (*Item, error)
	LabelPath(ws *Workspace, item Item) string
}

// FSResolver reads the layout
//
//	<root>/<workspace>/records/<record>/pages/<image>
//	<root>/<workspace>/labels/<record>/<stem>.json
type FSResolver struct {
	root   string
	logger *slog.Logger
}

func NewFSResolver(root string, logger *slog.Logger) *FSResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSResolver{root: root, logger: logger}
}

func (r *FSResolver) Workspace(slug string) (*Workspace, error) {
	if err := checkSegment("workspace", slug); err != nil {
		return nil, err
	}
	path := filepath.Join(r.root, slug)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.NotFoundf("workspace '%s' does not exist", slug)
	}
	if err != nil {
		return nil, common.WrapError(err, "stat workspace")
	}
	if !info.IsDir() {
		return nil, common.NotFoundf("workspace '%s' is not a directory", slug)
	}
	return &Workspace{Slug: slug, Path: path}, nil
}

func (r *FSResolver) Record(ws *Workspace, slug string) (*Record, error) {
	if err := checkSegment("record", slug); err != nil {
		return nil, err
	}
	path := filepath.Join(ws.Path, recordsDir, slug)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, common.NotFoundf("record '%s' not found in workspace '%s'", slug, ws.Slug)
	}
	return &Record{Slug: slug, Title: r.recordTitle(path, slug), Path: path}, nil
}

// recordTitle reads {"title": ...} from record.json, falling back to the slug.
func (r *FSResolver) recordTitle(dir, slug string) string {
	b, err := os.ReadFile(filepath.Join(dir, recordMetaFile))
	if err != nil {
		return slug
	}
	var meta struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		r.logger.Warn("ignoring unreadable record metadata", "record", slug, "error", err)
		return slug
	}
	if t := strings.TrimSpace(meta.Title); t != "" {
		return t
	}
	return slug
}

// Items lists the record's page images sorted by filename.
func (r *FSResolver) Items(ws *Workspace, record string) ([]Item, error) {
	rec, err := r.Record(ws, record)
	if err != nil {
		return nil, err
	}
	pages := filepath.Join(rec.Path, pagesDir)
	var items []Item
	err = filepath.WalkDir(pages, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) && path == pages {
				return filepath.SkipDir
			}
			return walkErr
		}
		if d.IsDir() {
			if path != pages && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || !constants.IsAllowedImage(d.Name()) {
			return nil
		}
		items = append(items, Item{
			ID:        rec.Slug + "/" + d.Name(),
			Record:    rec.Slug,
			Filename:  d.Name(),
			ImagePath: path,
		})
		return nil
	})
	if err != nil {
		return nil, common.WrapError(err, "list pages")
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Filename < items[j].Filename })
	return items, nil
}

func (r *FSResolver) Item(ws *Workspace, itemID string) (*Item, error) {
	record, filename, ok := strings.Cut(itemID, "/")
	if !ok || record == "" || filename == "" {
		return nil, common.InvalidInputf("item id '%s' must look like <record>/<filename>", itemID)
	}
	if err := checkSegment("item", filename); err != nil {
		return nil, err
	}
	items, err := r.Items(ws, record)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Filename == filename {
			return &items[i], nil
		}
	}
	return nil, common.NotFoundf("item '%s' not found in workspace '%s'", itemID, ws.Slug)
}

func (r *FSResolver) LabelPath(ws *Workspace, item Item) string {
	return filepath.Join(ws.Path, labelsDir, item.Record, item.Stem()+".json")
}

func checkSegment(field, value string) error {
	v := common.NewValidator().
		Field(field, value, common.Required, common.PathSegment)
	if v.HasErrors() {
		return common.InvalidInputf("invalid %s '%s'", field, value)
	}
	return nil
}
