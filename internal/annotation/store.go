package annotation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/ocrjobs/constants"
	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/entity"
	"github.com/joseph-ayodele/ocrjobs/internal/workspace"
)

// Document is a page's label file. Top-level keys other than version and
// shapes survive a Load/Save cycle.
type Document struct {
	Version string
	Shapes  []entity.Shape
	Extra   map[string]json.RawMessage
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*d = Document{}
	if v, ok := fields["version"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &d.Version); err != nil {
			// numeric versions are kept as written
			d.Version = string(bytes.TrimSpace(v))
		}
	}
	if v, ok := fields["shapes"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &d.Shapes); err != nil {
			return fmt.Errorf("shapes: %w", err)
		}
	}
	for k, v := range fields {
		if k == "version" || k == "shapes" {
			continue
		}
		if d.Extra == nil {
			d.Extra = make(map[string]json.RawMessage)
		}
		d.Extra[k] = v
	}
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+2)
	for k, v := range d.Extra {
		out[k] = v
	}
	version := d.Version
	if version == "" {
		version = constants.LabelVersion
	}
	out["version"] = version
	shapes := d.Shapes
	if shapes == nil {
		shapes = []entity.Shape{}
	}
	out["shapes"] = shapes

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Store loads and saves label documents next to a workspace's records.
type Store struct {
	resolver workspace.Resolver
	schema   *jsonschema.Schema
	logger   *slog.Logger
}

func NewStore(resolver workspace.Resolver, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := compileSchema(labelSchema())
	if err != nil {
		return nil, err
	}
	return &Store{resolver: resolver, schema: schema, logger: logger}, nil
}

// Load returns the item's label document. A missing file yields an empty
// document; a malformed one is a validation error.
func (s *Store) Load(ws *workspace.Workspace, item workspace.Item) (*Document, error) {
	path := s.resolver.LabelPath(ws, item)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Document{Version: constants.LabelVersion}, nil
	}
	if err != nil {
		return nil, common.WrapError(err, "read label file")
	}
	doc, err := s.Decode(b)
	if err != nil {
		s.logger.Warn("label file rejected", "item_id", item.ID, "path", path, "error", err)
		return nil, err
	}
	return doc, nil
}

// Decode validates raw label JSON against the schema and parses it.
func (s *Store) Decode(b []byte) (*Document, error) {
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, common.NewAppError(common.CodeValidation, "label file is not valid JSON", errors.Join(common.ErrValidation, err))
	}
	if err := s.schema.Validate(generic); err != nil {
		return nil, common.NewAppError(common.CodeValidation, "label file does not match schema", errors.Join(common.ErrValidation, err))
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, common.NewAppError(common.CodeValidation, "label file is malformed", errors.Join(common.ErrValidation, err))
	}
	return &doc, nil
}

// Save atomically replaces the item's label document.
func (s *Store) Save(ws *workspace.Workspace, item workspace.Item, doc *Document) error {
	path := s.resolver.LabelPath(ws, item)
	b, err := Encode(doc)
	if err != nil {
		return err
	}
	if err := writeAtomic(path, b); err != nil {
		s.logger.Error("label save failed", "item_id", item.ID, "path", path, "error", err)
		return err
	}
	s.logger.Debug("label saved", "item_id", item.ID, "shapes", len(doc.Shapes))
	return nil
}

// Encode renders doc deterministically: sorted keys, two-space indent and
// no HTML escaping, so an unchanged document re-encodes to the same bytes.
func Encode(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, common.NewAppError(common.CodeValidation, "encode label file", errors.Join(common.ErrValidation, err))
	}
	return buf.Bytes(), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return common.WrapError(err, "create label dir")
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return common.WrapError(err, "create temp label")
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return common.WrapError(err, "write temp label")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return common.WrapError(err, "sync temp label")
	}
	if err := tmp.Close(); err != nil {
		return common.WrapError(err, "close temp label")
	}
	if err := os.Rename(name, path); err != nil {
		return common.WrapError(err, "replace label")
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}
