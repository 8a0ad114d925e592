package annotation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// labelSchema returns the JSON-Schema a label document must satisfy. Unknown
// keys are allowed at every level because they are carried through rewrites.
func labelSchema() map[string]any {
	nullableNumber := map[string]any{"type": []string{"number", "null"}}
	shape := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":        map[string]any{"type": []string{"string", "null"}},
			"points":      map[string]any{"type": "array"},
			"confidence":  nullableNumber,
			"orientation": nullableNumber,
		},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"version": map[string]any{"type": []string{"string", "number"}},
			"shapes":  map[string]any{"type": "array", "items": shape},
		},
	}
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("label.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("label.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
