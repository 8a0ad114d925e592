package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Unscored is reported by Shape.Score when a shape carries no confidence.
const Unscored = -1.0

// Shape is one annotated region of a page as stored in a label document.
// Keys the application does not model are kept in Extra and written back
// untouched.
type Shape struct {
	Text        string
	Points      json.RawMessage
	Confidence  *float64
	Orientation *int
	Extra       map[string]json.RawMessage
}

// Point is a normalized vertex in pixel coordinates.
type Point struct {
	X, Y float64
}

var shapeKeys = map[string]struct{}{
	"text": {}, "points": {}, "confidence": {}, "orientation": {},
}

// Score returns the confidence, or Unscored when there is none.
func (s *Shape) Score() float64 {
	if s.Confidence == nil {
		return Unscored
	}
	return *s.Confidence
}

// NormalizedPoints returns the vertices that are [x, y, ...] numeric arrays,
// silently dropping anything else.
func (s *Shape) NormalizedPoints() []Point {
	if len(s.Points) == 0 {
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(s.Points, &raw); err != nil {
		return nil
	}
	out := make([]Point, 0, len(raw))
	for _, r := range raw {
		var pair []json.RawMessage
		if err := json.Unmarshal(r, &pair); err != nil || len(pair) < 2 {
			continue
		}
		x, okX := number(pair[0])
		y, okY := number(pair[1])
		if !okX || !okY {
			continue
		}
		out = append(out, Point{X: x, Y: y})
	}
	return out
}

// SetPoints replaces the stored vertices with numeric pairs.
func (s *Shape) SetPoints(pts []Point) {
	pairs := make([][2]float64, len(pts))
	for i, p := range pts {
		pairs[i] = [2]float64{p.X, p.Y}
	}
	b, _ := json.Marshal(pairs)
	s.Points = b
}

func number(r json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(r, &f); err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func (s *Shape) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("shape must be an object")
	}
	*s = Shape{}
	if v, ok := fields["text"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &s.Text); err != nil {
			return fmt.Errorf("text: %w", err)
		}
	}
	if v, ok := fields["points"]; ok {
		s.Points = append(json.RawMessage(nil), v...)
	}
	if v, ok := fields["confidence"]; ok && !isNull(v) {
		f, ok := number(v)
		if !ok {
			return fmt.Errorf("confidence must be a number")
		}
		s.Confidence = &f
	}
	if v, ok := fields["orientation"]; ok && !isNull(v) {
		f, ok := number(v)
		if !ok {
			return fmt.Errorf("orientation must be a number")
		}
		o := int(f)
		s.Orientation = &o
	}
	for k, v := range fields {
		if _, known := shapeKeys[k]; known {
			continue
		}
		if s.Extra == nil {
			s.Extra = make(map[string]json.RawMessage)
		}
		s.Extra[k] = v
	}
	return nil
}

func (s Shape) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.Extra)+4)
	for k, v := range s.Extra {
		out[k] = v
	}
	put := func(key string, v any) error {
		b, err := marshalNoEscape(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		out[key] = b
		return nil
	}
	if err := put("text", s.Text); err != nil {
		return nil, err
	}
	if len(s.Points) > 0 {
		out["points"] = s.Points
	}
	if s.Confidence != nil {
		if err := put("confidence", *s.Confidence); err != nil {
			return nil, err
		}
	}
	if s.Orientation != nil {
		if err := put("orientation", *s.Orientation); err != nil {
			return nil, err
		}
	}
	return marshalNoEscape(out)
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}
