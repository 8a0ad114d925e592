package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeRoundTripKeepsUnknownFields(t *testing.T) {
	in := `{"text":"Total <5>","points":[[1,2],[3,4]],"confidence":0.5,"label":"price","group_id":null}`

	var s Shape
	require.NoError(t, json.Unmarshal([]byte(in), &s))
	assert.Equal(t, "Total <5>", s.Text)
	require.NotNil(t, s.Confidence)
	assert.Equal(t, 0.5, *s.Confidence)
	assert.Nil(t, s.Orientation)
	assert.JSONEq(t, `"price"`, string(s.Extra["label"]))

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestShapeScoreUnscored(t *testing.T) {
	var s Shape
	require.NoError(t, json.Unmarshal([]byte(`{"text":"a","points":[]}`), &s))
	assert.Equal(t, Unscored, s.Score())

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "confidence")
}

func TestNormalizedPointsDropsMalformed(t *testing.T) {
	s := Shape{Points: json.RawMessage(`[[1,2],[3],"x",[4.5,"y"],[5.25,6,7],{"x":1}]`)}
	assert.Equal(t, []Point{{1, 2}, {5.25, 6}}, s.NormalizedPoints())

	s = Shape{Points: json.RawMessage(`"nope"`)}
	assert.Empty(t, s.NormalizedPoints())
}

func TestShapeRejectsNonNumericConfidence(t *testing.T) {
	var s Shape
	assert.Error(t, json.Unmarshal([]byte(`{"confidence":"high"}`), &s))
}
