package canonicalize

import (
	"encoding/json"
	"testing"

	"github.com/gowebpki/jcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortedKeysCompact(t *testing.T) {
	out, err := MarshalString(map[string]any{
		"target":    "kiera",
		"source":    "scarlet",
		"task_type": "ping",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"source":"scarlet","target":"kiera","task_type":"ping"}`, out)
}

func TestMarshal_NestedAndArrays(t *testing.T) {
	out, err := MarshalString(map[string]any{
		"b": []any{1, "two", map[string]any{"z": true, "a": nil}},
		"a": map[string]any{"y": 2, "x": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":1,"y":2},"b":[1,"two",{"a":null,"z":true}]}`, out)
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	out, err := MarshalString(map[string]any{"q": "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b>&c"}`, out)
}

func TestMarshal_StructTags(t *testing.T) {
	type body struct {
		TaskType string `json:"task_type"`
		Source   string `json:"source"`
	}
	out, err := MarshalString(body{TaskType: "ping", Source: "scarlet"})
	require.NoError(t, err)
	assert.Equal(t, `{"source":"scarlet","task_type":"ping"}`, out)
}

// The RFC 8785 reference transform acts as an oracle for our encoder.
func TestMarshal_MatchesJCS(t *testing.T) {
	inputs := []string{
		`{"z":1,"a":{"c":[3,2,1],"b":"x"},"m":null}`,
		`{"unicode":"héllo é","nested":{"deep":{"deeper":true}}}`,
		`{"nums":[0,1,2.5,100000],"s":"<&>"}`,
	}
	for _, in := range inputs {
		want, err := jcs.Transform([]byte(in))
		require.NoError(t, err)

		got, err := Marshal(mustDecode(t, in))
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got), "input %s", in)
	}
}

func mustDecode(t *testing.T, s string) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}
