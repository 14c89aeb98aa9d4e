package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForKindRestrictsProperties(t *testing.T) {
	tests := []struct {
		kind    primitive.Kind
		present []string
		absent  []string
	}{
		{kind: primitive.KindAgent, present: []string{"model", "tools", "skills"}, absent: []string{"middleware", "safety"}},
		{kind: primitive.KindCommand, present: []string{"tools"}, absent: []string{"model", "skills", "middleware"}},
		{kind: primitive.KindTool, present: []string{"versions"}, absent: []string{"tools", "model"}},
		{kind: primitive.KindHook, present: []string{"middleware", "safety"}, absent: []string{"model", "tools"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			s, err := ForKind("v1", tt.kind)
			require.NoError(t, err)

			for _, key := range tt.present {
				_, ok := s.Properties.Get(key)
				assert.True(t, ok, "expected %s", key)
			}
			for _, key := range tt.absent {
				_, ok := s.Properties.Get(key)
				assert.False(t, ok, "unexpected %s", key)
			}

			kindProp, ok := s.Properties.Get("kind")
			require.True(t, ok)
			assert.Equal(t, []any{string(tt.kind)}, kindProp.Enum)
			assert.Equal(t, "https://primforge.dev/schemas/v1/"+string(tt.kind)+".json", string(s.ID))
		})
	}
}

func TestForKindHookRequiresMiddleware(t *testing.T) {
	s, err := ForKind("v1", primitive.KindHook)
	require.NoError(t, err)
	assert.Contains(t, s.Required, "middleware")
	assert.Contains(t, s.Required, "versions")
}

func TestUnsupportedVersion(t *testing.T) {
	_, err := ForKind("v9", primitive.KindAgent)
	assert.Error(t, err)
	_, err = ForToolSpec("v9")
	assert.Error(t, err)
	assert.Equal(t, []string{"v1"}, SupportedVersions())
}

func TestToolParameters(t *testing.T) {
	s := ToolParameters([]primitive.ToolArg{
		{Name: "query", Type: "string", Description: "Search text", Required: true},
		{Name: "mode", Type: "string", Enum: []any{"fast", "full"}},
		{Name: "limit", Type: "integer", Default: 10},
	})

	data, err := Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, []any{"query"}, doc["required"])
	assert.Equal(t, false, doc["additionalProperties"])

	props := doc["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "string", "description": "Search text"}, props["query"])
	assert.Equal(t, map[string]any{"type": "string", "enum": []any{"fast", "full"}}, props["mode"])
	assert.Equal(t, map[string]any{"type": "integer", "default": float64(10)}, props["limit"])

	// declaration order survives encoding
	assert.Less(t, strings.Index(string(data), `"query"`), strings.Index(string(data), `"mode"`))
	assert.Less(t, strings.Index(string(data), `"mode"`), strings.Index(string(data), `"limit"`))
}
