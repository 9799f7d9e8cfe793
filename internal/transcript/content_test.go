package transcript

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContent_UnmarshalString(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte(`"hello world"`), &c))

	assert.Equal(t, ContentText, c.Kind)
	assert.Equal(t, "hello world", c.Text())
	assert.Nil(t, c.Blocks())
}

func TestContent_UnmarshalNull(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte(`null`), &c))
	assert.Equal(t, ContentEmpty, c.Kind)
	assert.Equal(t, "", c.Text())
}

func TestContent_FlattenBlocks(t *testing.T) {
	raw := `[
		{"type":"thinking","thinking":"internal"},
		{"type":"text","text":"Let me check the schema."},
		{"type":"tool_use","id":"toolu_1","name":"Read","input":{"file_path":"/src/db.go"}},
		{"type":"image","source":{"type":"base64","data":"xx"}},
		{"type":"server_tool_use","id":"s1","name":"web"}
	]`
	var c Content
	require.NoError(t, json.Unmarshal([]byte(raw), &c))

	assert.Equal(t, ContentBlocks, c.Kind)
	assert.Len(t, c.Blocks(), 5)
	assert.Equal(t,
		"Let me check the schema.\n"+
			`Read: {"file_path":"/src/db.go"}`+"\n"+
			"[image]\n"+
			`{"type":"server_tool_use","id":"s1","name":"web"}`,
		c.Text())
}

func TestContent_ToolResultNested(t *testing.T) {
	raw := `[
		{"type":"tool_result","tool_use_id":"toolu_1","content":"plain output"},
		{"type":"tool_result","tool_use_id":"toolu_2","content":[{"type":"text","text":"line a"},{"type":"text","text":"line b"}]}
	]`
	var c Content
	require.NoError(t, json.Unmarshal([]byte(raw), &c))

	assert.True(t, c.HasBlock("tool_result"))
	assert.Equal(t, "plain output\nline a\nline b", c.Text())
}

func TestContent_StringElementsInList(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte(`["first", {"type":"text","text":"second"}]`), &c))
	assert.Equal(t, "first\nsecond", c.Text())
}

func TestContent_UnsupportedShape(t *testing.T) {
	var c Content
	assert.Error(t, json.Unmarshal([]byte(`{"text":"object"}`), &c))
	assert.Error(t, json.Unmarshal([]byte(`42`), &c))
}

func TestContent_ToolUseTruncated(t *testing.T) {
	long := strings.Repeat("x", 2000)
	input, err := json.Marshal(map[string]string{"command": long})
	require.NoError(t, err)

	got := formatToolUse("Bash", input)
	assert.True(t, strings.HasPrefix(got, "Bash: {"))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, len("Bash: ")+maxToolInputRunes, len([]rune(got)))

	assert.Equal(t, "Bash()", formatToolUse("Bash", json.RawMessage(`{}`)))
	assert.Equal(t, "", formatToolUse("", json.RawMessage(`{"a":1}`)))
}

func TestContent_MarshalRoundTripsShape(t *testing.T) {
	b, err := json.Marshal(TextContent("hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `"hi"`, string(b))

	b, err = json.Marshal(Content{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}
