package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo the input back." }
func (echoTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []string{"text"},
	}
}
func (echoTool) Execute(ctx context.Context, args map[string]any) *Result {
	text, _ := args["text"].(string)
	return NewResult(text)
}

func TestPreviewShortOutputUntouched(t *testing.T) {
	res := NewResult("short output")
	preview, truncated, full := res.Preview(100)
	assert.Equal(t, "short output", preview)
	assert.False(t, truncated)
	assert.Equal(t, len("short output"), full)
}

func TestPreviewTruncatesWideOutput(t *testing.T) {
	res := NewResult(strings.Repeat("a", 500))
	preview, truncated, full := res.Preview(20)
	assert.True(t, truncated)
	assert.Equal(t, 500, full)
	assert.True(t, strings.HasSuffix(preview, "…"))
	assert.Less(t, len([]rune(preview)), 500)
}

func TestPreviewZeroWidthDisablesTruncation(t *testing.T) {
	res := NewResult(strings.Repeat("a", 500))
	preview, truncated, _ := res.Preview(0)
	assert.False(t, truncated)
	assert.Len(t, preview, 500)
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	res := reg.Execute(context.Background(), "nope", nil)
	require.NotNil(t, res)
	assert.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "unknown tool")
}

func TestRegistryProviderDefs(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool{})
	reg.Register(NewWebFetchTool(0))

	defs := reg.ProviderDefs()
	require.Len(t, defs, 2)
	// Sorted by name for deterministic wire order.
	assert.Equal(t, "echo", defs[0].Function.Name)
	assert.Equal(t, "web_fetch", defs[1].Function.Name)
	assert.Equal(t, "function", defs[0].Type)
	assert.NotNil(t, defs[0].Function.Parameters["properties"])
}

func TestStripHTML(t *testing.T) {
	html := `<html><head><script>var x = 1;</script><style>p{color:red}</style></head>
<body><nav>menu</nav><h1>Title</h1><p>First &amp; second.</p><footer>foot</footer></body></html>`
	text := StripHTML(html)
	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "First & second.")
	assert.NotContains(t, text, "var x")
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "menu")
	assert.NotContains(t, text, "foot")
}
