package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/docsage/docsage/internal/tools"
)

// BridgeTool adapts one remote MCP tool to the local tool interface. Calls
// are forwarded over the server's client with a per-call timeout.
type BridgeTool struct {
	server    string
	tool      mcpgo.Tool
	client    *mcpclient.Client
	name      string
	timeout   time.Duration
	connected *atomic.Bool
}

func newBridgeTool(server string, tool mcpgo.Tool, client *mcpclient.Client, prefix string, timeout time.Duration, connected *atomic.Bool) *BridgeTool {
	name := tool.Name
	if prefix != "" {
		name = prefix + "_" + name
	}
	return &BridgeTool{
		server:    server,
		tool:      tool,
		client:    client,
		name:      name,
		timeout:   timeout,
		connected: connected,
	}
}

func (b *BridgeTool) Name() string { return b.name }

// OriginalName is the server-side tool name, before any prefix.
func (b *BridgeTool) OriginalName() string { return b.tool.Name }

func (b *BridgeTool) Description() string {
	if b.tool.Description != "" {
		return b.tool.Description
	}
	return fmt.Sprintf("tool %q provided by MCP server %q", b.tool.Name, b.server)
}

func (b *BridgeTool) Parameters() map[string]any {
	schema := map[string]any{"type": "object"}
	if b.tool.InputSchema.Type != "" {
		schema["type"] = b.tool.InputSchema.Type
	}
	if len(b.tool.InputSchema.Properties) > 0 {
		schema["properties"] = b.tool.InputSchema.Properties
	}
	if len(b.tool.InputSchema.Required) > 0 {
		schema["required"] = b.tool.InputSchema.Required
	}
	return schema
}

func (b *BridgeTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	if b.connected != nil && !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("MCP server %q is not connected", b.server))
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.tool.Name
	req.Params.Arguments = args

	res, err := b.client.CallTool(callCtx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("call %s: %v", b.tool.Name, err)).WithError(err)
	}

	text := flattenContent(res.Content)
	if res.IsError {
		if text == "" {
			text = fmt.Sprintf("tool %s reported an error", b.tool.Name)
		}
		return tools.ErrorResult(text)
	}
	return tools.NewResult(text)
}

// flattenContent joins the text parts of a tool result. Non-text content is
// summarized by type so the model knows something was returned.
func flattenContent(content []mcpgo.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case *mcpgo.TextContent:
			parts = append(parts, v.Text)
		default:
			parts = append(parts, fmt.Sprintf("[%T content omitted]", c))
		}
	}
	return strings.Join(parts, "\n")
}
