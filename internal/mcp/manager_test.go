package mcp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/tools"
)

func newEchoServer() *server.MCPServer {
	s := server.NewMCPServer("fixture", "0.1.0")
	s.AddTool(mcpgo.NewTool("echo",
		mcpgo.WithDescription("echo the input back"),
		mcpgo.WithString("text", mcpgo.Required(), mcpgo.Description("text to echo")),
	), func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return mcpgo.NewToolResultText("echo: " + req.GetString("text", "")), nil
	})
	return s
}

// inProcessClient connects a ready-to-call client to an in-process server.
func inProcessClient(t *testing.T) *client.Client {
	t.Helper()
	cl, err := client.NewInProcessClient(newEchoServer())
	require.NoError(t, err)
	t.Cleanup(func() { cl.Close() })

	ctx := context.Background()
	require.NoError(t, cl.Start(ctx))
	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "docsage-test", Version: "0.0.1"}
	_, err = cl.Initialize(ctx, initReq)
	require.NoError(t, err)
	return cl
}

func TestBridgeToolRoundTrip(t *testing.T) {
	cl := inProcessClient(t)
	ctx := context.Background()

	listed, err := cl.ListTools(ctx, mcpgo.ListToolsRequest{})
	require.NoError(t, err)
	require.Len(t, listed.Tools, 1)

	bridge := newBridgeTool("fixture", listed.Tools[0], cl, "mcp", 5*time.Second, nil)
	assert.Equal(t, "mcp_echo", bridge.Name())
	assert.Equal(t, "echo", bridge.OriginalName())
	assert.Equal(t, "echo the input back", bridge.Description())

	params := bridge.Parameters()
	assert.Equal(t, "object", params["type"])
	assert.Contains(t, params, "properties")

	reg := tools.NewRegistry()
	reg.Register(bridge)
	res := reg.Execute(ctx, "mcp_echo", map[string]any{"text": "ping"})
	require.False(t, res.IsError)
	assert.Equal(t, "echo: ping", res.ForLLM)
}

func TestBridgeToolDisconnectedServer(t *testing.T) {
	cl := inProcessClient(t)
	ctx := context.Background()

	listed, err := cl.ListTools(ctx, mcpgo.ListToolsRequest{})
	require.NoError(t, err)

	var connected atomic.Bool // stays false
	bridge := newBridgeTool("fixture", listed.Tools[0], cl, "", 5*time.Second, &connected)
	res := bridge.Execute(ctx, map[string]any{"text": "ping"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "not connected")
}

func TestManagerStartUnsupportedTransport(t *testing.T) {
	mgr := NewManager(map[string]config.MCPServerConfig{
		"bad": {Transport: "carrier-pigeon"},
	})
	err := mgr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transport")
	assert.Empty(t, mgr.Tools())
}

func TestManagerSkipsDisabledServers(t *testing.T) {
	off := false
	mgr := NewManager(map[string]config.MCPServerConfig{
		"off": {Enabled: &off, Transport: "sse", URL: "http://127.0.0.1:1/sse"},
	})
	require.NoError(t, mgr.Start(context.Background()))
	assert.Empty(t, mgr.Tools())
	assert.Empty(t, mgr.Status())
}
