// Package mcp connects to external MCP tool servers and bridges their tools
// into the agent's tool registry.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/tools"
)

const defaultCallTimeout = 60 * time.Second

// ServerStatus reports the connection status of one MCP server.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

// serverState tracks a single MCP server connection.
type serverState struct {
	name      string
	transport string
	client    *mcpclient.Client
	connected atomic.Bool
	bridges   []*BridgeTool
	lastErr   string
}

// Manager owns the MCP server connections declared in config. Connected
// servers contribute their tools via Tools; turns register those alongside
// the built-in set.
type Manager struct {
	configs map[string]config.MCPServerConfig

	mu      sync.RWMutex
	servers map[string]*serverState
}

func NewManager(configs map[string]config.MCPServerConfig) *Manager {
	return &Manager{
		configs: configs,
		servers: make(map[string]*serverState),
	}
}

// Start connects to all enabled servers. Non-fatal per server: failures are
// logged and aggregated, already-connected servers keep serving.
func (m *Manager) Start(ctx context.Context) error {
	var errs []string
	for name, cfg := range m.configs {
		if !cfg.IsEnabled() {
			slog.Info("mcp server disabled", "server", name)
			continue
		}
		if err := m.connect(ctx, name, cfg); err != nil {
			slog.Warn("mcp server connect failed", "server", name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("some MCP servers failed to connect: %s", strings.Join(errs, "; "))
	}
	return nil
}

// connect creates a client, performs the MCP handshake, discovers tools, and
// wraps them as bridges.
func (m *Manager) connect(ctx context.Context, name string, cfg config.MCPServerConfig) error {
	client, err := newClient(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	// SSE and streamable-http need an explicit Start; stdio auto-starts.
	if cfg.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "docsage", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	ss := &serverState{name: name, transport: cfg.Transport, client: client}
	ss.connected.Store(true)
	for _, t := range listed.Tools {
		ss.bridges = append(ss.bridges, newBridgeTool(name, t, client, cfg.ToolPrefix, timeout, &ss.connected))
	}

	m.mu.Lock()
	m.servers[name] = ss
	m.mu.Unlock()

	slog.Info("mcp server connected", "server", name, "transport", cfg.Transport, "tools", len(ss.bridges))
	return nil
}

// Tools returns all bridged tools across connected servers, sorted by name.
func (m *Manager) Tools() []tools.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []tools.Tool
	for _, ss := range m.servers {
		for _, b := range ss.bridges {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Status reports all connected servers.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		out = append(out, ServerStatus{
			Name:      ss.name,
			Transport: ss.transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.bridges),
			Error:     ss.lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop closes all server connections.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, ss := range m.servers {
		ss.connected.Store(false)
		if err := ss.client.Close(); err != nil {
			slog.Debug("mcp server close", "server", name, "error", err)
		}
	}
	m.servers = make(map[string]*serverState)
}

// newClient creates the client for a configured transport.
func newClient(cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		return mcpclient.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)
	case "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
