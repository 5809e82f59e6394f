// Package mcp connects to remote tool servers and installs their tools
// into the local registry.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/CriticalRange/arula-go/internal/tools"
)

const (
	clientName    = "arula"
	clientVersion = "1.0.0"

	// defaultCallTimeout bounds a single remote tool call when the
	// server descriptor sets none.
	defaultCallTimeout = 30 * time.Second

	// healthInterval paces idle heartbeats.
	healthInterval = 30 * time.Second

	// reconnectBackoff paces reconnect attempts after a lost server.
	reconnectBackoff = 10 * time.Second
)

// ServerConfig describes one remote tool server. Either URL (HTTP) or
// Command (child process over stdio) must be set.
type ServerConfig struct {
	URL     string
	Command string
	Args    []string
	Headers map[string]string
	Timeout time.Duration
}

func (c ServerConfig) callTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultCallTimeout
}

// Manager owns the set of server connections. A failed server never
// blocks the agent loop: its tools are removed from the registry and
// reinstalled after a successful reconnect.
type Manager struct {
	registry *tools.Registry

	mu      sync.Mutex
	servers map[string]*serverConn
	closed  bool
}

type serverConn struct {
	label  string
	cfg    ServerConfig
	client *mcpclient.Client
	cancel context.CancelFunc // stops the health loop
}

// NewManager creates a manager installing into registry.
func NewManager(registry *tools.Registry) *Manager {
	return &Manager{
		registry: registry,
		servers:  make(map[string]*serverConn),
	}
}

// Connect dials one server, performs the handshake, discovers its tools
// and registers them under the "<label>_" prefix. The error is fatal
// for this server only.
func (m *Manager) Connect(ctx context.Context, label string, cfg ServerConfig) error {
	client, err := dial(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mcp server %s: %w", label, err)
	}

	initReq := mcpproto.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpproto.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpproto.Implementation{Name: clientName, Version: clientVersion}
	initReq.Params.Capabilities = mcpproto.ClientCapabilities{}

	initRes, err := client.Initialize(ctx, initReq)
	if err != nil {
		client.Close()
		return fmt.Errorf("mcp server %s: initialize failed: %w", label, err)
	}
	if initRes.ProtocolVersion == "" {
		client.Close()
		return fmt.Errorf("mcp server %s: no protocol version negotiated", label)
	}

	conn := &serverConn{label: label, cfg: cfg, client: client}
	if err := m.installTools(ctx, conn); err != nil {
		client.Close()
		return err
	}

	healthCtx, cancel := context.WithCancel(context.Background())
	conn.cancel = cancel

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		m.dropServer(conn)
		return fmt.Errorf("mcp server %s: manager is closed", label)
	}
	if old, exists := m.servers[label]; exists {
		old.cancel()
		m.dropServer(old)
	}
	m.servers[label] = conn
	m.mu.Unlock()

	go m.healthLoop(healthCtx, conn)

	slog.Info("mcp server connected", "server", label, "protocol", initRes.ProtocolVersion)
	return nil
}

// installTools discovers and registers the server's tools.
func (m *Manager) installTools(ctx context.Context, conn *serverConn) error {
	listRes, err := conn.client.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("mcp server %s: tools/list failed: %w", conn.label, err)
	}

	for _, remote := range listRes.Tools {
		wrapped := newRemoteTool(conn, remote)
		if err := m.registry.Register(wrapped); err != nil {
			// The prefixed name is already registered: the same
			// server listed a tool twice, or the prefixed name equals
			// an existing tool (a built-in, or another server's tool
			// whose label and name join to the same string).
			slog.Warn("skipping duplicate mcp tool", "server", conn.label, "tool", remote.Name, "error", err)
		}
	}
	return nil
}

// Disconnect tears down one server and removes its tools.
func (m *Manager) Disconnect(label string) {
	m.mu.Lock()
	conn, ok := m.servers[label]
	if ok {
		delete(m.servers, label)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	conn.cancel()
	m.dropServer(conn)
}

// Close disconnects every server.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	conns := make([]*serverConn, 0, len(m.servers))
	for _, conn := range m.servers {
		conns = append(conns, conn)
	}
	m.servers = make(map[string]*serverConn)
	m.mu.Unlock()

	for _, conn := range conns {
		conn.cancel()
		m.dropServer(conn)
	}
}

func (m *Manager) dropServer(conn *serverConn) {
	m.registry.UnregisterPrefix(toolPrefix(conn.label))
	conn.client.Close()
}

// healthLoop heartbeats the server and handles reconnect. On a failed
// ping the server's tools are removed; on a successful reconnect they
// are rediscovered and reinstalled.
func (m *Manager) healthLoop(ctx context.Context, conn *serverConn) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pingCtx, cancel := context.WithTimeout(ctx, conn.cfg.callTimeout())
		err := conn.client.Ping(pingCtx)
		cancel()
		if err == nil {
			continue
		}

		slog.Warn("mcp server unhealthy, dropping its tools", "server", conn.label, "error", err)
		m.mu.Lock()
		if m.servers[conn.label] == conn {
			delete(m.servers, conn.label)
		}
		m.mu.Unlock()
		m.dropServer(conn)

		m.reconnectLoop(ctx, conn.label, conn.cfg)
		return
	}
}

func (m *Manager) reconnectLoop(ctx context.Context, label string, cfg ServerConfig) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}

		connectCtx, cancel := context.WithTimeout(ctx, cfg.callTimeout())
		err := m.Connect(connectCtx, label, cfg)
		cancel()
		if err == nil {
			return
		}
		slog.Debug("mcp reconnect failed", "server", label, "error", err)
	}
}

// dial opens the transport named by the descriptor.
func dial(ctx context.Context, cfg ServerConfig) (*mcpclient.Client, error) {
	switch {
	case cfg.Command != "":
		client, err := mcpclient.NewStdioMCPClient(cfg.Command, nil, cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to start %s: %w", cfg.Command, err)
		}
		return client, nil

	case cfg.URL != "":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		client, err := mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for %s: %w", cfg.URL, err)
		}
		if err := client.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("server descriptor needs a url or a command")
	}
}

func toolPrefix(label string) string {
	return label + "_"
}
