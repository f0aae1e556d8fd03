package mcp

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/agenthost/agenthost/internal/config"
)

// ServerStatus tracks where a server is in its connection lifecycle.
type ServerStatus string

const (
	StatusPending      ServerStatus = "pending"
	StatusConnecting   ServerStatus = "connecting"
	StatusConnected    ServerStatus = "connected"
	StatusFailed       ServerStatus = "failed"
	StatusDisabled     ServerStatus = "disabled"
	StatusDisconnected ServerStatus = "disconnected"
)

// ServerState is the manager's view of one configured server.
type ServerState struct {
	Config      config.ServerConfig
	Status      ServerStatus
	Error       string
	ToolCount   int
	ConnectTime time.Duration
}

// Manager owns one MCP client per configured server and connects them
// concurrently, so one slow or hanging server does not block the others.
// Individual connect failures are recorded per server and never abort
// the batch.
type Manager struct {
	clientOpts []ClientOption

	mu           sync.Mutex
	states       map[string]*ServerState
	clients      map[string]*Client
	order        []string
	initializing bool
}

// NewManager builds a manager for the given configuration. Disabled
// servers are tracked but never connected. Client options (such as
// request timeout overrides) apply to every client the manager builds.
func NewManager(cfg *config.Config, opts ...ClientOption) *Manager {
	m := &Manager{
		clientOpts: opts,
		states:     make(map[string]*ServerState),
		clients:    make(map[string]*Client),
	}
	for _, server := range cfg.Servers {
		status := StatusPending
		if !server.Enabled {
			status = StatusDisabled
		}
		m.states[server.Name] = &ServerState{Config: server, Status: status}
		m.order = append(m.order, server.Name)
	}
	return m
}

// ConnectAll connects every enabled server concurrently and returns once
// all attempts settle. Cancelling ctx cancels the in-flight connect
// attempts. The returned error is nil even when servers fail; failures
// are recorded in the per-server state.
func (m *Manager) ConnectAll(ctx context.Context) error {
	enabled := m.Enabled()
	if len(enabled) == 0 {
		log.Debug("No enabled MCP servers configured")
		return nil
	}

	m.mu.Lock()
	m.initializing = true
	for _, state := range m.states {
		if state.Status == StatusPending {
			state.Status = StatusConnecting
		}
	}
	m.mu.Unlock()

	group, ctx := errgroup.WithContext(ctx)
	for _, state := range enabled {
		serverCfg := state.Config
		group.Go(func() error {
			m.connectOne(ctx, serverCfg)
			return nil
		})
	}
	err := group.Wait()

	m.mu.Lock()
	m.initializing = false
	connected, failed := 0, 0
	for _, state := range m.states {
		switch state.Status {
		case StatusConnected:
			connected++
		case StatusFailed:
			failed++
		}
	}
	m.mu.Unlock()

	log.Info("MCP initialization complete", "connected", connected, "failed", failed)
	return err
}

// connectOne attempts one server and records the outcome. All failures
// are reduced to a short operator-facing reason; the full error goes to
// the log.
func (m *Manager) connectOne(ctx context.Context, serverCfg config.ServerConfig) {
	start := time.Now()
	client := NewClient(&serverCfg, m.clientOpts...)

	if err := client.Connect(ctx); err != nil {
		reason := shortReason(err)
		m.mu.Lock()
		state := m.states[serverCfg.Name]
		state.Status = StatusFailed
		state.Error = reason
		m.mu.Unlock()
		log.Warn("MCP server failed", "server", serverCfg.Name, "reason", reason, "error", err)
		return
	}

	toolCount := len(client.Tools())
	took := time.Since(start)

	m.mu.Lock()
	state := m.states[serverCfg.Name]
	state.Status = StatusConnected
	state.Error = ""
	state.ToolCount = toolCount
	state.ConnectTime = took
	m.clients[serverCfg.Name] = client
	m.mu.Unlock()

	log.Info("MCP server ready", "server", serverCfg.Name,
		"tools", toolCount, "took", took.Round(time.Millisecond))
}

// shortReason maps a connect error onto the brief string shown to the
// operator instead of a raw error chain.
func shortReason(err error) string {
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return "command not found"
	case errors.Is(err, ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "permission denied"):
		return "permission denied"
	case strings.Contains(msg, "no such file"):
		return "command not found"
	}
	if len(msg) > 100 {
		msg = msg[:100]
	}
	return msg
}

// Client returns the connected client for name, or nil if the server is
// not connected.
func (m *Manager) Client(name string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[name]
}

// States returns a snapshot of all server states in configuration order.
func (m *Manager) States() []ServerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]ServerState, 0, len(m.order))
	for _, name := range m.order {
		states = append(states, *m.states[name])
	}
	return states
}

func (m *Manager) filter(keep func(*ServerState) bool) []ServerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ServerState
	for _, name := range m.order {
		if state := m.states[name]; keep(state) {
			out = append(out, *state)
		}
	}
	return out
}

// Enabled returns the servers that are configured to connect.
func (m *Manager) Enabled() []ServerState {
	return m.filter(func(s *ServerState) bool { return s.Config.Enabled })
}

// Connected returns the servers that completed the connect sequence.
func (m *Manager) Connected() []ServerState {
	return m.filter(func(s *ServerState) bool { return s.Status == StatusConnected })
}

// Failed returns the servers whose connect attempt failed.
func (m *Manager) Failed() []ServerState {
	return m.filter(func(s *ServerState) bool { return s.Status == StatusFailed })
}

// Pending returns the servers still waiting on or running their connect.
func (m *Manager) Pending() []ServerState {
	return m.filter(func(s *ServerState) bool {
		return s.Status == StatusPending || s.Status == StatusConnecting
	})
}

// TotalTools sums the discovered tool count across connected servers.
func (m *Manager) TotalTools() int {
	total := 0
	for _, state := range m.Connected() {
		total += state.ToolCount
	}
	return total
}

// IsInitializing reports whether a batch connect is still in flight, so
// callers can render partial status without blocking.
func (m *Manager) IsInitializing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializing
}

// StatusSummary renders a one-line status like "2/3 connected, 14 tools".
func (m *Manager) StatusSummary() string {
	if m.IsInitializing() {
		return fmt.Sprintf("initializing (%d pending)...", len(m.Pending()))
	}

	connected := len(m.Connected())
	total := len(m.Enabled())
	switch {
	case total == 0:
		return "none configured"
	case connected == total:
		return fmt.Sprintf("%d connected, %d tools", connected, m.TotalTools())
	case connected > 0:
		return fmt.Sprintf("%d/%d connected", connected, total)
	default:
		return "all failed"
	}
}

// Shutdown disconnects every connected client. Errors are collected so
// one failing server does not leave the rest running.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].Name() < clients[j].Name() })

	var errs []error
	for _, client := range clients {
		if err := client.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", client.Name(), err))
		}
		m.mu.Lock()
		if state, ok := m.states[client.Name()]; ok {
			state.Status = StatusDisconnected
		}
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}
