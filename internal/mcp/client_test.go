package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agenthost/agenthost/internal/config"
)

// fakeTransport is an in-memory Transport scripted by a handler. Each
// message the client writes is decoded and handed to the handler, which
// queues responses with respond/respondError/notify.
type fakeTransport struct {
	handle func(ft *fakeTransport, msg map[string]any)

	incoming  chan []byte
	closeOnce sync.Once

	mu    sync.Mutex
	calls map[string]int
}

func newFakeTransport(handle func(ft *fakeTransport, msg map[string]any)) *fakeTransport {
	return &fakeTransport{
		handle:   handle,
		incoming: make(chan []byte, 16),
		calls:    make(map[string]int),
	}
}

func (ft *fakeTransport) WriteMessage(msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	if method, ok := decoded["method"].(string); ok {
		ft.mu.Lock()
		ft.calls[method]++
		ft.mu.Unlock()
	}
	if ft.handle != nil {
		ft.handle(ft, decoded)
	}
	return nil
}

func (ft *fakeTransport) ReadMessage() ([]byte, error) {
	payload, ok := <-ft.incoming
	if !ok {
		return nil, io.EOF
	}
	return payload, nil
}

func (ft *fakeTransport) Close() error {
	ft.closeOnce.Do(func() { close(ft.incoming) })
	return nil
}

func (ft *fakeTransport) callCount(method string) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.calls[method]
}

func (ft *fakeTransport) respond(id any, result any) {
	raw, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
	ft.incoming <- raw
}

func (ft *fakeTransport) respondError(id any, code int, message string) {
	raw, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": id,
		"error": map[string]any{"code": code, "message": message},
	})
	ft.incoming <- raw
}

func (ft *fakeTransport) notify(method string) {
	raw, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method})
	ft.incoming <- raw
}

// fsHandler scripts a small filesystem-style server: tools and resources
// capabilities, a three-tool catalog, and text results for tools/call.
func fsHandler(ft *fakeTransport, msg map[string]any) {
	id := msg["id"]
	switch msg["method"] {
	case "initialize":
		ft.respond(id, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}, "resources": map[string]any{}},
			"serverInfo":      map[string]any{"name": "fs", "version": "1.0.0"},
		})
	case "tools/list":
		ft.respond(id, map[string]any{
			"tools": []map[string]any{
				{"name": "read_file", "description": "Read a file", "inputSchema": map[string]any{"type": "object"}},
				{"name": "write_file", "description": "Write a file", "inputSchema": map[string]any{"type": "object"}},
				{"name": "ls", "description": "List a directory", "inputSchema": map[string]any{"type": "object"}},
			},
		})
	case "resources/list":
		ft.respond(id, map[string]any{
			"resources": []map[string]any{
				{"uri": "file:///workspace/README.md", "name": "README", "mimeType": "text/markdown"},
			},
		})
	case "tools/call":
		params, _ := msg["params"].(map[string]any)
		name, _ := params["name"].(string)
		ft.respond(id, map[string]any{
			"content": []map[string]any{{"type": "text", "text": "ran " + name}},
		})
	case "resources/read":
		ft.respond(id, map[string]any{
			"contents": []map[string]any{{"type": "text", "text": "# README", "uri": "file:///workspace/README.md"}},
		})
	}
}

// newTestClient builds a client wired to ft instead of a subprocess.
func newTestClient(ft *fakeTransport, opts ...ClientOption) *Client {
	cfg := &config.ServerConfig{Name: "fs", Command: "fake-server", Transport: config.TransportStdio, Enabled: true}
	c := NewClient(cfg, opts...)
	c.dial = func(*config.ServerConfig) (Transport, error) { return ft, nil }
	return c
}

func TestClient_Connect_FetchesCatalogsOnce(t *testing.T) {
	ft := newFakeTransport(fsHandler)
	client := newTestClient(ft)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after successful connect")
	}

	tools := client.Tools()
	if len(tools) != 3 {
		t.Fatalf("Tools() returned %d tools, want 3", len(tools))
	}
	if tools[0].Name != "read_file" {
		t.Errorf("First tool = %q, want read_file", tools[0].Name)
	}
	if len(client.Resources()) != 1 {
		t.Errorf("Resources() returned %d, want 1", len(client.Resources()))
	}

	// Catalogs are snapshotted during connect, not refetched per call.
	for _, method := range []string{"initialize", "tools/list", "resources/list", "notifications/initialized"} {
		if got := ft.callCount(method); got != 1 {
			t.Errorf("%s called %d times, want 1", method, got)
		}
	}

	content, err := client.CallTool(context.Background(), "read_file", map[string]any{"path": "a.txt"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if len(content) != 1 || content[0].Text != "ran read_file" {
		t.Errorf("CallTool() content = %+v, want single text block", content)
	}
	if got := ft.callCount("tools/list"); got != 1 {
		t.Errorf("tools/list called %d times after CallTool, want 1", got)
	}

	contents, err := client.ReadResource(context.Background(), "file:///workspace/README.md")
	if err != nil {
		t.Fatalf("ReadResource() error = %v", err)
	}
	if len(contents) != 1 || contents[0].Text != "# README" {
		t.Errorf("ReadResource() contents = %+v, want single text block", contents)
	}
}

func TestClient_CapabilityGating(t *testing.T) {
	// A server that advertises neither tools nor resources: the catalog
	// requests must never be sent.
	ft := newFakeTransport(func(ft *fakeTransport, msg map[string]any) {
		if msg["method"] == "initialize" {
			ft.respond(msg["id"], map[string]any{
				"protocolVersion": ProtocolVersion,
				"capabilities":    map[string]any{},
			})
		}
	})
	client := newTestClient(ft)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	if got := ft.callCount("tools/list"); got != 0 {
		t.Errorf("tools/list called %d times for a server without the capability, want 0", got)
	}
	if got := ft.callCount("resources/list"); got != 0 {
		t.Errorf("resources/list called %d times for a server without the capability, want 0", got)
	}
	if len(client.Tools()) != 0 {
		t.Errorf("Tools() = %v, want empty", client.Tools())
	}
}

func TestClient_OutOfOrderResponses(t *testing.T) {
	// The server holds tool calls until three have arrived, then answers
	// them in reverse order. Each caller must still get its own result.
	var pendingMu sync.Mutex
	type held struct {
		id   any
		name string
	}
	var heldCalls []held

	ft := newFakeTransport(func(ft *fakeTransport, msg map[string]any) {
		switch msg["method"] {
		case "initialize":
			ft.respond(msg["id"], map[string]any{
				"protocolVersion": ProtocolVersion,
				"capabilities":    map[string]any{"tools": map[string]any{}},
			})
		case "tools/list":
			ft.respond(msg["id"], map[string]any{"tools": []map[string]any{}})
		case "tools/call":
			params, _ := msg["params"].(map[string]any)
			name, _ := params["name"].(string)
			pendingMu.Lock()
			heldCalls = append(heldCalls, held{id: msg["id"], name: name})
			ready := len(heldCalls) == 3
			var toAnswer []held
			if ready {
				toAnswer = append(toAnswer, heldCalls...)
			}
			pendingMu.Unlock()
			if ready {
				for i := len(toAnswer) - 1; i >= 0; i-- {
					ft.respond(toAnswer[i].id, map[string]any{
						"content": []map[string]any{{"type": "text", "text": toAnswer[i].name}},
					})
				}
			}
		}
	})
	client := newTestClient(ft)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	var wg sync.WaitGroup
	results := make([]string, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("tool-%d", i)
			content, err := client.CallTool(context.Background(), name, nil)
			if err != nil {
				errs[i] = err
				return
			}
			if len(content) == 1 {
				results[i] = content[0].Text
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 3; i++ {
		if errs[i] != nil {
			t.Fatalf("CallTool(tool-%d) error = %v", i, errs[i])
		}
		want := fmt.Sprintf("tool-%d", i)
		if results[i] != want {
			t.Errorf("CallTool(tool-%d) result = %q, want %q", i, results[i], want)
		}
	}
}

func TestClient_RequestTimeout(t *testing.T) {
	// The server answers the handshake but swallows tool calls.
	ft := newFakeTransport(func(ft *fakeTransport, msg map[string]any) {
		switch msg["method"] {
		case "initialize":
			ft.respond(msg["id"], map[string]any{
				"protocolVersion": ProtocolVersion,
				"capabilities":    map[string]any{"tools": map[string]any{}},
			})
		case "tools/list":
			ft.respond(msg["id"], map[string]any{"tools": []map[string]any{}})
		}
	})
	client := newTestClient(ft, WithRequestTimeout(100*time.Millisecond))
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	start := time.Now()
	_, err := client.CallTool(context.Background(), "slow_tool", nil)
	took := time.Since(start)

	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("CallTool() error = %v, want ErrRequestTimeout", err)
	}
	if took > 2*time.Second {
		t.Errorf("Timeout took %v, expected roughly the configured 100ms", took)
	}
	if got := client.pendingCount(); got != 0 {
		t.Errorf("pendingCount() = %d after timeout, want 0 (slot must be removed)", got)
	}
}

func TestClient_ServerErrorResponse(t *testing.T) {
	ft := newFakeTransport(func(ft *fakeTransport, msg map[string]any) {
		switch msg["method"] {
		case "initialize":
			ft.respond(msg["id"], map[string]any{
				"protocolVersion": ProtocolVersion,
				"capabilities":    map[string]any{"tools": map[string]any{}},
			})
		case "tools/list":
			ft.respond(msg["id"], map[string]any{"tools": []map[string]any{}})
		case "tools/call":
			ft.respondError(msg["id"], -32602, "unknown tool")
		}
	})
	client := newTestClient(ft)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	_, err := client.CallTool(context.Background(), "nope", nil)
	if err == nil {
		t.Fatal("Expected an error for a server error response, got nil")
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Expected *RPCError in chain, got %v", err)
	}
	if rpcErr.Message != "unknown tool" {
		t.Errorf("RPCError.Message = %q, want %q", rpcErr.Message, "unknown tool")
	}
}

func TestClient_HandshakeFailureRollsBack(t *testing.T) {
	ft := newFakeTransport(func(ft *fakeTransport, msg map[string]any) {
		if msg["method"] == "initialize" {
			ft.respondError(msg["id"], -32600, "unsupported protocol version")
		}
	})
	client := newTestClient(ft)

	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("Expected Connect to fail on handshake error, got nil")
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after failed handshake")
	}
	if !strings.Contains(err.Error(), "connect to MCP server fs") {
		t.Errorf("Error = %v, want it to name the server", err)
	}
}

func TestClient_UnknownResponseIDDropped(t *testing.T) {
	ft := newFakeTransport(func(ft *fakeTransport, msg map[string]any) {
		switch msg["method"] {
		case "initialize":
			// A stray response nobody asked for arrives first.
			ft.respond(float64(999), map[string]any{})
			ft.respond(msg["id"], map[string]any{
				"protocolVersion": ProtocolVersion,
				"capabilities":    map[string]any{},
			})
		}
	})
	client := newTestClient(ft)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v, stray response must be dropped", err)
	}
	client.Disconnect()
}

func TestClient_ServerNotificationIgnored(t *testing.T) {
	ft := newFakeTransport(func(ft *fakeTransport, msg map[string]any) {
		switch msg["method"] {
		case "initialize":
			ft.notify("notifications/progress")
			ft.respond(msg["id"], map[string]any{
				"protocolVersion": ProtocolVersion,
				"capabilities":    map[string]any{},
			})
		}
	})
	client := newTestClient(ft)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v, server notification must be inert", err)
	}
	client.Disconnect()
}

func TestClient_DisconnectIdempotent(t *testing.T) {
	ft := newFakeTransport(fsHandler)
	client := newTestClient(ft)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Disconnect(); err != nil {
		t.Errorf("First Disconnect() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if err := client.Disconnect(); err != nil {
		t.Errorf("Second Disconnect() error = %v, want nil", err)
	}

	if _, err := client.CallTool(context.Background(), "read_file", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("CallTool() after Disconnect error = %v, want ErrNotConnected", err)
	}
}

func TestClient_DisconnectNeverConnected(t *testing.T) {
	client := newTestClient(newFakeTransport(nil))
	if err := client.Disconnect(); err != nil {
		t.Errorf("Disconnect() on never-connected client error = %v, want nil", err)
	}
}

func TestClient_DisconnectFailsPending(t *testing.T) {
	release := make(chan struct{})
	ft := newFakeTransport(func(ft *fakeTransport, msg map[string]any) {
		switch msg["method"] {
		case "initialize":
			ft.respond(msg["id"], map[string]any{
				"protocolVersion": ProtocolVersion,
				"capabilities":    map[string]any{"tools": map[string]any{}},
			})
		case "tools/list":
			ft.respond(msg["id"], map[string]any{"tools": []map[string]any{}})
		case "tools/call":
			close(release) // never answered
		}
	})
	client := newTestClient(ft)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := client.CallTool(context.Background(), "hang", nil)
		done <- err
	}()

	<-release
	client.Disconnect()

	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("In-flight CallTool error = %v, want ErrConnectionClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("In-flight CallTool did not resolve after Disconnect")
	}
}

func TestClient_MonotonicRequestIDs(t *testing.T) {
	var idsMu sync.Mutex
	var seen []int64

	ft := newFakeTransport(func(ft *fakeTransport, msg map[string]any) {
		if id, ok := msg["id"].(float64); ok {
			idsMu.Lock()
			seen = append(seen, int64(id))
			idsMu.Unlock()
		}
		fsHandler(ft, msg)
	})
	client := newTestClient(ft)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	for i := 0; i < 3; i++ {
		if _, err := client.CallTool(context.Background(), "ls", nil); err != nil {
			t.Fatalf("CallTool() error = %v", err)
		}
	}

	idsMu.Lock()
	defer idsMu.Unlock()
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("Request IDs not strictly increasing: %v", seen)
		}
	}
}
