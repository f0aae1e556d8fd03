package mcp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"

	"github.com/agenthost/agenthost/internal/config"
)

// terminateGrace is how long a server process gets to exit after SIGTERM
// before it is killed.
const terminateGrace = 5 * time.Second

// StdioTransport launches an MCP server subprocess and frames JSON-RPC
// messages over its stdio. Each frame is a Content-Length header followed
// by a blank line and exactly that many bytes of UTF-8 JSON:
//
//	Content-Length: <N>\r\n
//	\r\n
//	<N bytes of JSON>
//
// The transport owns the process and its pipes exclusively.
type StdioTransport struct {
	name string
	cmd  *exec.Cmd

	stdin  io.WriteCloser
	reader *bufio.Reader

	writeMu sync.Mutex
}

// NewStdioTransport spawns the server process described by cfg with the
// process environment merged with cfg.Env (config wins on conflict).
// Failure to spawn (missing binary, permission) is a structural error.
func NewStdioTransport(cfg *config.ServerConfig) (*StdioTransport, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = mergedEnv(cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}
	log.Debug("MCP server process started", "server", cfg.Name, "pid", cmd.Process.Pid)

	t := &StdioTransport{
		name:   cfg.Name,
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReader(stdout),
	}
	go t.drainStderr(stderr)

	return t, nil
}

func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// drainStderr keeps the server's stderr pipe from filling up and surfaces
// its output at debug level.
func (t *StdioTransport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		log.Debug("MCP server stderr", "server", t.name, "line", scanner.Text())
	}
}

// Transport frames JSON-RPC messages over some byte stream. The concrete
// implementation is StdioTransport; the interface exists so the client
// can be exercised against in-memory streams.
type Transport interface {
	WriteMessage(msg any) error
	ReadMessage() ([]byte, error)
	Close() error
}

// encodeFrame serializes msg and writes one complete frame to w.
func encodeFrame(w io.Writer, msg any) error {
	payload, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// decodeFrame reads the next complete frame from r and returns its raw
// JSON payload. Malformed headers are logged against name and skipped.
// io.EOF is returned once the stream ends.
func decodeFrame(r *bufio.Reader, name string) ([]byte, error) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if len(strings.TrimSpace(line)) > 0 {
				log.Warn("Stream ended mid-header", "server", name)
			}
			return nil, err
		}

		header := strings.TrimSpace(line)
		if header == "" {
			continue
		}
		if !strings.HasPrefix(header, "Content-Length:") {
			log.Warn("Invalid frame header", "server", name, "header", header)
			continue
		}

		length, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "Content-Length:")))
		if err != nil || length < 0 {
			log.Warn("Unparseable Content-Length", "server", name, "header", header)
			continue
		}

		// Consume the blank separator line.
		if _, err := r.ReadString('\n'); err != nil {
			return nil, err
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

// WriteMessage serializes msg and writes one frame atomically.
func (t *StdioTransport) WriteMessage(msg any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.stdin == nil {
		return ErrConnectionClosed
	}
	return encodeFrame(t.stdin, msg)
}

// ReadMessage blocks until the next complete frame arrives and returns its
// raw JSON payload. Malformed headers are logged and skipped rather than
// failing the connection. io.EOF is returned once the stream ends.
func (t *StdioTransport) ReadMessage() ([]byte, error) {
	return decodeFrame(t.reader, t.name)
}

// Close shuts the process down: stdin is closed so the server sees EOF,
// then SIGTERM, then SIGKILL after the grace window. Safe to call once
// the process has already exited.
func (t *StdioTransport) Close() error {
	t.writeMu.Lock()
	if t.stdin != nil {
		t.stdin.Close()
		t.stdin = nil
	}
	t.writeMu.Unlock()

	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Debug("SIGTERM failed", "server", t.name, "error", err)
	}

	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(terminateGrace):
		log.Warn("Process did not terminate gracefully, killing it", "server", t.name)
		if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill %s (pid %d): %w", t.name, t.cmd.Process.Pid, err)
		}
		<-done
	}
	return nil
}
