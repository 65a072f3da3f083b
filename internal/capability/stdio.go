package capability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const maxFrameBytes = 8 << 20

// StdioSource runs capability providers as local subprocesses and speaks
// line-delimited JSON-RPC over their pipes. A provider address looks like
// "stdio:tagweave toolserver"; the process is started on first use and kept
// alive for the source's lifetime.
type StdioSource struct {
	mu      sync.Mutex
	clients map[string]*stdioClient
	timeout time.Duration
}

func NewStdioSource(timeout time.Duration) *StdioSource {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &StdioSource{clients: make(map[string]*stdioClient), timeout: timeout}
}

func (s *StdioSource) client(address string) (*stdioClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[address]; ok {
		return c, nil
	}
	parts := strings.Fields(strings.TrimPrefix(address, "stdio:"))
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty stdio address")
	}
	c, err := startStdioClient(parts[0], parts[1:], s.timeout)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", parts[0], err)
	}
	s.clients[address] = c
	return c, nil
}

// Discover implements Source.
func (s *StdioSource) Discover(ctx context.Context, address string) ([]Capability, error) {
	c, err := s.client(address)
	if err != nil {
		return nil, err
	}
	res, err := c.send(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	raw, ok := res["tools"].([]any)
	if !ok {
		return nil, errors.New("invalid tools/list result")
	}
	out := make([]Capability, 0, len(raw))
	for _, v := range raw {
		b, _ := json.Marshal(v)
		var t struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		}
		if err := json.Unmarshal(b, &t); err != nil {
			continue
		}
		out = append(out, Capability{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out, nil
}

// Invoke implements Source.
func (s *StdioSource) Invoke(ctx context.Context, address, name string, params map[string]any) (any, error) {
	c, err := s.client(address)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}
	res, err := c.send(ctx, "tools/call", map[string]any{"name": name, "arguments": params})
	if err != nil {
		return nil, err
	}
	return unwrapToolResult(res)
}

// Close shuts down every started subprocess.
func (s *StdioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for addr, c := range s.clients {
		if err := c.close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", addr, err)
		}
		delete(s.clients, addr)
	}
	return first
}

// unwrapToolResult turns a tools/call result into a plain value: structured
// content when present, otherwise the joined text blocks. isError results
// come back as errors.
func unwrapToolResult(res map[string]any) (any, error) {
	text := joinTextContent(res["content"])
	if isErr, _ := res["isError"].(bool); isErr {
		if text == "" {
			text = "capability returned an error"
		}
		return nil, errors.New(text)
	}
	if sc, ok := res["structuredContent"]; ok && sc != nil {
		return sc, nil
	}
	return text, nil
}

func joinTextContent(v any) string {
	blocks, ok := v.([]any)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, b := range blocks {
		m, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t != "text" {
			continue
		}
		if txt, _ := m["text"].(string); txt != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(txt)
		}
	}
	return sb.String()
}

type stdioClient struct {
	cmd     *exec.Cmd
	in      io.WriteCloser
	out     *bufio.Reader
	mu      sync.Mutex
	seq     int64
	timeout time.Duration
}

func startStdioClient(command string, args []string, timeout time.Duration) (*stdioClient, error) {
	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &stdioClient{cmd: cmd, in: stdin, out: bufio.NewReader(stdout), timeout: timeout}, nil
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Result  map[string]any `json:"result,omitempty"`
	Error   *rpcError      `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *stdioClient) send(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	req := rpcRequest{JSONRPC: "2.0", ID: c.seq, Method: method, Params: params}
	b, _ := json.Marshal(req)
	b = append(b, '\n')
	if _, err := c.in.Write(b); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(c.timeout)
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("stdio capability: timeout for %s", method)
		}
		var buf bytes.Buffer
		for {
			frag, err := c.out.ReadBytes('\n')
			buf.Write(frag)
			if buf.Len() > maxFrameBytes {
				return nil, fmt.Errorf("stdio capability: frame too large")
			}
			if err == nil {
				break
			}
			if err == io.EOF {
				return nil, io.EOF
			}
			if !errors.Is(err, bufio.ErrBufferFull) {
				return nil, err
			}
		}
		line := bytes.TrimSpace(buf.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.ID != c.seq {
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("capability error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (c *stdioClient) close() error {
	_ = c.in.Close()
	return c.cmd.Wait()
}
