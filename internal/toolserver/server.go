// Package toolserver implements the built-in capability provider. It speaks
// the same line-delimited JSON-RPC tools protocol the stdio capability
// source consumes ("tools/list" and "tools/call"), so a fresh deployment
// has working local capabilities without any external MCP server.
package toolserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const maxLineBytes = 8 << 20

// Tool is one callable capability: the descriptor clients discover over
// tools/list plus the handler that serves tools/call.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     func(ctx context.Context, args map[string]any) (any, error)
}

// Server owns the built-in tools and the wire loop. Tool state (the corpus
// index) lives only here; handlers operate on explicit inputs.
type Server struct {
	logger     *log.Logger
	httpClient *http.Client
	corpus     *corpus
	timeout    time.Duration
	maxChars   int

	tools    []Tool
	byName   map[string]int
	compiled map[string]*jsonschema.Schema
}

// New builds a server with the built-in tools registered. A nil logger logs
// to the process default, which must stay off stdout: stdout carries the
// protocol stream.
func New(logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLSERVER] ", log.LstdFlags)
	}
	corp, err := newCorpus()
	if err != nil {
		return nil, fmt.Errorf("corpus index: %w", err)
	}
	s := &Server{
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		corpus:     corp,
		timeout:    60 * time.Second,
		maxChars:   12000,
		byName:     make(map[string]int),
		compiled:   make(map[string]*jsonschema.Schema),
	}
	if err := s.registerBuiltins(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) registerBuiltins() error {
	builtins := []struct {
		name        string
		description string
		args        func() (map[string]any, error)
		handler     func(context.Context, map[string]any) (any, error)
	}{
		{"time.now", "Current date and time, optionally in a named IANA zone.", schemaFor[timeArgs], s.timeNow},
		{"page.read", "Fetch a web page and extract its readable content.", schemaFor[pageArgs], s.pageRead},
		{"corpus.ingest", "Chunk and index a document into the in-memory corpus.", schemaFor[ingestArgs], s.corpusIngest},
		{"corpus.search", "Query the corpus; returns scored hits with snippets.", schemaFor[searchArgs], s.corpusSearch},
	}
	for _, b := range builtins {
		schema, err := b.args()
		if err != nil {
			return fmt.Errorf("%s: argument schema: %w", b.name, err)
		}
		if err := s.Register(Tool{Name: b.name, Description: b.description, InputSchema: schema, Handler: b.handler}); err != nil {
			return err
		}
	}
	return nil
}

// Register adds a tool. Its input schema is compiled once here; arguments
// are checked against it before every call.
func (s *Server) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return errors.New("tool needs a name and a handler")
	}
	if _, ok := s.byName[t.Name]; ok {
		return fmt.Errorf("duplicate tool %s", t.Name)
	}
	if len(t.InputSchema) > 0 {
		sch, err := compileSchema(t.InputSchema)
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", t.Name, err)
		}
		s.compiled[t.Name] = sch
	}
	s.byName[t.Name] = len(s.tools)
	s.tools = append(s.tools, t)
	return nil
}

type rpcReq struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type rpcResp struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Result  map[string]any `json:"result,omitempty"`
	Error   *rpcError      `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeResp(w io.Writer, id any, result map[string]any, err error) {
	resp := rpcResp{JSONRPC: "2.0", ID: id}
	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	} else {
		resp.Result = result
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(resp)
}

type toolDesc struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func (s *Server) descriptors() []toolDesc {
	out := make([]toolDesc, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, toolDesc{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}

// Serve reads line-delimited JSON-RPC requests from in and answers on out,
// one JSON object per line. It returns when in reaches EOF. Lines that do
// not parse are logged and skipped so a single bad frame cannot wedge the
// stream.
func (s *Server) Serve(in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var req rpcReq
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Printf("dropping malformed request: %v", err)
			continue
		}

		switch req.Method {
		case "tools/list":
			writeResp(out, req.ID, map[string]any{"tools": s.descriptors()}, nil)

		case "tools/call":
			name, _ := req.Params["name"].(string)
			args, _ := req.Params["arguments"].(map[string]any)
			res, err := s.call(name, args)
			writeResp(out, req.ID, res, err)

		default:
			writeResp(out, req.ID, nil, fmt.Errorf("unknown method: %s", req.Method))
		}
	}
	return sc.Err()
}

// call runs one tool under the per-call timeout. Argument and handler
// failures come back as isError results rather than transport errors, so
// clients surface them as tool output; only an unknown name is a protocol
// error.
func (s *Server) call(name string, args map[string]any) (map[string]any, error) {
	idx, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if sch, ok := s.compiled[name]; ok {
		if err := validateArgs(sch, args); err != nil {
			return errorResult(fmt.Errorf("invalid arguments for %s: %v", name, err)), nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	v, err := s.tools[idx].Handler(ctx, args)
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(v), nil
}

// toolResult wraps a handler value in the tools/call result shape: a text
// block with the JSON rendering plus the raw value as structured content.
func toolResult(v any) map[string]any {
	text, err := json.Marshal(v)
	if err != nil {
		text = []byte(fmt.Sprintf("%v", v))
	}
	return map[string]any{
		"content":           []any{map[string]any{"type": "text", "text": string(text)}},
		"structuredContent": v,
	}
}

func errorResult(err error) map[string]any {
	return map[string]any{
		"content": []any{map[string]any{"type": "text", "text": err.Error()}},
		"isError": true,
	}
}
