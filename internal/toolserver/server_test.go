package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// serve feeds raw request lines through the wire loop and decodes every
// response line.
func serve(t *testing.T, s *Server, lines ...string) []rpcResp {
	t.Helper()
	var out bytes.Buffer
	if err := s.Serve(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	var resps []rpcResp
	dec := json.NewDecoder(&out)
	for dec.More() {
		var r rpcResp
		if err := dec.Decode(&r); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		resps = append(resps, r)
	}
	return resps
}

func textOf(t *testing.T, result map[string]any) string {
	t.Helper()
	content, ok := result["content"].([]any)
	if !ok || len(content) == 0 {
		t.Fatalf("result has no content blocks: %v", result)
	}
	block, ok := content[0].(map[string]any)
	if !ok || block["type"] != "text" {
		t.Fatalf("first content block is not text: %v", content[0])
	}
	text, _ := block["text"].(string)
	return text
}

func TestServeListsTools(t *testing.T) {
	s := newTestServer(t)
	resps := serve(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	if resps[0].Error != nil {
		t.Fatalf("tools/list failed: %v", resps[0].Error)
	}
	tools, ok := resps[0].Result["tools"].([]any)
	if !ok {
		t.Fatalf("result has no tools array: %v", resps[0].Result)
	}
	want := []string{"time.now", "page.read", "corpus.ingest", "corpus.search"}
	if len(tools) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(tools))
	}
	for i, v := range tools {
		m, ok := v.(map[string]any)
		if !ok {
			t.Fatalf("tool %d is not an object: %v", i, v)
		}
		if m["name"] != want[i] {
			t.Errorf("tool %d = %v, want %s", i, m["name"], want[i])
		}
		schema, ok := m["inputSchema"].(map[string]any)
		if !ok || schema["type"] != "object" {
			t.Errorf("tool %s: unexpected schema %v", want[i], m["inputSchema"])
		}
	}

	pageSchema := tools[1].(map[string]any)["inputSchema"].(map[string]any)
	required, _ := pageSchema["required"].([]any)
	found := false
	for _, r := range required {
		if r == "url" {
			found = true
		}
	}
	if !found {
		t.Errorf("page.read schema should require url, got %v", required)
	}
}

func TestServeCallsTimeNow(t *testing.T) {
	s := newTestServer(t)
	resps := serve(t, s, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"time.now","arguments":{"zone":"UTC"}}}`)
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	r := resps[0]
	if r.Error != nil {
		t.Fatalf("tools/call failed: %v", r.Error)
	}
	if isErr, _ := r.Result["isError"].(bool); isErr {
		t.Fatalf("unexpected tool error: %s", textOf(t, r.Result))
	}
	sc, ok := r.Result["structuredContent"].(map[string]any)
	if !ok {
		t.Fatalf("structuredContent missing: %v", r.Result)
	}
	if sc["zone"] != "UTC" {
		t.Errorf("zone = %v, want UTC", sc["zone"])
	}
	iso, _ := sc["iso"].(string)
	if _, err := time.Parse(time.RFC3339, iso); err != nil {
		t.Errorf("iso %q does not parse: %v", iso, err)
	}
	if textOf(t, r.Result) == "" {
		t.Error("expected a text rendering alongside structured content")
	}
}

func TestServeRejectsBadArguments(t *testing.T) {
	s := newTestServer(t)
	resps := serve(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"time.now","arguments":{"zone":42}}}`)
	r := resps[0]
	if r.Error != nil {
		t.Fatalf("schema failures must be tool results, got wire error: %v", r.Error)
	}
	if isErr, _ := r.Result["isError"].(bool); !isErr {
		t.Fatalf("expected isError result, got %v", r.Result)
	}
	if text := textOf(t, r.Result); !strings.Contains(text, "invalid arguments") {
		t.Errorf("error text = %q", text)
	}
}

func TestServeUnknownTool(t *testing.T) {
	s := newTestServer(t)
	resps := serve(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"nosuch.tool","arguments":{}}}`)
	r := resps[0]
	if r.Error == nil {
		t.Fatalf("expected an error, got %v", r.Result)
	}
	if !strings.Contains(r.Error.Message, "unknown tool") {
		t.Errorf("error = %q", r.Error.Message)
	}
}

func TestServeUnknownMethod(t *testing.T) {
	s := newTestServer(t)
	resps := serve(t, s, `{"jsonrpc":"2.0","id":4,"method":"shutdown"}`)
	r := resps[0]
	if r.Error == nil || !strings.Contains(r.Error.Message, "unknown method") {
		t.Fatalf("expected unknown method error, got %+v", r)
	}
}

func TestServeSkipsMalformedLines(t *testing.T) {
	s := newTestServer(t)
	resps := serve(t, s,
		"this is not json",
		"",
		`{"jsonrpc":"2.0","id":5,"method":"tools/list"}`,
	)
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	if resps[0].ID != float64(5) {
		t.Errorf("response id = %v, want 5", resps[0].ID)
	}
}

func TestServeCorpusRoundTrip(t *testing.T) {
	s := newTestServer(t)
	resps := serve(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"corpus.ingest","arguments":{"id":"doc-1","title":"Release notes","text":"The garbage collector latency improved considerably in this release."}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"corpus.search","arguments":{"query":"latency"}}}`,
	)
	if len(resps) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(resps))
	}
	ingest, ok := resps[0].Result["structuredContent"].(map[string]any)
	if !ok {
		t.Fatalf("ingest result: %v", resps[0].Result)
	}
	if ingest["id"] != "doc-1" || ingest["chunks"] != float64(1) {
		t.Errorf("ingest = %v", ingest)
	}

	search, ok := resps[1].Result["structuredContent"].(map[string]any)
	if !ok {
		t.Fatalf("search result: %v", resps[1].Result)
	}
	hits, _ := search["hits"].([]any)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %v", search)
	}
	hit := hits[0].(map[string]any)
	if hit["doc_id"] != "doc-1" || hit["title"] != "Release notes" {
		t.Errorf("hit = %v", hit)
	}
	if snip, _ := hit["snippet"].(string); !strings.Contains(snip, "latency") {
		t.Errorf("snippet = %q", snip)
	}
	if score, _ := hit["score"].(float64); score <= 0 {
		t.Errorf("score = %v", hit["score"])
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	s := newTestServer(t)
	err := s.Register(Tool{
		Name:    "time.now",
		Handler: func(context.Context, map[string]any) (any, error) { return nil, nil },
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}
