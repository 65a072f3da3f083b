package toolserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const articleHTML = `<!DOCTYPE html>
<html><head><title>Go Concurrency Patterns</title></head>
<body><article>
<h1>Go Concurrency Patterns</h1>
<p>Goroutines are lightweight threads managed by the Go runtime, and they make
it practical to structure a program as a collection of independently executing
activities instead of a single monolithic control flow.</p>
<p>Channels connect goroutines so that one side can send values and the other
side can receive them, which keeps sharing explicit and turns synchronisation
into ordinary data flow rather than locking discipline.</p>
<p>Select lets a goroutine wait on multiple channel operations at once,
unblocking as soon as any of them becomes ready, and it is the piece that makes
timeouts and cancellation compose naturally with everything else.</p>
<p>Together these primitives reward programs that are structured around
communication, and most of the patterns in this article are small arrangements
of exactly these three parts.</p>
</article></body></html>`

func TestTimeNowDefaultsToUTC(t *testing.T) {
	s := newTestServer(t)
	v, err := s.timeNow(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("timeNow: %v", err)
	}
	m := v.(map[string]any)
	if m["zone"] != "UTC" {
		t.Errorf("zone = %v, want UTC", m["zone"])
	}
	if _, err := time.Parse(time.RFC3339, m["iso"].(string)); err != nil {
		t.Errorf("iso %q does not parse: %v", m["iso"], err)
	}
}

func TestTimeNowRejectsUnknownZone(t *testing.T) {
	s := newTestServer(t)
	_, err := s.timeNow(context.Background(), map[string]any{"zone": "Mars/Olympus"})
	if err == nil || !strings.Contains(err.Error(), "unknown zone") {
		t.Fatalf("expected unknown zone error, got %v", err)
	}
}

func TestPageReadExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, articleHTML)
	}))
	defer srv.Close()

	s := newTestServer(t)
	v, err := s.pageRead(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("pageRead: %v", err)
	}
	m := v.(map[string]any)
	if m["title"] != "Go Concurrency Patterns" {
		t.Errorf("title = %q", m["title"])
	}
	text, _ := m["text"].(string)
	if !strings.Contains(text, "Goroutines are lightweight") {
		t.Errorf("text missing article body: %q", text)
	}
	if m["truncated"] != false {
		t.Errorf("truncated = %v", m["truncated"])
	}
	if m["url"] != srv.URL {
		t.Errorf("url = %v", m["url"])
	}
}

func TestPageReadTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, articleHTML)
	}))
	defer srv.Close()

	s := newTestServer(t)
	v, err := s.pageRead(context.Background(), map[string]any{"url": srv.URL, "max_chars": 40})
	if err != nil {
		t.Fatalf("pageRead: %v", err)
	}
	m := v.(map[string]any)
	text, _ := m["text"].(string)
	if len(text) > 40 {
		t.Errorf("text not truncated: %d bytes", len(text))
	}
	if m["truncated"] != true {
		t.Errorf("truncated = %v", m["truncated"])
	}
}

func TestPageReadReportsStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := newTestServer(t)
	_, err := s.pageRead(context.Background(), map[string]any{"url": srv.URL})
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestPageReadRejectsNonHTTP(t *testing.T) {
	s := newTestServer(t)
	_, err := s.pageRead(context.Background(), map[string]any{"url": "ftp://example.com/file"})
	if err == nil || !strings.Contains(err.Error(), "unsupported url") {
		t.Fatalf("expected unsupported url error, got %v", err)
	}
}

func TestMakeChunksWindowsWithOverlap(t *testing.T) {
	parts := makeChunks(strings.Repeat("a", 500), 200, 40)
	if len(parts) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(parts))
	}
	if len(parts[0]) != 200 || len(parts[1]) != 200 || len(parts[2]) != 180 {
		t.Errorf("chunk lengths = %d, %d, %d", len(parts[0]), len(parts[1]), len(parts[2]))
	}

	short := makeChunks("hello", 200, 40)
	if len(short) != 1 || short[0] != "hello" {
		t.Errorf("short text should be a single chunk, got %v", short)
	}
}

func TestCorpusIngestGeneratesID(t *testing.T) {
	s := newTestServer(t)
	v, err := s.corpusIngest(context.Background(), map[string]any{"text": "a short note about nothing in particular"})
	if err != nil {
		t.Fatalf("corpusIngest: %v", err)
	}
	m := v.(map[string]any)
	id, _ := m["id"].(string)
	if len(id) != 16 {
		t.Errorf("generated id = %q", id)
	}
	if m["chunks"] != 1 {
		t.Errorf("chunks = %v", m["chunks"])
	}
}

func TestCorpusIngestSplitsLongDocuments(t *testing.T) {
	s := newTestServer(t)
	text := "Zymurgy is the study of fermentation in brewing. " +
		strings.Repeat("Malt and hops and yeast and water come together in the kettle. ", 12)
	v, err := s.corpusIngest(context.Background(), map[string]any{"id": "doc-9", "text": text, "chunk_size": 200})
	if err != nil {
		t.Fatalf("corpusIngest: %v", err)
	}
	m := v.(map[string]any)
	chunks, _ := m["chunks"].(int)
	if chunks < 2 {
		t.Fatalf("expected multiple chunks, got %v", m["chunks"])
	}

	res, err := s.corpusSearch(context.Background(), map[string]any{"query": "zymurgy"})
	if err != nil {
		t.Fatalf("corpusSearch: %v", err)
	}
	sm := res.(map[string]any)
	hits, _ := sm["hits"].([]map[string]any)
	if len(hits) == 0 {
		t.Fatalf("no hits for zymurgy: %v", sm)
	}
	if hits[0]["doc_id"] != "doc-9" {
		t.Errorf("hit = %v", hits[0])
	}
}

func TestCorpusSearchEmptyIndex(t *testing.T) {
	s := newTestServer(t)
	v, err := s.corpusSearch(context.Background(), map[string]any{"query": "anything"})
	if err != nil {
		t.Fatalf("corpusSearch: %v", err)
	}
	m := v.(map[string]any)
	if total, _ := m["total"].(uint64); total != 0 {
		t.Errorf("total = %v", m["total"])
	}
	if hits, _ := m["hits"].([]map[string]any); len(hits) != 0 {
		t.Errorf("hits = %v", hits)
	}
}

func TestCorpusSearchRequiresQuery(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.corpusSearch(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing query")
	}
	if _, err := s.corpusIngest(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing text")
	}
}
