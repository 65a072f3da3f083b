package toolserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
)

// chunk is one indexed slice of an ingested document. The json tags double
// as bleve field names, so queries like `text:foo` work.
type chunk struct {
	DocID string `json:"doc_id"`
	Title string `json:"title"`
	Text  string `json:"text"`
	Seq   int    `json:"seq"`
}

// corpus is the in-memory search index shared by corpus.ingest and
// corpus.search. It lives for the server process and is rebuilt on restart.
type corpus struct {
	mu    sync.RWMutex
	index bleve.Index
	meta  map[string]chunk
}

func newCorpus() (*corpus, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &corpus{index: index, meta: make(map[string]chunk)}, nil
}

func (c *corpus) add(docID, title, text string, approx int) (int, error) {
	parts := makeChunks(text, approx, approx/5)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, part := range parts {
		ch := chunk{DocID: docID, Title: title, Text: part, Seq: i}
		id := fmt.Sprintf("%s#%03d", docID, i)
		if err := c.index.Index(id, ch); err != nil {
			return 0, fmt.Errorf("index chunk %s: %w", id, err)
		}
		c.meta[id] = ch
	}
	return len(parts), nil
}

type corpusHit struct {
	ID      string
	DocID   string
	Title   string
	Snippet string
	Score   float64
}

func (c *corpus) search(q string, k int) ([]corpusHit, uint64, error) {
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, err := c.index.Search(req)
	if err != nil {
		return nil, 0, err
	}
	out := make([]corpusHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ch := c.meta[hit.ID]
		out = append(out, corpusHit{
			ID:      hit.ID,
			DocID:   ch.DocID,
			Title:   ch.Title,
			Snippet: snippet(ch.Text),
			Score:   hit.Score,
		})
	}
	return out, res.Total, nil
}

// makeChunks windows text into approx-sized pieces, with overlap bytes
// shared between neighbours so a term near a boundary keeps its context.
func makeChunks(text string, approx, overlap int) []string {
	text = strings.TrimSpace(text)
	if len(text) <= approx {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(text); {
		end := start + approx
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
		start = end - overlap
	}
	return chunks
}

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "…"
}

type ingestArgs struct {
	ID        string `json:"id,omitempty" description:"document identifier; a content hash is used when empty"`
	Title     string `json:"title,omitempty"`
	Text      string `json:"text" description:"document body to chunk and index"`
	ChunkSize int    `json:"chunk_size,omitempty" description:"approximate chunk length in bytes"`
}

// corpusIngest chunks a document and adds it to the in-memory index.
func (s *Server) corpusIngest(ctx context.Context, args map[string]any) (any, error) {
	text := strings.TrimSpace(str(args["text"]))
	if text == "" {
		return nil, errors.New("text is required")
	}
	id := str(args["id"])
	if id == "" {
		sum := sha1.Sum([]byte(text))
		id = hex.EncodeToString(sum[:8])
	}
	approx := asInt(args["chunk_size"])
	if approx <= 0 {
		approx = 1000
	}
	approx = clampInt(approx, 200, 4000)

	n, err := s.corpus.add(id, str(args["title"]), text, approx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "chunks": n}, nil
}

type searchArgs struct {
	Query string `json:"query" description:"bleve query string"`
	Limit int    `json:"limit,omitempty" description:"maximum hits to return"`
}

// corpusSearch runs a query-string search over everything ingested so far.
func (s *Server) corpusSearch(ctx context.Context, args map[string]any) (any, error) {
	q := strings.TrimSpace(str(args["query"]))
	if q == "" {
		return nil, errors.New("query is required")
	}
	k := asInt(args["limit"])
	if k < 1 || k > 50 {
		k = 10
	}
	hits, total, err := s.corpus.search(q, k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	out := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		out = append(out, map[string]any{
			"id":      h.ID,
			"doc_id":  h.DocID,
			"title":   h.Title,
			"snippet": h.Snippet,
			"score":   h.Score,
		})
	}
	return map[string]any{"total": total, "hits": out}, nil
}
