// Package stream turns a character stream of tag-delimited text into
// incremental field updates, so callers can surface partial values while a
// model is still generating. The extractor never interprets content; it only
// tracks tag nesting and forwards raw text fragments.
package stream

import "strings"

// Update is one append-only fragment for a field. Path is the open tag
// stack joined with underscores; Text is the exact characters to append.
// Concatenating a path's updates in order reproduces the text seen inside
// that field, whitespace included.
type Update struct {
	Path string
	Text string
}

// Extractor is a single-use state machine over one response stream. Feed it
// chunks of any size in arrival order, then Close it. Not safe for
// concurrent use; runs hold one extractor each.
type Extractor struct {
	sink func(Update)

	stack     []string
	tagName   strings.Builder
	word      strings.Builder
	insideTag bool

	full strings.Builder
}

// NewExtractor returns an extractor that calls sink for every field update,
// strictly in arrival order. A nil sink only accumulates the full response.
func NewExtractor(sink func(Update)) *Extractor {
	return &Extractor{sink: sink}
}

// Feed consumes the next chunk. Chunk boundaries carry no meaning; a tag
// may be split across any number of chunks.
func (e *Extractor) Feed(chunk string) {
	for _, r := range chunk {
		e.feedRune(r)
	}
}

func (e *Extractor) feedRune(r rune) {
	e.full.WriteRune(r)

	if r == '<' {
		e.flushWord()
		e.insideTag = true
		e.tagName.Reset()
		return
	}

	if e.insideTag {
		if r == '>' {
			name := e.tagName.String()
			e.tagName.Reset()
			e.insideTag = false
			e.word.Reset()
			if strings.HasPrefix(name, "/") {
				if len(e.stack) > 0 {
					e.stack = e.stack[:len(e.stack)-1]
				}
			} else if name != "" {
				e.stack = append(e.stack, name)
			}
			return
		}
		e.tagName.WriteRune(r)
		return
	}

	switch r {
	case ' ', '\n':
		e.flushWord()
		e.emit(string(r))
	default:
		e.word.WriteRune(r)
	}
}

// Close flushes a trailing word for the current path and returns the full
// accumulated response, byte-for-byte what was fed in.
func (e *Extractor) Close() string {
	e.flushWord()
	return e.full.String()
}

// Response returns everything fed so far, including tag markup and text
// outside any tag.
func (e *Extractor) Response() string {
	return e.full.String()
}

func (e *Extractor) flushWord() {
	if e.word.Len() == 0 {
		return
	}
	text := e.word.String()
	e.word.Reset()
	e.emit(text)
}

// emit drops text arriving outside any tag: it has no field to belong to,
// though it stays in the full-response accumulator.
func (e *Extractor) emit(text string) {
	if len(e.stack) == 0 || e.sink == nil {
		return
	}
	e.sink(Update{Path: strings.Join(e.stack, "_"), Text: text})
}
