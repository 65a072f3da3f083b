// Package provider contains the generation backends. A Generator takes an
// ordered message list and returns text, either in one response or streamed
// through a chunk callback; the caller never sees provider wire formats.
package provider

import "context"

// Message is one entry in the conversation sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single generation call.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Usage is the token accounting for one call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	Cost             float64
}

// Response is the outcome of a generation call.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Generator is the generation backend contract. GenerateStream delivers the
// response text incrementally through onChunk and returns the assembled
// response; onChunk is called from the request goroutine, in order.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	GenerateStream(ctx context.Context, req Request, onChunk func(chunk string)) (*Response, error)
}
