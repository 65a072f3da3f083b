package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// HTTPSource speaks streamable MCP to remote providers. Each operation runs
// in its own session; remote servers are assumed stateless between calls.
type HTTPSource struct {
	httpClient *http.Client
	impl       *sdk.Implementation
}

// NewHTTPSource builds a source over the given client. Pass a client with a
// payment-aware transport to settle paywalled providers; nil uses the
// default client.
func NewHTTPSource(httpClient *http.Client) *HTTPSource {
	return &HTTPSource{
		httpClient: httpClient,
		impl:       &sdk.Implementation{Name: "tagweave", Version: "0.1.0", Title: "tagweave"},
	}
}

func (s *HTTPSource) connect(ctx context.Context, address string) (*sdk.ClientSession, error) {
	client := sdk.NewClient(s.impl, &sdk.ClientOptions{})
	transport := &sdk.StreamableClientTransport{Endpoint: address, HTTPClient: s.httpClient}
	cs, err := client.Connect(ctx, transport, &sdk.ClientSessionOptions{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}
	return cs, nil
}

// Discover implements Source.
func (s *HTTPSource) Discover(ctx context.Context, address string) ([]Capability, error) {
	cs, err := s.connect(ctx, address)
	if err != nil {
		return nil, err
	}
	defer cs.Close()

	res, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("list tools at %s: %w", address, err)
	}
	out := make([]Capability, 0, len(res.Tools))
	for _, tool := range res.Tools {
		out = append(out, Capability{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaToMap(tool.InputSchema),
		})
	}
	return out, nil
}

// Invoke implements Source.
func (s *HTTPSource) Invoke(ctx context.Context, address, name string, params map[string]any) (any, error) {
	cs, err := s.connect(ctx, address)
	if err != nil {
		return nil, err
	}
	defer cs.Close()

	if params == nil {
		params = map[string]any{}
	}
	res, err := cs.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: params})
	if err != nil {
		return nil, fmt.Errorf("call %s at %s: %w", name, address, err)
	}

	var text strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*sdk.TextContent); ok && tc.Text != "" {
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(tc.Text)
		}
	}
	if res.IsError {
		msg := text.String()
		if msg == "" {
			msg = "capability returned an error"
		}
		return nil, errors.New(msg)
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	return text.String(), nil
}

// schemaToMap flattens an SDK schema value into the plain map form the rest
// of the system carries around.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
