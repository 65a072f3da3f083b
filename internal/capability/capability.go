// Package capability handles discovery and invocation of tool providers. A
// provider lives at an address: http(s):// endpoints speak streamable MCP,
// stdio: addresses name a local command spoken to over line-delimited
// JSON-RPC. Discovery results can be cached and pinned against a signed
// catalog checksum.
package capability

import (
	"context"
	"fmt"
	"strings"
)

// Capability is one operation a provider offers.
type Capability struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Source resolves capabilities at an address. Discover lists what the
// provider offers; Invoke runs one capability and returns its result value.
type Source interface {
	Discover(ctx context.Context, address string) ([]Capability, error)
	Invoke(ctx context.Context, address, name string, params map[string]any) (any, error)
}

// Router dispatches to a Source by address scheme.
type Router struct {
	stdio Source
	http  Source
}

func NewSourceRouter(stdio, http Source) *Router {
	return &Router{stdio: stdio, http: http}
}

func (r *Router) source(address string) (Source, error) {
	switch {
	case strings.HasPrefix(address, "stdio:"):
		if r.stdio == nil {
			return nil, fmt.Errorf("stdio source not configured")
		}
		return r.stdio, nil
	case strings.HasPrefix(address, "http://"), strings.HasPrefix(address, "https://"):
		if r.http == nil {
			return nil, fmt.Errorf("http source not configured")
		}
		return r.http, nil
	default:
		return nil, fmt.Errorf("unsupported capability address %q", address)
	}
}

func (r *Router) Discover(ctx context.Context, address string) ([]Capability, error) {
	s, err := r.source(address)
	if err != nil {
		return nil, err
	}
	return s.Discover(ctx, address)
}

func (r *Router) Invoke(ctx context.Context, address, name string, params map[string]any) (any, error) {
	s, err := r.source(address)
	if err != nil {
		return nil, err
	}
	return s.Invoke(ctx, address, name, params)
}
