package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tagweave/tagweave/config"
)

// Router dispatches generation calls to the client owning the requested
// model. Model keys are global: each key configured under any provider must
// be unique, so a routing slot can name a model without naming its provider.
type Router struct {
	routing config.RoutingConfig
	byModel map[string]*Client
}

// NewRouter builds one client per configured provider and indexes their
// models.
func NewRouter(cfg config.LLMConfig, transport http.RoundTripper) (*Router, error) {
	r := &Router{routing: cfg.Routing, byModel: make(map[string]*Client)}
	for name, pc := range cfg.Providers {
		switch pc.Type {
		case "openai", "openai_compatible", "":
		default:
			return nil, fmt.Errorf("unsupported provider type %q for %s", pc.Type, name)
		}
		client := NewClient(name, pc, transport)
		for key := range pc.Models {
			if other, ok := r.byModel[key]; ok {
				return nil, fmt.Errorf("model %s configured on both %s and %s", key, other.name, name)
			}
			r.byModel[key] = client
		}
	}
	if len(r.byModel) == 0 {
		return nil, fmt.Errorf("no models configured")
	}
	return r, nil
}

func (r *Router) clientFor(model string) (*Client, error) {
	c, ok := r.byModel[model]
	if !ok {
		return nil, fmt.Errorf("no provider offers model %s", model)
	}
	return c, nil
}

// ModelFor resolves a routing slot (generation, selection, synthesis) to a
// configured model key.
func (r *Router) ModelFor(slot string) string {
	return config.LLMConfig{Routing: r.routing}.ModelFor(slot)
}

// Generate implements Generator.
func (r *Router) Generate(ctx context.Context, req Request) (*Response, error) {
	c, err := r.clientFor(req.Model)
	if err != nil {
		return nil, err
	}
	return c.Generate(ctx, req)
}

// GenerateStream implements Generator.
func (r *Router) GenerateStream(ctx context.Context, req Request, onChunk func(chunk string)) (*Response, error) {
	c, err := r.clientFor(req.Model)
	if err != nil {
		return nil, err
	}
	return c.GenerateStream(ctx, req, onChunk)
}
