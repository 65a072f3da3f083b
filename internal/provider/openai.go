package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/tagweave/tagweave/config"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client talks to an OpenAI-compatible chat completions endpoint. It covers
// both the blocking call and the SSE streaming variant.
type Client struct {
	name   string
	cfg    config.LLMProviderConfig
	models map[string]config.ModelConfig
	client *http.Client
}

// NewClient builds a client for one configured provider. transport may be
// nil; pass a payment-aware transport to settle paywalled endpoints.
func NewClient(name string, cfg config.LLMProviderConfig, transport http.RoundTripper) *Client {
	return &Client{
		name:   name,
		cfg:    cfg,
		models: cfg.Models,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
}

func (c *Client) apiKey() string {
	if c.cfg.APIKey != "" {
		return c.cfg.APIKey
	}
	if c.cfg.Type == "openai" {
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

func (c *Client) model(key string) (config.ModelConfig, error) {
	m, ok := c.models[key]
	if !ok {
		return config.ModelConfig{}, fmt.Errorf("model %s not configured on provider %s", key, c.name)
	}
	return m, nil
}

func (c *Client) cost(m config.ModelConfig, promptTokens, completionTokens int64) float64 {
	return float64(promptTokens)/1000.0*m.CostPer1K + float64(completionTokens)/1000.0*m.CostPer1KOutput
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model         string        `json:"model"`
	Messages      []chatMessage `json:"messages"`
	Temperature   float64       `json:"temperature,omitempty"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

func (c *Client) newRequest(ctx context.Context, req Request, stream bool) (*http.Request, config.ModelConfig, error) {
	m, err := c.model(req.Model)
	if err != nil {
		return nil, m, err
	}
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}
	temperature := m.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := m.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	msgs := make([]chatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		msgs = append(msgs, chatMessage{Role: msg.Role, Content: msg.Content})
	}
	cr := chatRequest{
		Model:       apiModel,
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
	if stream {
		cr.StreamOptions = &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true}
	}
	body, err := json.Marshal(cr)
	if err != nil {
		return nil, m, fmt.Errorf("marshal: %w", err)
	}

	baseURL := c.cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(baseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, m, fmt.Errorf("request: %w", err)
	}
	hr.Header.Set("Content-Type", "application/json")
	if key := c.apiKey(); key != "" {
		hr.Header.Set("Authorization", "Bearer "+key)
	}
	return hr, m, nil
}

// Generate implements Generator.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	hr, m, err := c.newRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider %s status %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("provider %s returned no choices", c.name)
	}
	return &Response{
		Text:  out.Choices[0].Message.Content,
		Model: req.Model,
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			Cost:             c.cost(m, out.Usage.PromptTokens, out.Usage.CompletionTokens),
		},
	}, nil
}

// GenerateStream implements Generator. The stream ends at the provider's
// [DONE] sentinel; a usage event before the sentinel fills token accounting.
func (c *Client) GenerateStream(ctx context.Context, req Request, onChunk func(chunk string)) (*Response, error) {
	hr, m, err := c.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	hr.Header.Set("Accept", "text/event-stream")
	resp, err := c.client.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider %s status %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var (
		full  strings.Builder
		usage Usage
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *struct {
				PromptTokens     int64 `json:"prompt_tokens"`
				CompletionTokens int64 `json:"completion_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			full.WriteString(chunk.Choices[0].Delta.Content)
			if onChunk != nil {
				onChunk(chunk.Choices[0].Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}

	usage.Cost = c.cost(m, usage.PromptTokens, usage.CompletionTokens)
	return &Response{Text: full.String(), Model: req.Model, Usage: usage}, nil
}
