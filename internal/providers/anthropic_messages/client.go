package anthropic_messages

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"inkwell/internal/httpx"
	"inkwell/internal/providers"
	"inkwell/internal/sse"
)

const (
	DefaultBaseURL = "https://api.anthropic.com/v1"
	DefaultModel   = "claude-3-sonnet-20240229"
	APIVersion     = "2023-06-01"
)

type Client struct {
	cfg  providers.Config
	deps providers.Deps
}

func New(cfg providers.Config, deps providers.Deps) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	return &Client{cfg: cfg, deps: deps.WithDefaults()}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Name() string { return "Anthropic" }

func (c *Client) Generate(ctx context.Context, prompt string, opts providers.Options) (string, error) {
	body, err := c.buildPayload(prompt, providers.Resolve(c.cfg, opts), false)
	if err != nil {
		return "", err
	}
	resp, err := c.deps.HTTP.Do(ctx, c.request(body, false))
	if err != nil {
		return "", err
	}
	return parseMessage(resp)
}

func (c *Client) GenerateStream(ctx context.Context, prompt string, opts providers.Options, onChunk func(string)) error {
	body, err := c.buildPayload(prompt, providers.Resolve(c.cfg, opts), true)
	if err != nil {
		return err
	}
	resp, err := c.deps.HTTP.Open(ctx, c.request(body, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return providers.ConsumeStream(ctx, resp.Body, string(providers.Anthropic), c.deps, decodeEvent, onChunk)
}

func (c *Client) TestConnection(ctx context.Context) bool {
	return providers.ProbeConnection(ctx, c)
}

func (c *Client) request(body []byte, stream bool) httpx.Request {
	h := http.Header{}
	h.Set("x-api-key", c.cfg.APIKey)
	h.Set("anthropic-version", APIVersion)
	if stream {
		h.Set("Accept", "text/event-stream")
	}
	return httpx.Request{
		Provider: string(providers.Anthropic),
		Method:   http.MethodPost,
		URL:      providers.Endpoint(c.cfg.BaseURL, "/messages"),
		Header:   h,
		Body:     body,
	}
}

func (c *Client) buildPayload(prompt string, r providers.Resolved, stream bool) ([]byte, error) {
	payload := map[string]any{
		"model":       c.cfg.Model,
		"max_tokens":  r.MaxTokens,
		"temperature": r.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if len(r.Stop) > 0 {
		payload["stop_sequences"] = r.Stop
	}
	if stream {
		payload["stream"] = true
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal messages payload: %w", err)
	}
	return b, nil
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// decodeEvent reads the event type from the payload; the SSE event name is
// only a hint and is not required.
func decodeEvent(_ sse.Event, payload string) (string, bool, error) {
	var ev streamEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return "", false, fmt.Errorf("decode messages event: %w", err)
	}
	switch ev.Type {
	case "content_block_delta":
		if ev.Delta.Type == "" || ev.Delta.Type == "text_delta" {
			return ev.Delta.Text, false, nil
		}
		return "", false, nil
	case "message_stop":
		return "", true, nil
	case "error":
		msg := ev.Error.Message
		if msg == "" {
			msg = ev.Error.Type
		}
		return "", false, &providers.StreamError{Provider: string(providers.Anthropic), Message: msg}
	default:
		return "", false, nil
	}
}

func parseMessage(body []byte) (string, error) {
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode messages response: %w", err)
	}
	parts := make([]string, 0, len(resp.Content))
	for _, c := range resp.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, ""), nil
}
