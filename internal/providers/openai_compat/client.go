package openai_compat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"inkwell/internal/httpx"
	"inkwell/internal/providers"
	"inkwell/internal/sse"
)

type preset struct {
	name    string
	baseURL string
	model   string
}

var presets = map[providers.ServiceType]preset{
	providers.OpenAI:   {name: "OpenAI", baseURL: "https://api.openai.com/v1", model: "gpt-3.5-turbo"},
	providers.Doubao:   {name: "豆包", baseURL: "https://ark.cn-beijing.volces.com/api/v3", model: "ep-20240127144401-nc25k"},
	providers.DeepSeek: {name: "DeepSeek", baseURL: "https://api.deepseek.com/v1", model: "deepseek-chat"},
}

// Supports reports whether t speaks the chat completions protocol.
func Supports(t providers.ServiceType) bool {
	_, ok := presets[t]
	return ok
}

type Client struct {
	cfg    providers.Config
	name   string
	vendor string
	deps   providers.Deps
}

func New(cfg providers.Config, deps providers.Deps) *Client {
	p, ok := presets[cfg.ServiceType]
	if !ok {
		p = presets[providers.OpenAI]
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = p.baseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = p.model
	}
	vendor := string(cfg.ServiceType)
	if vendor == "" {
		vendor = string(providers.OpenAI)
	}
	return &Client{cfg: cfg, name: p.name, vendor: vendor, deps: deps.WithDefaults()}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Name() string { return c.name }

func (c *Client) Generate(ctx context.Context, prompt string, opts providers.Options) (string, error) {
	body, err := c.buildPayload(prompt, providers.Resolve(c.cfg, opts), false)
	if err != nil {
		return "", err
	}
	resp, err := c.deps.HTTP.Do(ctx, c.request(body, false))
	if err != nil {
		return "", err
	}
	return parseChatCompletions(resp)
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
	return providers.ConsumeStream(ctx, resp.Body, c.vendor, c.deps, c.decodeChunk, onChunk)
}

func (c *Client) TestConnection(ctx context.Context) bool {
	return providers.ProbeConnection(ctx, c)
}

func (c *Client) endpointURL() string {
	return providers.Endpoint(c.cfg.BaseURL, "/chat/completions")
}

func (c *Client) request(body []byte, stream bool) httpx.Request {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if stream {
		h.Set("Accept", "text/event-stream")
	}
	return httpx.Request{
		Provider: c.vendor,
		Method:   http.MethodPost,
		URL:      c.endpointURL(),
		Header:   h,
		Body:     body,
	}
}

func (c *Client) buildPayload(prompt string, r providers.Resolved, stream bool) ([]byte, error) {
	payload := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens":  r.MaxTokens,
		"temperature": r.Temperature,
	}
	if len(r.Stop) > 0 {
		payload["stop"] = r.Stop
	}
	if stream {
		payload["stream"] = true
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, nil
}

type chunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *Client) decodeChunk(_ sse.Event, payload string) (string, bool, error) {
	if e := gjson.Get(payload, "error"); e.Exists() {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.String()
		}
		return "", false, &providers.StreamError{Provider: c.vendor, Message: msg}
	}
	var ch chunk
	if err := json.Unmarshal([]byte(payload), &ch); err != nil {
		return "", false, fmt.Errorf("decode chat completion chunk: %w", err)
	}
	if len(ch.Choices) == 0 || ch.Choices[0].Delta.Content == nil {
		return "", false, nil
	}
	return *ch.Choices[0].Delta.Content, false, nil
}

func parseChatCompletions(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices in chat completion response")
	}
	if resp.Choices[0].Text != "" {
		return resp.Choices[0].Text, nil
	}
	if content := anyToText(resp.Choices[0].Message.Content); strings.TrimSpace(content) != "" {
		return content, nil
	}
	return "", fmt.Errorf("%w: missing message content in chat completion response", providers.ErrEmptyResponse)
}

func anyToText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if txt, ok := m["text"].(string); ok {
					parts = append(parts, txt)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
