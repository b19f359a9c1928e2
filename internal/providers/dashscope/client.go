package dashscope

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
	DefaultBaseURL = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"
	DefaultModel   = "qwen-max"
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

func (c *Client) Name() string { return "通义千问" }

func (c *Client) Generate(ctx context.Context, prompt string, opts providers.Options) (string, error) {
	body, err := c.buildPayload(prompt, providers.Resolve(c.cfg, opts), false)
	if err != nil {
		return "", err
	}
	resp, err := c.deps.HTTP.Do(ctx, c.request(body, false))
	if err != nil {
		return "", err
	}
	var r response
	if err := json.Unmarshal(resp, &r); err != nil {
		return "", fmt.Errorf("decode generation response: %w", err)
	}
	if r.Code != "" && r.Output.Text == "" && len(r.Output.Choices) == 0 {
		return "", fmt.Errorf("dashscope error %s: %s", r.Code, r.Message)
	}
	return r.text(), nil
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
	return providers.ConsumeStream(ctx, resp.Body, string(providers.Qwen), c.deps, decodeChunk, onChunk)
}

func (c *Client) TestConnection(ctx context.Context) bool {
	return providers.ProbeConnection(ctx, c)
}

func (c *Client) request(body []byte, stream bool) httpx.Request {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if stream {
		h.Set("X-DashScope-SSE", "enable")
		h.Set("Accept", "text/event-stream")
	}
	return httpx.Request{
		Provider: string(providers.Qwen),
		Method:   http.MethodPost,
		URL:      strings.TrimSpace(c.cfg.BaseURL),
		Header:   h,
		Body:     body,
	}
}

func (c *Client) buildPayload(prompt string, r providers.Resolved, stream bool) ([]byte, error) {
	params := map[string]any{
		"max_tokens":  r.MaxTokens,
		"temperature": r.Temperature,
	}
	if len(r.Stop) > 0 {
		params["stop"] = r.Stop
	}
	if stream {
		// Without incremental_output every frame repeats the whole text so far.
		params["incremental_output"] = true
	}
	b, err := json.Marshal(map[string]any{
		"model":      c.cfg.Model,
		"input":      map[string]any{"prompt": prompt},
		"parameters": params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generation payload: %w", err)
	}
	return b, nil
}

type response struct {
	Output struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
		Choices      []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r response) text() string {
	if r.Output.Text != "" {
		return r.Output.Text
	}
	if len(r.Output.Choices) > 0 {
		return r.Output.Choices[0].Message.Content
	}
	return ""
}

func (r response) finished() bool {
	if r.Output.FinishReason == "stop" || r.Output.FinishReason == "length" {
		return true
	}
	return len(r.Output.Choices) > 0 && (r.Output.Choices[0].FinishReason == "stop" || r.Output.Choices[0].FinishReason == "length")
}

func decodeChunk(ev sse.Event, payload string) (string, bool, error) {
	var r response
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return "", false, fmt.Errorf("decode generation chunk: %w", err)
	}
	if ev.Name == "error" || (r.Code != "" && r.text() == "") {
		msg := r.Message
		if msg == "" {
			msg = r.Code
		}
		return "", false, &providers.StreamError{Provider: string(providers.Qwen), Message: msg}
	}
	return r.text(), r.finished(), nil
}
