package gemini

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
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1"
	DefaultModel   = "gemini-pro"
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

func (c *Client) Name() string { return "Google Gemini" }

func (c *Client) Generate(ctx context.Context, prompt string, opts providers.Options) (string, error) {
	body, err := c.buildPayload(prompt, providers.Resolve(c.cfg, opts))
	if err != nil {
		return "", err
	}
	resp, err := c.deps.HTTP.Do(ctx, c.request(c.generateURL(), body))
	if err != nil {
		return "", err
	}
	var r response
	if err := json.Unmarshal(resp, &r); err != nil {
		return "", fmt.Errorf("decode generate content response: %w", err)
	}
	if r.Error != nil {
		return "", fmt.Errorf("gemini error: %s", r.Error.Message)
	}
	return r.text(), nil
}

func (c *Client) GenerateStream(ctx context.Context, prompt string, opts providers.Options, onChunk func(string)) error {
	body, err := c.buildPayload(prompt, providers.Resolve(c.cfg, opts))
	if err != nil {
		return err
	}
	resp, err := c.deps.HTTP.Open(ctx, c.request(c.streamURL(), body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return providers.ConsumeStream(ctx, resp.Body, string(providers.Gemini), c.deps, decodeChunk, onChunk)
}

func (c *Client) TestConnection(ctx context.Context) bool {
	return providers.ProbeConnection(ctx, c)
}

func (c *Client) generateURL() string {
	return providers.Endpoint(c.cfg.BaseURL, "/models/"+c.cfg.Model+":generateContent")
}

// streamURL derives the streaming method from the one-shot URL so a full
// override keeps working for both calls.
func (c *Client) streamURL() string {
	u := strings.TrimSuffix(c.generateURL(), ":generateContent") + ":streamGenerateContent"
	return u + "?alt=sse"
}

func (c *Client) request(url string, body []byte) httpx.Request {
	h := http.Header{}
	h.Set("x-goog-api-key", c.cfg.APIKey)
	return httpx.Request{
		Provider: string(providers.Gemini),
		Method:   http.MethodPost,
		URL:      url,
		Header:   h,
		Body:     body,
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

func (c *Client) buildPayload(prompt string, r providers.Resolved) ([]byte, error) {
	gen := map[string]any{
		"maxOutputTokens": r.MaxTokens,
		"temperature":     r.Temperature,
	}
	if len(r.Stop) > 0 {
		gen["stopSequences"] = r.Stop
	}
	b, err := json.Marshal(map[string]any{
		"contents":         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		"generationConfig": gen,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate content payload: %w", err)
	}
	return b, nil
}

type response struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r response) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func decodeChunk(_ sse.Event, payload string) (string, bool, error) {
	var r response
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return "", false, fmt.Errorf("decode generate content chunk: %w", err)
	}
	if r.Error != nil {
		return "", false, &providers.StreamError{Provider: string(providers.Gemini), Message: r.Error.Message}
	}
	return r.text(), false, nil
}
