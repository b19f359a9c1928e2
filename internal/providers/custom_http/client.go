package custom_http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"

	"inkwell/internal/httpx"
	"inkwell/internal/providers"
	"inkwell/internal/sse"
)

// The default body is chat-completions shaped, which most self-hosted
// gateways accept.
const defaultBodyTemplate = `{"model":{{json .Model}},"messages":[{"role":"user","content":{{json .Prompt}}}],"max_tokens":{{.MaxTokens}},"temperature":{{.Temperature}}{{if .Stop}},"stop":{{json .Stop}}{{end}}{{if .Stream}},"stream":true{{end}}}`

var (
	textPaths  = []string{"choices.0.message.content", "choices.0.text", "output_text", "output.text", "text", "response", "answer", "content", "output.0.content.0.text"}
	deltaPaths = []string{"choices.0.delta.content", "choices.0.text", "delta.text", "output.text", "content", "text", "response"}
)

type Client struct {
	cfg  providers.Config
	tpl  *template.Template
	deps providers.Deps
}

func New(cfg providers.Config, deps providers.Deps) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: custom service needs a base url", providers.ErrInvalidConfig)
	}
	src := cfg.BodyTemplate
	if strings.TrimSpace(src) == "" {
		src = defaultBodyTemplate
	}
	tpl, err := template.New("custom_http_body").
		Option("missingkey=zero").
		Funcs(template.FuncMap{"json": toJSON}).
		Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: parse body template: %v", providers.ErrInvalidConfig, err)
	}
	return &Client{cfg: cfg, tpl: tpl, deps: deps.WithDefaults()}, nil
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Name() string { return "自定义服务" }

func (c *Client) Generate(ctx context.Context, prompt string, opts providers.Options) (string, error) {
	body, err := c.renderBody(prompt, providers.Resolve(c.cfg, opts), false)
	if err != nil {
		return "", err
	}
	resp, err := c.deps.HTTP.Do(ctx, c.request(body))
	if err != nil {
		return "", err
	}
	return extractText(resp)
}

func (c *Client) GenerateStream(ctx context.Context, prompt string, opts providers.Options, onChunk func(string)) error {
	body, err := c.renderBody(prompt, providers.Resolve(c.cfg, opts), true)
	if err != nil {
		return err
	}
	resp, err := c.deps.HTTP.Open(ctx, c.request(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return providers.ConsumeStream(ctx, resp.Body, string(providers.Custom), c.deps, decodeChunk, onChunk)
}

func (c *Client) TestConnection(ctx context.Context) bool {
	return providers.ProbeConnection(ctx, c)
}

func (c *Client) renderBody(prompt string, r providers.Resolved, stream bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.tpl.Execute(&buf, map[string]any{
		"Model":       c.cfg.Model,
		"Prompt":      prompt,
		"MaxTokens":   r.MaxTokens,
		"Temperature": r.Temperature,
		"Stop":        r.Stop,
		"Stream":      stream,
		"APIKey":      c.cfg.APIKey,
	}); err != nil {
		return nil, fmt.Errorf("execute body template: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Client) request(body []byte) httpx.Request {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if len(c.cfg.Headers) == 0 {
		h.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		h.Set(k, strings.ReplaceAll(v, "{{api_key}}", c.cfg.APIKey))
	}
	return httpx.Request{
		Provider: string(providers.Custom),
		Method:   http.MethodPost,
		URL:      strings.TrimSpace(c.cfg.BaseURL),
		Header:   h,
		Body:     body,
	}
}

func extractText(body []byte) (string, error) {
	raw := string(body)
	if !gjson.Valid(raw) {
		repaired, err := jsonrepair.JSONRepair(raw)
		if err != nil || !gjson.Valid(repaired) {
			if trimmed := strings.TrimSpace(raw); trimmed != "" {
				return trimmed, nil
			}
			return "", fmt.Errorf("custom response is empty")
		}
		raw = repaired
	}
	if r := gjson.Parse(raw); r.Type == gjson.String {
		return r.String(), nil
	}
	for _, p := range textPaths {
		if v := gjson.Get(raw, p); v.Type == gjson.String {
			return v.String(), nil
		}
	}
	return "", fmt.Errorf("custom response does not contain text field")
}

func decodeChunk(_ sse.Event, payload string) (string, bool, error) {
	if !gjson.Valid(payload) {
		return "", false, fmt.Errorf("custom stream frame is not json")
	}
	if e := gjson.Get(payload, "error"); e.Exists() && e.Type != gjson.Null {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.String()
		}
		return "", false, &providers.StreamError{Provider: string(providers.Custom), Message: msg}
	}
	for _, p := range deltaPaths {
		if v := gjson.Get(payload, p); v.Type == gjson.String {
			return v.String(), false, nil
		}
	}
	return "", false, nil
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
