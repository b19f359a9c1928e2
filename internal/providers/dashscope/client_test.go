package dashscope

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/internal/httpx"
	"inkwell/internal/metrics"
	"inkwell/internal/providers"
)

func testDeps() providers.Deps {
	m := metrics.New(prometheus.NewRegistry())
	return providers.Deps{
		Metrics: m,
		HTTP:    httpx.New(httpx.Config{BackoffBase: time.Millisecond, Metrics: m}),
	}
}

func TestGenerateStreamIncremental(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "enable", r.Header.Get("X-DashScope-SSE"))
		var body struct {
			Input struct {
				Prompt string `json:"prompt"`
			} `json:"input"`
			Parameters map[string]any `json:"parameters"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "写一首诗", body.Input.Prompt)
		assert.Equal(t, true, body.Parameters["incremental_output"])
		_, _ = io.WriteString(w, "id:1\nevent:result\ndata:{\"output\":{\"text\":\"床前\",\"finish_reason\":\"null\"}}\n\n"+
			"id:2\nevent:result\ndata:{\"output\":{\"text\":\"明月光\",\"finish_reason\":\"stop\"}}\n\n"+
			"id:3\nevent:result\ndata:{\"output\":{\"text\":\"ignored\"}}\n\n")
	}))
	defer srv.Close()

	c := New(providers.Config{ServiceType: providers.Qwen, APIKey: "sk-q", BaseURL: srv.URL}, testDeps())
	var got string
	require.NoError(t, c.GenerateStream(context.Background(), "写一首诗", providers.Options{}, func(s string) { got += s }))
	assert.Equal(t, "床前明月光", got)
}

func TestGenerateReadsChoicesFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-q", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"output":{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}}`)
	}))
	defer srv.Close()

	c := New(providers.Config{ServiceType: providers.Qwen, APIKey: "sk-q", BaseURL: srv.URL}, testDeps())
	out, err := c.Generate(context.Background(), "hi", providers.Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestStreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "event:error\ndata:{\"code\":\"InvalidApiKey\",\"message\":\"Invalid API-key provided.\"}\n\n")
	}))
	defer srv.Close()

	c := New(providers.Config{ServiceType: providers.Qwen, APIKey: "sk-q", BaseURL: srv.URL}, testDeps())
	err := c.GenerateStream(context.Background(), "hi", providers.Options{}, func(string) {})
	var serr *providers.StreamError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "Invalid API-key provided.", serr.Message)
	assert.Equal(t, "通义千问", c.Name())
}
