package custom_http

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

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(providers.Config{ServiceType: providers.Custom, APIKey: "x"}, testDeps())
	require.ErrorIs(t, err, providers.ErrInvalidConfig)
}

func TestDefaultBodyIsValidJSON(t *testing.T) {
	c, err := New(providers.Config{ServiceType: providers.Custom, APIKey: "x", BaseURL: "http://local", Model: "m"}, testDeps())
	require.NoError(t, err)
	body, err := c.renderBody("say \"hi\"\n", providers.Resolved{MaxTokens: 10, Temperature: 0.5, Stop: []string{"##"}}, true)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload), "rendered body is not json:\n%s", body)
	assert.Equal(t, "m", payload["model"])
	assert.Equal(t, true, payload["stream"])
}

func TestExtractText(t *testing.T) {
	cases := map[string]string{
		`{"choices":[{"message":{"content":"a"}}]}`: "a",
		`{"output":{"text":"b"}}`:                   "b",
		`{"response":"c"}`:                          "c",
		`{'text': 'd'}`:                             "d",
		`"e"`:                                       "e",
	}
	for in, want := range cases {
		got, err := extractText([]byte(in))
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := extractText([]byte(`{"unrelated":1}`))
	require.Error(t, err, "no text field exists")
}

func TestHeaderTemplatesAndStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, "data: {\"delta\":{\"text\":\"x\"}}\n\ndata: oops\n\ndata: {\"content\":\"y\"}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	c, err := New(providers.Config{
		ServiceType: providers.Custom,
		APIKey:      "secret",
		BaseURL:     srv.URL,
		Headers:     map[string]string{"X-Token": "{{api_key}}"},
	}, testDeps())
	require.NoError(t, err)

	var got string
	require.NoError(t, c.GenerateStream(context.Background(), "p", providers.Options{}, func(s string) { got += s }))
	assert.Equal(t, "xy", got)
}
