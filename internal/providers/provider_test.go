package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/internal/metrics"
	"inkwell/internal/sse"
)

func TestResolvePrecedence(t *testing.T) {
	r := Resolve(Config{}, Options{})
	assert.Equal(t, DefaultMaxTokens, r.MaxTokens)
	assert.Equal(t, DefaultTemperature, r.Temperature)

	cfg := Config{MaxTokens: Ptr(200), Temperature: Ptr(0.0)}
	r = Resolve(cfg, Options{})
	assert.Equal(t, 200, r.MaxTokens)
	assert.Equal(t, 0.0, r.Temperature, "a zero temperature in config still overrides the default")

	r = Resolve(cfg, Options{MaxTokens: Ptr(1), Temperature: Ptr(1.5)})
	assert.Equal(t, 1, r.MaxTokens)
	assert.Equal(t, 1.5, r.Temperature)
}

func TestEndpoint(t *testing.T) {
	cases := []struct{ base, want string }{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"https://gw.local/v1/chat/completions", "https://gw.local/v1/chat/completions"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Endpoint(c.base, "/chat/completions"), c.base)
	}
}

type stub struct {
	err   error
	panic bool
}

func (s stub) Generate(context.Context, string, Options) (string, error) {
	if s.panic {
		panic("boom")
	}
	return "", s.err
}
func (stub) GenerateStream(context.Context, string, Options, func(string)) error { return nil }
func (stub) TestConnection(context.Context) bool                                 { return false }
func (stub) Name() string                                                        { return "stub" }

func TestProbeConnection(t *testing.T) {
	assert.False(t, ProbeConnection(context.Background(), stub{panic: true}), "panics count as failure")
	assert.False(t, ProbeConnection(context.Background(), stub{err: errors.New("dial tcp: refused")}))
	assert.True(t, ProbeConnection(context.Background(), stub{err: fmt.Errorf("%w: no text", ErrEmptyResponse)}))
	assert.True(t, ProbeConnection(context.Background(), stub{}))
}

func TestConsumeStream(t *testing.T) {
	deps := Deps{Metrics: metrics.New(prometheus.NewRegistry())}
	decode := func(_ sse.Event, payload string) (string, bool, error) {
		switch {
		case payload == "bad":
			return "", false, errors.New("undecodable")
		case payload == "fail":
			return "", false, &StreamError{Provider: "t", Message: "boom"}
		case strings.HasPrefix(payload, "last:"):
			return strings.TrimPrefix(payload, "last:"), true, nil
		}
		return payload, false, nil
	}

	var got []string
	body := "data: a\n\ndata: bad\n\ndata: b\ndata: last:c\n\ndata: d\n\n"
	require.NoError(t, ConsumeStream(context.Background(), strings.NewReader(body), "t", deps, decode, func(s string) { got = append(got, s) }))
	assert.Equal(t, "abc", strings.Join(got, ""))

	err := ConsumeStream(context.Background(), strings.NewReader("data: fail\n\n"), "t", deps, decode, func(string) {})
	var serr *StreamError
	require.ErrorAs(t, err, &serr)
}
