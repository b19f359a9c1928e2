package assist

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"inkwell/internal/httpx"
	"inkwell/internal/metrics"
	"inkwell/internal/providers"
)

type staticConfig struct {
	cfg *providers.Config
	err error
}

func (s staticConfig) GetConfig(context.Context) (*providers.Config, error) { return s.cfg, s.err }

func testDeps() providers.Deps {
	m := metrics.New(prometheus.NewRegistry())
	return providers.Deps{Metrics: m, HTTP: httpx.New(httpx.Config{BackoffBase: time.Millisecond, Metrics: m})}
}

func TestDirectNotConfigured(t *testing.T) {
	d := NewDirect(DirectConfig{Credentials: staticConfig{}, Deps: testDeps()})
	err := d.Stream(context.Background(), Request{Mode: Continue}, func(string) {})
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = d.Probe(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)

	require.ErrorIs(t, d.Ready(context.Background()), ErrNotConfigured)

	ready := NewDirect(DirectConfig{Credentials: staticConfig{cfg: &providers.Config{ServiceType: providers.OpenAI, APIKey: "sk-x"}}, Deps: testDeps()})
	require.NoError(t, ready.Ready(context.Background()))
}

func TestDirectStorageFailure(t *testing.T) {
	d := NewDirect(DirectConfig{Credentials: staticConfig{err: errors.New("disk gone")}, Deps: testDeps()})
	err := d.Stream(context.Background(), Request{Mode: Continue}, func(string) {})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotConfigured)
}

func TestDirectStreamsFromConfiguredVendor(t *testing.T) {
	prompts := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		prompts <- string(b)
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	cfg := &providers.Config{ServiceType: providers.DeepSeek, APIKey: "sk-x", BaseURL: srv.URL}
	d := NewDirect(DirectConfig{Credentials: staticConfig{cfg: cfg}, Deps: testDeps(), Style: "冷峻"})

	var got strings.Builder
	err := d.Stream(context.Background(), Request{Mode: Improve, Title: "长夜", Content: "他走了。"}, func(s string) { got.WriteString(s) })
	require.NoError(t, err)
	require.Equal(t, "Hello", got.String())

	body := <-prompts
	require.Contains(t, body, "他走了。")
	require.Contains(t, body, "冷峻")
}

func TestModes(t *testing.T) {
	require.True(t, Continue.Valid())
	require.False(t, Mode("rewrite").Valid())
	require.True(t, Expand.NeedsSelection())
	require.False(t, Generate.NeedsSelection())
}
