package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"inkwell/internal/assist"
	"inkwell/internal/backend"
	"inkwell/internal/backend/backendtest"
	"inkwell/internal/credentials"
	"inkwell/internal/editor"
	"inkwell/internal/httpx"
	"inkwell/internal/metrics"
	"inkwell/internal/notify"
	"inkwell/internal/providers"
	"inkwell/internal/server"
	"inkwell/internal/storage"
)

type env struct {
	api    *httptest.Server
	fake   *backendtest.Fake
	center *notify.Center
}

func newEnv(t *testing.T, opts backendtest.Options) *env {
	t.Helper()
	opts.Token = "tok"
	fake := backendtest.New(opts)
	fake.PutChapter(backend.Chapter{ID: 12, NovelID: 3, Title: "第一章", Content: "Hello world", Order: 1, Status: "draft"})
	upstream := httptest.NewServer(fake)
	t.Cleanup(upstream.Close)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	deps := providers.Deps{Metrics: m, HTTP: httpx.New(httpx.Config{BackoffBase: time.Millisecond, Metrics: m})}
	client := backend.New(backend.Config{BaseURL: upstream.URL + "/api/v1", Token: "tok", Deps: deps})
	creds := credentials.New(credentials.Config{Storage: storage.NewMemoryStore()})
	center := notify.NewCenter(notify.Config{Metrics: m})
	t.Cleanup(center.Close)

	srv := server.New(server.Config{
		Chapters:      client,
		Store:         client,
		Assistant:     client,
		Credentials:   creds,
		Prober:        assist.NewDirect(assist.DirectConfig{Credentials: creds, Deps: deps}),
		Notifications: center,
		Editor:        server.EditorOptions{AutosaveDelay: -1},
		HealthPath:    "/healthz",
		MetricsPath:   "/metrics",
		Gatherer:      reg,
		Metrics:       m,
	})
	t.Cleanup(srv.Close)
	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)
	return &env{api: api, fake: fake, center: center}
}

func (e *env) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.api.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (e *env) status(t *testing.T) editor.Status {
	t.Helper()
	code, body := e.do(t, http.MethodGet, "/api/chapters/12/status", nil)
	require.Equal(t, http.StatusOK, code)
	var st editor.Status
	require.NoError(t, json.Unmarshal(body, &st))
	return st
}

func TestChapterLifecycle(t *testing.T) {
	e := newEnv(t, backendtest.Options{Chunks: []string{","}})

	code, body := e.do(t, http.MethodGet, "/api/chapters/12/content", nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"content":"Hello world"}`, string(body))

	code, _ = e.do(t, http.MethodPut, "/api/chapters/12/selection", editor.Range{Start: 5, End: 5})
	require.Equal(t, http.StatusOK, code)

	code, _ = e.do(t, http.MethodPost, "/api/chapters/12/ai/continue", nil)
	require.Equal(t, http.StatusAccepted, code)
	require.Eventually(t, func() bool {
		st := e.status(t)
		return !st.Generating && st.LastOutcome == editor.Completed
	}, 2*time.Second, 10*time.Millisecond)

	code, body = e.do(t, http.MethodGet, "/api/chapters/12/content", nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"content":"Hello, world"}`, string(body))

	code, _ = e.do(t, http.MethodPost, "/api/chapters/12/save", nil)
	require.Equal(t, http.StatusOK, code)
	ch, _ := e.fake.Chapter("12")
	require.Equal(t, "Hello, world", ch.Content)
	require.Equal(t, editor.Saved, e.status(t).SaveStatus)

	code, body = e.do(t, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, code)
	var notes []notify.Notification
	require.NoError(t, json.Unmarshal(body, &notes))
	require.Len(t, notes, 2)
	require.Equal(t, "章节内容已成功保存", notes[1].Message)

	code, _ = e.do(t, http.MethodDelete, "/api/notifications/"+notes[0].ID, nil)
	require.Equal(t, http.StatusNoContent, code)
	code, _ = e.do(t, http.MethodDelete, "/api/notifications/"+notes[0].ID, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestEditingEndpoints(t *testing.T) {
	e := newEnv(t, backendtest.Options{Chunks: []string{"x"}})

	code, _ := e.do(t, http.MethodPut, "/api/chapters/12/content", map[string]string{"content": "标题"})
	require.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, http.MethodPut, "/api/chapters/12/content", map[string]int{"words": 1})
	require.Equal(t, http.StatusBadRequest, code)

	e.do(t, http.MethodPut, "/api/chapters/12/selection", editor.Range{Start: 0, End: 2})
	code, _ = e.do(t, http.MethodPost, "/api/chapters/12/format/h1", nil)
	require.Equal(t, http.StatusOK, code)
	_, body := e.do(t, http.MethodGet, "/api/chapters/12/content", nil)
	require.JSONEq(t, `{"content":"# 标题"}`, string(body))

	code, _ = e.do(t, http.MethodPost, "/api/chapters/12/format/marquee", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = e.do(t, http.MethodGet, "/api/chapters/12/preview", nil)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), "<h1>标题</h1>")

	code, _ = e.do(t, http.MethodPost, "/api/chapters/12/ai/improve", nil)
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodPost, "/api/chapters/12/ai/translate", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodGet, "/api/chapters/404/content", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestBusyAndCancel(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	e := newEnv(t, backendtest.Options{Chunks: []string{"x"}, Hold: hold})

	code, _ := e.do(t, http.MethodPost, "/api/chapters/12/ai/generate", nil)
	require.Equal(t, http.StatusAccepted, code)
	code, _ = e.do(t, http.MethodPost, "/api/chapters/12/ai/continue", nil)
	require.Equal(t, http.StatusConflict, code)

	code, body := e.do(t, http.MethodPost, "/api/chapters/12/ai/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"cancelled":true}`, string(body))

	require.Eventually(t, func() bool {
		st := e.status(t)
		return !st.Generating && st.LastOutcome == editor.Cancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSettings(t *testing.T) {
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	}))
	defer vendor.Close()
	e := newEnv(t, backendtest.Options{})

	code, body := e.do(t, http.MethodGet, "/api/settings/ai", nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"configured":false}`, string(body))

	code, _ = e.do(t, http.MethodPost, "/api/settings/ai/test", nil)
	require.Equal(t, http.StatusPreconditionFailed, code)

	code, _ = e.do(t, http.MethodPut, "/api/settings/ai", map[string]string{"serviceType": "openai", "apiKey": "bad"})
	require.Equal(t, http.StatusBadRequest, code)

	code, body = e.do(t, http.MethodPut, "/api/settings/ai", map[string]string{
		"serviceType": "deepseek",
		"apiKey":      "sk-abcdefghijwxyz",
		"baseUrl":     vendor.URL,
	})
	require.Equal(t, http.StatusOK, code)
	var view struct {
		Configured bool                `json:"configured"`
		Config     credentials.Summary `json:"config"`
	}
	require.NoError(t, json.Unmarshal(body, &view))
	require.True(t, view.Configured)
	require.Equal(t, "sk-a…wxyz", view.Config.APIKey)

	code, body = e.do(t, http.MethodPatch, "/api/settings/ai", map[string]string{"model": "deepseek-reasoner"})
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), `"model":"deepseek-reasoner"`)

	code, body = e.do(t, http.MethodPost, "/api/settings/ai/test", nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"ok":true}`, string(body))

	code, _ = e.do(t, http.MethodDelete, "/api/settings/ai", nil)
	require.Equal(t, http.StatusNoContent, code)
	code, _ = e.do(t, http.MethodPatch, "/api/settings/ai", map[string]string{"model": "x"})
	require.Equal(t, http.StatusNotFound, code)

	code, body = e.do(t, http.MethodGet, "/api/settings/ai/services", nil)
	require.Equal(t, http.StatusOK, code)
	var services []map[string]string
	require.NoError(t, json.Unmarshal(body, &services))
	require.Len(t, services, len(providers.AllServiceTypes))
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, backendtest.Options{})
	code, body := e.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", string(body))

	e.center.Notify(notify.Info, "hello", time.Minute)
	code, body = e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), "inkwell_notifications_total")
}

func TestUnauthorizedBackend(t *testing.T) {
	fake := backendtest.New(backendtest.Options{Token: "right"})
	upstream := httptest.NewServer(fake)
	defer upstream.Close()
	client := backend.New(backend.Config{BaseURL: upstream.URL + "/api/v1", Token: "wrong"})
	center := notify.NewCenter(notify.Config{Metrics: metrics.New(prometheus.NewRegistry())})
	defer center.Close()
	srv := server.New(server.Config{Chapters: client, Store: client, Assistant: client, Notifications: center, Metrics: metrics.New(prometheus.NewRegistry())})
	defer srv.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequestWithContext(context.Background(), http.MethodGet, "/api/chapters/1/content", nil)
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
