// Package server exposes the chapter editors, notifications and AI settings
// over a small local HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"inkwell/internal/assist"
	"inkwell/internal/backend"
	"inkwell/internal/credentials"
	"inkwell/internal/editor"
	"inkwell/internal/metrics"
	"inkwell/internal/notify"
)

type ChapterLoader interface {
	LoadChapter(ctx context.Context, chapterID string) (backend.Chapter, error)
}

type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

type EditorOptions struct {
	AutosaveDelay  time.Duration
	PrecedingChars int
	FollowingChars int
}

type Config struct {
	Chapters      ChapterLoader
	Store         editor.DocumentStore
	Assistant     assist.Assistant
	Credentials   *credentials.Store
	Prober        Prober
	Notifications *notify.Center
	// Limiter is optional.
	Limiter editor.Limiter
	Editor  EditorOptions

	HealthPath  string
	MetricsPath string
	// Gatherer defaults to the prometheus default registry.
	Gatherer prometheus.Gatherer

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

type Server struct {
	cfg Config
	mux *http.ServeMux

	mu      sync.Mutex
	editors map[string]*editor.Editor
}

func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux(), editors: make(map[string]*editor.Editor)}
	s.routes()
	return s
}

func (s *Server) routes() {
	if s.cfg.HealthPath != "" {
		s.mux.HandleFunc("GET "+s.cfg.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	if s.cfg.MetricsPath != "" {
		if s.cfg.Gatherer != nil {
			s.mux.Handle("GET "+s.cfg.MetricsPath, promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
		} else {
			s.mux.Handle("GET "+s.cfg.MetricsPath, promhttp.Handler())
		}
	}

	s.mux.HandleFunc("GET /api/chapters/{id}/content", s.chapter(s.getContent))
	s.mux.HandleFunc("PUT /api/chapters/{id}/content", s.chapter(s.putContent))
	s.mux.HandleFunc("PUT /api/chapters/{id}/selection", s.chapter(s.putSelection))
	s.mux.HandleFunc("POST /api/chapters/{id}/format/{kind}", s.chapter(s.format))
	s.mux.HandleFunc("POST /api/chapters/{id}/ai/{mode}", s.chapter(s.startAI))
	s.mux.HandleFunc("POST /api/chapters/{id}/ai/cancel", s.chapter(s.cancelAI))
	s.mux.HandleFunc("POST /api/chapters/{id}/save", s.chapter(s.save))
	s.mux.HandleFunc("GET /api/chapters/{id}/status", s.chapter(s.status))
	s.mux.HandleFunc("GET /api/chapters/{id}/preview", s.chapter(s.preview))

	s.mux.HandleFunc("GET /api/notifications", s.listNotifications)
	s.mux.HandleFunc("DELETE /api/notifications/{nid}", s.dismissNotification)

	s.mux.HandleFunc("GET /api/settings/ai", s.getSettings)
	s.mux.HandleFunc("PUT /api/settings/ai", s.putSettings)
	s.mux.HandleFunc("PATCH /api/settings/ai", s.patchSettings)
	s.mux.HandleFunc("DELETE /api/settings/ai", s.deleteSettings)
	s.mux.HandleFunc("POST /api/settings/ai/test", s.testSettings)
	s.mux.HandleFunc("GET /api/settings/ai/services", s.services)
}

func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// Close stops every open editor.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.editors {
		e.Close()
		delete(s.editors, id)
	}
}

// editorFor returns the open editor for id, loading the chapter on first use.
func (s *Server) editorFor(ctx context.Context, id string) (*editor.Editor, error) {
	s.mu.Lock()
	if e, ok := s.editors[id]; ok {
		s.mu.Unlock()
		return e, nil
	}
	s.mu.Unlock()

	ch, err := s.cfg.Chapters.LoadChapter(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.editors[id]; ok {
		return e, nil
	}
	e := editor.New(editor.Config{
		NovelID:        strconv.FormatInt(ch.NovelID, 10),
		ChapterID:      id,
		Title:          ch.Title,
		Content:        ch.Content,
		Store:          s.cfg.Store,
		Assistant:      s.cfg.Assistant,
		Notifier:       s.cfg.Notifications,
		Limiter:        s.cfg.Limiter,
		AutosaveDelay:  s.cfg.Editor.AutosaveDelay,
		PrecedingChars: s.cfg.Editor.PrecedingChars,
		FollowingChars: s.cfg.Editor.FollowingChars,
		Metrics:        s.cfg.Metrics,
		Logger:         s.cfg.Logger,
	})
	s.editors[id] = e
	s.cfg.Logger.Info().Str("chapter_id", id).Int64("novel_id", ch.NovelID).Msg("chapter opened")
	return e, nil
}

type chapterHandler func(w http.ResponseWriter, r *http.Request, e *editor.Editor)

func (s *Server) chapter(h chapterHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := s.editorFor(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeError(w, upstreamStatus(err), err)
			return
		}
		h(w, r, e)
	}
}

func upstreamStatus(err error) int {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr):
		if apiErr.Status == http.StatusNotFound {
			return http.StatusNotFound
		}
	}
	return http.StatusBadGateway
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.cfg.Logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.cfg.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
