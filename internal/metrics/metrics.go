package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ProviderRequests    *prometheus.CounterVec
	ProviderRetries     *prometheus.CounterVec
	StreamChunks        *prometheus.CounterVec
	StreamFramesSkipped *prometheus.CounterVec
	AssistSessions      *prometheus.CounterVec
	ChapterSaves        *prometheus.CounterVec
	RateLimited         prometheus.Counter
	Notifications       *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

// Global returns the process-wide metrics registered on the default registry.
func Global() *Metrics {
	once.Do(func() {
		global = New(prometheus.DefaultRegisterer)
	})
	return global
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "provider_requests_total",
			Help:      "Provider HTTP requests by outcome",
		}, []string{"provider", "outcome"}),
		ProviderRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "provider_retries_total",
			Help:      "Provider requests retried after a transient failure",
		}, []string{"provider"}),
		StreamChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "stream_chunks_total",
			Help:      "Non-empty text deltas delivered from provider streams",
		}, []string{"provider"}),
		StreamFramesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "stream_frames_skipped_total",
			Help:      "Stream frames dropped because they could not be decoded",
		}, []string{"provider"}),
		AssistSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "assist_sessions_total",
			Help:      "AI assist sessions by mode and terminal state",
		}, []string{"mode", "outcome"}),
		ChapterSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "chapter_saves_total",
			Help:      "Chapter saves by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "assist_rate_limited_total",
			Help:      "AI actions rejected by the usage limiter",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "notifications_total",
			Help:      "Notifications shown by severity",
		}, []string{"severity"}),
	}
	reg.MustRegister(
		m.ProviderRequests,
		m.ProviderRetries,
		m.StreamChunks,
		m.StreamFramesSkipped,
		m.AssistSessions,
		m.ChapterSaves,
		m.RateLimited,
		m.Notifications,
	)
	return m
}
