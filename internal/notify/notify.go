// Package notify keeps the toast notifications shown to the user.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inkwell/internal/metrics"
)

type Severity string

const (
	Success Severity = "success"
	Error   Severity = "error"
	Warning Severity = "warning"
	Info    Severity = "info"
)

const DefaultDuration = 5 * time.Second

type Notification struct {
	ID        string        `json:"id"`
	Severity  Severity      `json:"severity"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"createdAt"`
}

type Config struct {
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Center holds live notifications; each one is removed after its duration
// or when dismissed.
type Center struct {
	cfg Config

	mu     sync.Mutex
	items  []Notification
	timers map[string]*time.Timer
}

func NewCenter(cfg Config) *Center {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	return &Center{cfg: cfg, timers: make(map[string]*time.Timer)}
}

// Notify adds a notification. A non-positive duration means DefaultDuration.
func (c *Center) Notify(sev Severity, message string, d time.Duration) string {
	if d <= 0 {
		d = DefaultDuration
	}
	n := Notification{
		ID:        uuid.NewString(),
		Severity:  sev,
		Message:   message,
		Duration:  d,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	c.items = append(c.items, n)
	c.timers[n.ID] = time.AfterFunc(d, func() { c.Dismiss(n.ID) })
	c.mu.Unlock()

	c.cfg.Metrics.Notifications.WithLabelValues(string(sev)).Inc()
	c.cfg.Logger.Debug().Str("severity", string(sev)).Str("notification_id", n.ID).Msg(message)
	return n.ID
}

func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	for i, n := range c.items {
		if n.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// List returns live notifications, oldest first.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.items...)
}

func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.items = nil
}
