// Package editor holds the chapter text buffer and everything that writes to
// it: user edits, formatting macros and AI streams.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"inkwell/internal/assist"
	"inkwell/internal/httpx"
	"inkwell/internal/metrics"
	"inkwell/internal/notify"
	"inkwell/internal/ratelimit"
)

const (
	DefaultAutosaveDelay  = 30 * time.Second
	DefaultPrecedingChars = 2000
	DefaultFollowingChars = 500
)

var (
	ErrEmptySelection = errors.New("selection is empty")
	ErrRateLimited    = errors.New("AI usage limit reached")
	ErrUnknownMode    = errors.New("unknown AI mode")
)

type SaveStatus string

const (
	Saved   SaveStatus = "saved"
	Saving  SaveStatus = "saving"
	Unsaved SaveStatus = "unsaved"
)

type DocumentStore interface {
	SaveChapter(ctx context.Context, chapterID, content string) error
}

type Notifier interface {
	Notify(sev notify.Severity, message string, d time.Duration) string
}

type Limiter interface {
	Allow(ctx context.Context, scope string, now time.Time) (ratelimit.Decision, error)
}

type Config struct {
	NovelID   string
	ChapterID string
	Title     string
	Content   string

	Store     DocumentStore
	Assistant assist.Assistant
	Notifier  Notifier
	// Limiter is optional. LimitScope defaults to the novel id.
	Limiter    Limiter
	LimitScope string

	// AutosaveDelay < 0 disables autosave.
	AutosaveDelay  time.Duration
	PrecedingChars int
	FollowingChars int

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

type Status struct {
	State       State      `json:"state"`
	LastOutcome State      `json:"lastOutcome"`
	Generating  bool       `json:"generating"`
	Session     *Session   `json:"session,omitempty"`
	SaveStatus  SaveStatus `json:"saveStatus"`
	LastSaved   *time.Time `json:"lastSaved,omitempty"`
	WordCount   int        `json:"wordCount"`
	CharCount   int        `json:"charCount"`
	Cursor      int        `json:"cursor"`
	Selection   Range      `json:"selection"`
}

type Editor struct {
	cfg    Config
	log    zerolog.Logger
	buf    *Buffer
	engine *Engine

	mu         sync.Mutex
	saveStatus SaveStatus
	lastSaved  *time.Time
	savedAt    uint64
	autosave   *time.Timer
	closed     bool
}

func New(cfg Config) *Editor {
	if cfg.AutosaveDelay == 0 {
		cfg.AutosaveDelay = DefaultAutosaveDelay
	}
	if cfg.PrecedingChars <= 0 {
		cfg.PrecedingChars = DefaultPrecedingChars
	}
	if cfg.FollowingChars <= 0 {
		cfg.FollowingChars = DefaultFollowingChars
	}
	if cfg.LimitScope == "" {
		cfg.LimitScope = cfg.NovelID
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	buf := NewBuffer(cfg.Content)
	return &Editor{
		cfg:        cfg,
		log:        cfg.Logger.With().Str("chapter_id", cfg.ChapterID).Logger(),
		buf:        buf,
		engine:     NewEngine(buf),
		saveStatus: Saved,
		savedAt:    buf.Version(),
	}
}

func (e *Editor) Content() string { return e.buf.String() }

// SetContent replaces the whole text, as when the user types.
func (e *Editor) SetContent(text string) {
	e.buf.Set(text)
	e.changed()
}

func (e *Editor) SetSelection(start, end int) {
	e.buf.Select(start, end)
}

// InsertFormatting wraps the selection (or a placeholder) in the markup for
// kind and puts the caret after it.
func (e *Editor) InsertFormatting(kind string) error {
	e.buf.mu.Lock()
	sel := e.buf.selection
	markup, err := applyFormat(kind, string(e.buf.text[sel.Start:sel.End]))
	if err != nil {
		e.buf.mu.Unlock()
		return err
	}
	e.buf.replaceSelectionLocked(markup)
	e.buf.mu.Unlock()
	e.changed()
	return nil
}

// HandleAIAction runs mode to completion. The returned error is nil for a
// completed session.
func (e *Editor) HandleAIAction(ctx context.Context, mode assist.Mode) error {
	done, err := e.StartAIAction(ctx, mode)
	if err != nil {
		return err
	}
	return <-done
}

// StartAIAction validates and claims the engine synchronously, then streams
// in the background. ctx bounds the stream, so callers that outlive it
// should pass a detached context.
func (e *Editor) StartAIAction(ctx context.Context, mode assist.Mode) (<-chan error, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w %q", ErrUnknownMode, mode)
	}
	if err := e.engine.Acquire(); err != nil {
		return nil, err
	}
	started := false
	defer func() {
		if !started {
			e.engine.Release()
		}
	}()

	if mode.NeedsSelection() {
		if _, _, sel := e.buf.Snapshot(); sel.Empty() {
			e.notify(notify.Info, "请先选择需要"+verb(mode)+"的文本", 0)
			return nil, ErrEmptySelection
		}
	}
	if c, ok := e.cfg.Assistant.(assist.Checker); ok {
		if err := c.Ready(ctx); err != nil {
			e.fail(mode, err)
			return nil, err
		}
	}
	if err := e.checkLimit(ctx, mode); err != nil {
		return nil, err
	}

	s, req, err := e.prepare(mode)
	if err != nil {
		e.notify(notify.Info, "请先选择需要"+verb(mode)+"的文本", 0)
		return nil, err
	}
	started = true
	log := e.log.With().Str("session_id", s.ID).Str("mode", string(mode)).Logger()
	log.Info().Int("anchor", s.Anchor).Msg("ai action started")

	done := make(chan error, 1)
	go func() {
		done <- e.run(ctx, log, s, req)
		close(done)
	}()
	return done, nil
}

func (e *Editor) checkLimit(ctx context.Context, mode assist.Mode) error {
	if e.cfg.Limiter == nil {
		return nil
	}
	d, err := e.cfg.Limiter.Allow(ctx, e.cfg.LimitScope, e.cfg.Now())
	if err != nil {
		e.log.Warn().Err(err).Msg("usage limiter unavailable, allowing action")
		return nil
	}
	if d.Allowed {
		return nil
	}
	e.cfg.Metrics.RateLimited.Inc()
	e.cfg.Metrics.AssistSessions.WithLabelValues(string(mode), "rate_limited").Inc()
	e.log.Info().Int64("used", d.Used).Time("reset_at", d.ResetAt).Msg("ai action rate limited")
	e.notify(notify.Warning, fmt.Sprintf("AI使用次数已达上限，请在%s后重试", d.ResetAt.Format("15:04")), 4*time.Second)
	return ErrRateLimited
}

// prepare captures the anchor and context for mode and applies the edits
// that precede the request, all under one buffer lock. Continue anchors at
// the selection start, which is the caret when nothing is selected.
func (e *Editor) prepare(mode assist.Mode) (*Session, assist.Request, error) {
	req := assist.Request{
		Mode:      mode,
		NovelID:   e.cfg.NovelID,
		ChapterID: e.cfg.ChapterID,
		Title:     e.cfg.Title,
	}
	var s *Session

	b := e.buf
	b.mu.Lock()
	switch mode {
	case assist.Continue:
		at := b.selection.Start
		req.PrecedingText = string(b.text[max(0, at-e.cfg.PrecedingChars):at])
		req.FollowingText = string(b.text[at:min(len(b.text), at+e.cfg.FollowingChars)])
		s = newSession(mode, at, nil)
	case assist.Generate:
		if n := len(b.text); n > 0 && b.text[n-1] != '\n' {
			b.insertLocked(n, "\n\n")
		}
		n := len(b.text)
		req.PrecedingText = string(b.text[max(0, n-e.cfg.PrecedingChars):])
		s = newSession(mode, n, nil)
	default:
		sel := b.selection
		if sel.Empty() {
			b.mu.Unlock()
			return nil, req, ErrEmptySelection
		}
		req.Content = string(b.text[sel.Start:sel.End])
		b.deleteLocked(sel)
		b.cursor = sel.Start
		b.selection = Range{Start: sel.Start, End: sel.Start}
		s = newSession(mode, sel.Start, &sel)
	}
	b.mu.Unlock()

	if mode != assist.Continue {
		e.changed()
	}
	return s, req, nil
}

func (e *Editor) run(ctx context.Context, log zerolog.Logger, s *Session, req assist.Request) error {
	state, err := e.engine.Run(ctx, s, e.cfg.Assistant, req, e.changed)

	end := s.InsertionPoint()
	e.buf.Select(end, end)
	e.engine.Finish()
	e.cfg.Metrics.AssistSessions.WithLabelValues(string(s.Mode), string(state)).Inc()

	switch state {
	case Completed:
		log.Info().Int("consumed", s.Consumed).Msg("ai action completed")
		e.notify(notify.Success, label(s.Mode)+"完成", 3*time.Second)
		return nil
	case Cancelled:
		log.Info().Int("consumed", s.Consumed).Msg("ai action cancelled")
		e.notify(notify.Info, "已停止"+label(s.Mode), 3*time.Second)
		return httpx.ErrCanceled
	default:
		log.Error().Err(err).Int("consumed", s.Consumed).Msg("ai action failed")
		e.fail(s.Mode, err)
		return err
	}
}

func (e *Editor) fail(mode assist.Mode, err error) {
	e.notify(notify.Error, fmt.Sprintf("%s失败: %s", label(mode), userMessage(err)), 4*time.Second)
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, httpx.ErrTimeout):
		return "请求超时"
	case errors.Is(err, httpx.ErrCanceled):
		return "请求已取消"
	case errors.Is(err, assist.ErrNotConfigured):
		return "请先在设置中配置AI服务"
	}
	return err.Error()
}

func label(mode assist.Mode) string {
	switch mode {
	case assist.Continue:
		return "AI续写"
	case assist.Generate:
		return "AI生成"
	case assist.Improve:
		return "AI润色"
	}
	return "AI扩展"
}

func verb(mode assist.Mode) string {
	if mode == assist.Improve {
		return "润色"
	}
	return "扩展"
}

// Cancel stops a running AI action; it reports whether one was running.
func (e *Editor) Cancel() bool {
	return e.engine.Cancel()
}

// Save persists the current text. Saving while a stream runs stores what has
// been spliced so far.
func (e *Editor) Save(ctx context.Context) error {
	err := e.save(ctx, "manual")
	if err != nil {
		e.notify(notify.Error, "保存失败，请稍后重试", 4*time.Second)
		return err
	}
	e.notify(notify.Success, "章节内容已成功保存", 3*time.Second)
	return nil
}

func (e *Editor) save(ctx context.Context, trigger string) error {
	text := e.buf.String()
	version := e.buf.Version()

	e.mu.Lock()
	e.saveStatus = Saving
	e.mu.Unlock()

	err := e.cfg.Store.SaveChapter(ctx, e.cfg.ChapterID, text)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.saveStatus = Unsaved
		e.cfg.Metrics.ChapterSaves.WithLabelValues(trigger, "error").Inc()
		e.log.Error().Err(err).Str("trigger", trigger).Msg("save chapter")
		return err
	}
	now := e.cfg.Now()
	e.lastSaved = &now
	if version > e.savedAt {
		e.savedAt = version
	}
	if e.buf.Version() == e.savedAt {
		e.saveStatus = Saved
	} else {
		e.saveStatus = Unsaved
	}
	e.cfg.Metrics.ChapterSaves.WithLabelValues(trigger, "ok").Inc()
	e.log.Debug().Str("trigger", trigger).Int("chars", countChars(text)).Msg("chapter saved")
	return nil
}

func (e *Editor) autosaveNow() {
	if strings.TrimSpace(e.buf.String()) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.save(ctx, "auto"); err != nil {
		e.notify(notify.Error, "自动保存失败，请手动保存", 4*time.Second)
		return
	}
	e.notify(notify.Success, "内容已自动保存", 2*time.Second)
}

// changed marks the text dirty and restarts the autosave timer.
func (e *Editor) changed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.saveStatus = Unsaved
	if e.cfg.AutosaveDelay < 0 {
		return
	}
	if e.autosave != nil {
		e.autosave.Stop()
	}
	e.autosave = time.AfterFunc(e.cfg.AutosaveDelay, e.autosaveNow)
}

func (e *Editor) Status() Status {
	text, cursor, sel := e.buf.Snapshot()
	st := Status{
		State:       e.engine.State(),
		LastOutcome: e.engine.LastOutcome(),
		Session:     e.engine.Session(),
		WordCount:   countWords(text),
		CharCount:   utf8.RuneCountInString(text),
		Cursor:      cursor,
		Selection:   sel,
	}
	st.Generating = st.State != Idle

	e.mu.Lock()
	st.SaveStatus = e.saveStatus
	if e.lastSaved != nil {
		t := *e.lastSaved
		st.LastSaved = &t
	}
	e.mu.Unlock()
	return st
}

// Close stops autosave and cancels a running stream.
func (e *Editor) Close() {
	e.mu.Lock()
	e.closed = true
	if e.autosave != nil {
		e.autosave.Stop()
	}
	e.mu.Unlock()
	e.engine.Cancel()
}

func (e *Editor) notify(sev notify.Severity, msg string, d time.Duration) {
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.Notify(sev, msg, d)
	}
}
